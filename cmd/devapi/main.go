package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/gitjhb/luna-sub003/internal/config"
	apihttp "github.com/gitjhb/luna-sub003/internal/http"
	"github.com/gitjhb/luna-sub003/internal/repository"
	"github.com/gitjhb/luna-sub003/internal/service"
)

// devapi levanta una implementación local de la API de chat sobre el mismo
// store que usa el cliente. DEVAPI_STORE_PATH separa su base de la del cliente.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}
	if path := os.Getenv("DEVAPI_STORE_PATH"); path != "" {
		cfg.LocalStorePath = path
	} else if cfg.LocalStoreDriver == config.LocalStoreSQLite {
		cfg.LocalStorePath = "luna-devapi.db"
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	stores, err := repository.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("open store", zap.String("driver", cfg.LocalStoreDriver), zap.Error(err))
	}
	defer stores.Close()

	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured, using insecure dev secret")
		cfg.JWTSecret = "dev-secret"
	}
	jwtSvc := service.NewJWTService(cfg.JWTSecret, time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute)

	authHandler := apihttp.NewAuthHandler(logger, jwtSvc)
	chatHandler := apihttp.NewChatHandler(logger, stores.Sessions, stores.Messages, apihttp.EchoResponder{})
	router := apihttp.NewRouter(logger, jwtSvc, authHandler, chatHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("driver", cfg.LocalStoreDriver))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}
