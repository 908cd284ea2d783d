package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/gitjhb/luna-sub003/internal/config"
	"github.com/gitjhb/luna-sub003/internal/remote"
	"github.com/gitjhb/luna-sub003/internal/repository"
	"github.com/gitjhb/luna-sub003/internal/service"
)

// app reúne las piezas que comparten los subcomandos.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	client    *remote.HTTPClient
	cache     *service.MessageCache
	directory *service.SessionDirectory
	chat      *service.ChatService
	closers   []func()
}

func newApp(ctx context.Context, cfg *config.Config, profile Profile, logger *zap.Logger, reg prometheus.Registerer) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{cfg: cfg, logger: logger}

	stores, err := repository.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, stores.Close)

	lookup := service.NewMemorySessionCache(cfg.SessionCacheTTL)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, using in-memory session cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rdb.Close()
		} else {
			lookup = service.NewRedisSessionCache(rdb, cfg.SessionCacheTTL)
			a.closers = append(a.closers, func() { _ = rdb.Close() })
		}
	}

	a.client = remote.NewHTTPClient(apiBaseURL(cfg, profile), remote.StaticToken(apiToken(cfg, profile)), logger)
	a.cache = service.NewMessageCache(stores.Messages, a.client, service.CacheOptions{
		PageSize:    cfg.CachePageSize,
		DedupWindow: cfg.CacheDedupWindow,
	}, logger, service.NewCacheMetrics(reg))
	a.directory = service.NewSessionDirectory(stores.Sessions, a.client, lookup, a.cache, logger)
	a.chat = service.NewChatService(a.cache, a.client, a.directory, logger)

	if cfg.SnapshotPath != "" {
		snap, ok, err := service.LoadSnapshot(cfg.SnapshotPath)
		switch {
		case err != nil:
			logger.Warn("snapshot ignored", zap.String("path", cfg.SnapshotPath), zap.Error(err))
		case ok:
			if err := a.cache.Restore(snap); err != nil {
				logger.Warn("snapshot ignored", zap.String("path", cfg.SnapshotPath), zap.Error(err))
			}
		}
	}
	return a, nil
}

// Close espera la reconciliación pendiente, guarda el snapshot y libera recursos.
func (a *app) Close() {
	a.cache.Wait()
	if a.cfg.SnapshotPath != "" {
		if err := service.SaveSnapshot(a.cfg.SnapshotPath, a.cache.Snapshot()); err != nil {
			a.logger.Warn("save snapshot", zap.String("path", a.cfg.SnapshotPath), zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// API_BASE_URL explícito gana sobre el perfil.
func apiBaseURL(cfg *config.Config, profile Profile) string {
	if _, set := os.LookupEnv("API_BASE_URL"); !set && profile.APIBaseURL != "" {
		return profile.APIBaseURL
	}
	return cfg.APIBaseURL
}

func apiToken(cfg *config.Config, profile Profile) string {
	if cfg.APIToken != "" {
		return cfg.APIToken
	}
	return profile.Token
}

func describeError(err error) string {
	var status *remote.StatusError
	switch {
	case errors.Is(err, remote.ErrTokenExpired):
		return "el token expiró, ejecuta 'cli_chat login' de nuevo"
	case errors.Is(err, remote.ErrRemoteNotConfigured):
		return "API no configurada"
	case errors.As(err, &status):
		return fmt.Sprintf("la API respondió %d", status.StatusCode)
	default:
		return err.Error()
	}
}
