package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gitjhb/luna-sub003/internal/config"
	"github.com/gitjhb/luna-sub003/internal/remote"
)

var (
	profilePath string
	metricsAddr string
	verbose     bool
	userID      string
	participant string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "cli_chat",
	Short:         "Cliente de chat con caché local",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "ruta del perfil (default ~/.luna/profile.toml)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "expone /metrics en esta dirección")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "logs de desarrollo")

	loginCmd.Flags().StringVar(&userID, "user-id", "", "usuario para el que se pide el token")
	_ = loginCmd.MarkFlagRequired("user-id")
	chatCmd.Flags().StringVar(&participant, "participant", "", "personaje con el que chatear")
	_ = chatCmd.MarkFlagRequired("participant")

	rootCmd.AddCommand(loginCmd, sessionsCmd, chatCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Pide un token a la API y lo guarda en el perfil",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app, path string, profile Profile) error {
			token, err := a.client.RequestToken(ctx, userID)
			if err != nil {
				return errors.New(describeError(err))
			}
			profile.UserID = userID
			profile.Token = token
			profile.APIBaseURL = a.cfg.APIBaseURL
			if err := saveProfile(path, profile); err != nil {
				return err
			}
			if exp, ok := remote.TokenExpiry(token); ok {
				fmt.Printf("Sesión iniciada como %s (expira %s)\n", userID, exp.Local().Format(time.RFC3339))
			} else {
				fmt.Printf("Sesión iniciada como %s\n", userID)
			}
			return nil
		})
	},
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Lista las sesiones conocidas localmente",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app, _ string, _ Profile) error {
			sessions, err := a.directory.List(ctx, 20)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No hay sesiones guardadas.")
				return nil
			}
			for _, s := range sessions {
				fmt.Println(formatSession(s))
			}
			return nil
		})
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Abre una conversación interactiva",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app, _ string, _ Profile) error {
			return runChat(ctx, a, participant, os.Stdin, os.Stdout)
		})
	},
}

// withApp carga entorno, perfil y dependencias alrededor de un subcomando.
func withApp(parent context.Context, fn func(ctx context.Context, a *app, path string, profile Profile) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("warning: loading .env: %v", err)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	path := profilePath
	if path == "" {
		if path, err = defaultProfilePath(); err != nil {
			return err
		}
	}
	profile, err := loadProfile(path)
	if err != nil {
		return err
	}

	logger := zap.NewNop()
	if verbose {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	reg := prometheus.NewRegistry()
	if metricsAddr != "" {
		srv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server", zap.Error(err))
			}
		}()
		defer srv.Close()
	}

	a, err := newApp(ctx, cfg, profile, logger, reg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a, path, profile)
}

func runChat(ctx context.Context, a *app, participantID string, in io.Reader, out io.Writer) error {
	session, err := a.directory.Resolve(ctx, participantID)
	if err != nil {
		return errors.New(describeError(err))
	}
	fmt.Fprintf(out, "===== %s =====\n", sessionTitle(session))

	if _, err := a.cache.LoadFirstPage(ctx, session.ID); err != nil {
		fmt.Fprintf(out, "(historial local: %s)\n", describeError(err))
	}
	printHistory(out, reversed(a.cache.Messages(session.ID)))
	fmt.Fprintln(out, "Comandos: /older, /reload, /delete, salir")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "salir", "exit":
			return nil
		case "/older":
			cursor := a.cache.Cursor(session.ID)
			if cursor == "" {
				fmt.Fprintln(out, "No hay más historial")
				continue
			}
			page, err := a.cache.LoadOlderPage(ctx, session.ID, cursor)
			if err != nil {
				fmt.Fprintf(out, "error: %s\n", describeError(err))
				continue
			}
			printHistory(out, page.Messages)
		case "/reload":
			if _, err := a.cache.LoadFirstPage(ctx, session.ID); err != nil {
				fmt.Fprintf(out, "error: %s\n", describeError(err))
				continue
			}
			printHistory(out, reversed(a.cache.Messages(session.ID)))
		case "/delete":
			if err := a.directory.Delete(ctx, session); err != nil {
				fmt.Fprintf(out, "error: %s\n", describeError(err))
				continue
			}
			fmt.Fprintln(out, "Sesión borrada.")
			return nil
		default:
			res, err := a.chat.Send(ctx, session, line, sendOptions())
			if err != nil {
				fmt.Fprintf(out, "error: %s (mensaje marcado como fallido)\n", describeError(err))
				continue
			}
			session = res.Session
			fmt.Fprintln(out, formatMessage(res.Reply))
		}
	}
}
