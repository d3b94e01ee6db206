package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"eventcal/internal/api"
	"eventcal/internal/config"
	"eventcal/internal/google"
	"eventcal/internal/icloud"
	"eventcal/internal/service"
	"eventcal/internal/storage"
	"eventcal/internal/syncer"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "eventcal",
		Usage: "Personal event calendar with reminders and optional external calendar sync.",
		Commands: []*cli.Command{
			serveCommand(),
			authCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize access to Google Calendar and store the token.",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := setupLogger(cfg.LogLevel)
			logger.Info("Starting Google authentication flow.")

			client, err := newGoogleClient(logger, cfg, google.PromptAuthorizer{In: os.Stdin, Out: os.Stdout})
			if err != nil {
				return err
			}
			if err := client.Authorize(c.Context); err != nil {
				return fmt.Errorf("authorization failed: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", cfg.GoogleTokenFile)
			return nil
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address. Overrides SERVER_ADDR."},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if c.IsSet("addr") {
				cfg.ServerAddr = c.String("addr")
			}
			logger := setupLogger(cfg.LogLevel)

			store, err := storage.New(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("failed to open storage: %w", err)
			}
			defer store.Close()
			logger.Info("Storage ready.", "path", cfg.DatabasePath)

			provider, err := newProvider(c.Context, logger, cfg)
			if err != nil {
				return err
			}
			sync := syncer.NewSyncer(logger, provider, cfg.SyncTimeout)

			events := service.NewEventService(logger, store, sync, cfg.Timezone)
			users := service.NewUserService(store)
			server := api.NewServer(logger, events, users, store, api.Options{
				SyncEnabled:  sync.Enabled(),
				SyncProvider: sync.ProviderName(),
			})

			return run(c.Context, logger, cfg.ServerAddr, server.Handler())
		},
	}
}

// newProvider returns nil when sync is disabled.
func newProvider(ctx context.Context, logger *slog.Logger, cfg *config.Config) (syncer.Provider, error) {
	switch cfg.SyncProvider {
	case config.ProviderGoogle:
		client, err := newGoogleClient(logger, cfg, google.NonInteractive{})
		if err != nil {
			return nil, err
		}
		logger.Info("External sync enabled.", "provider", client.Name(), "calendarID", cfg.GoogleCalendarID)
		return client, nil

	case config.ProviderCalDAV:
		client, err := icloud.NewClient(ctx, logger, cfg.CalDAVEndpoint, cfg.CalDAVUsername, cfg.CalDAVPassword, cfg.CalDAVCalendarName)
		if err != nil {
			return nil, fmt.Errorf("failed to create caldav client: %w", err)
		}
		logger.Info("External sync enabled.", "provider", client.Name(), "calendar", cfg.CalDAVCalendarName)
		return client, nil

	default:
		logger.Info("External sync disabled.")
		return nil, nil
	}
}

func newGoogleClient(logger *slog.Logger, cfg *config.Config, authorizer google.Authorizer) (*google.CalendarClient, error) {
	oauthConfig, err := google.GetOAuthConfig(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to get google oauth config: %w", err)
	}
	return google.NewClient(logger, oauthConfig, google.FileTokenStore{Path: cfg.GoogleTokenFile}, authorizer, google.Options{
		CalendarID: cfg.GoogleCalendarID,
		TimeZone:   cfg.Timezone.String(),
	}), nil
}

// run serves until SIGINT or SIGTERM, then shuts down gracefully.
func run(ctx context.Context, logger *slog.Logger, addr string, handler http.Handler) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server.", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
