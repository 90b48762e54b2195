// notifier subscribes to the configured broker destinations and serves the
// connection status and latest update over HTTP.
//
// Usage: go run ./cmd/notifier --config configs/notifier.example.yaml
//
// With auth.source=postgres the token can be seeded from the command line:
//
//	go run ./cmd/notifier --config ... --save-token "$TOKEN" --token-ttl 24h
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/liveupdates/internal/auth"
	"github.com/rickgao/liveupdates/internal/config"
	"github.com/rickgao/liveupdates/internal/database"
	"github.com/rickgao/liveupdates/internal/logging"
	"github.com/rickgao/liveupdates/internal/model"
	"github.com/rickgao/liveupdates/internal/realtime"
	"github.com/rickgao/liveupdates/internal/status"
	"github.com/rickgao/liveupdates/internal/subscription"
	"github.com/rickgao/liveupdates/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/notifier.example.yaml", "path to config file")
	saveToken := flag.String("save-token", "", "store this token for auth.user and exit (postgres source only)")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of a token stored with --save-token")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "config", *configPath)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("instance_id", cfg.Instance.ID)
	slog.SetDefault(logger)

	logger.Info("starting notifier", version.Attr(), "config", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *saveToken != "" {
		if err := storeToken(ctx, cfg, *saveToken, *tokenTTL, logger); err != nil {
			logger.Error("failed to store token", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("notifier failed", "error", err)
		os.Exit(1)
	}
	logger.Info("notifier stopped")
}

func run(ctx context.Context, cfg *config.NotifierConfig, logger *slog.Logger) error {
	tokens, closeTokens, err := newTokenSource(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeTokens()

	svc := realtime.New(realtime.Config{
		Client:   cfg.ClientConfig(),
		Manager:  cfg.ManagerConfig(),
		FeedSize: cfg.Updates.BufferSize,
	},
		realtime.WithLogger(logger),
		realtime.WithTokenSource(tokens),
		realtime.WithConnectHandler(func() {
			logger.Info("broker connected", "url", cfg.Broker.URL)
		}),
		realtime.WithErrorHandler(func(err error) {
			logger.Warn("broker error", "error", err)
		}),
	)

	for _, dest := range cfg.Subscriptions {
		svc.Subscribe(dest, logUpdate(logger, dest))
	}
	logger.Info("subscriptions registered", "destinations", cfg.Subscriptions)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Status.Port > 0 {
		newCallback := func(dest string) subscription.Callback { return logUpdate(logger, dest) }
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Status.Port),
			Handler:           status.NewHandler(svc, cfg.Instance.ID, newCallback, logger.With("component", "status")),
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info("starting status server", "port", cfg.Status.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start realtime service: %w", err)
		}
		<-ctx.Done()

		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return svc.Stop(shutdownCtx)
	})

	g.Go(func() error {
		reportStats(ctx, svc, logger)
		return nil
	})

	return g.Wait()
}

// newTokenSource builds the bearer token source selected by auth.source. The
// returned func releases its resources.
func newTokenSource(ctx context.Context, cfg *config.NotifierConfig, logger *slog.Logger) (auth.TokenSource, func(), error) {
	noop := func() {}

	switch cfg.Auth.Source {
	case config.AuthFile:
		logger.Info("reading token from file", "path", cfg.Auth.TokenFile)
		return auth.FileToken{Path: cfg.Auth.TokenFile}, noop, nil
	case config.AuthEnv:
		logger.Info("reading token from environment", "variable", cfg.Auth.TokenEnv)
		return auth.EnvToken(cfg.Auth.TokenEnv), noop, nil
	case config.AuthPostgres:
		logger.Info("connecting to credential store",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("connect credential store: %w", err)
		}
		return database.NewTokenStore(pool, cfg.Auth.User), pool.Close, nil
	default:
		logger.Info("connecting anonymously")
		return nil, noop, nil
	}
}

// storeToken seeds the postgres credential store.
func storeToken(ctx context.Context, cfg *config.NotifierConfig, token string, ttl time.Duration, logger *slog.Logger) error {
	if cfg.Auth.Source != config.AuthPostgres {
		return fmt.Errorf("--save-token needs auth.source %q, got %q", config.AuthPostgres, cfg.Auth.Source)
	}

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect credential store: %w", err)
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := database.NewTokenStore(pool, cfg.Auth.User).Save(ctx, token, now, now.Add(ttl)); err != nil {
		return err
	}

	logger.Info("token stored", "user", cfg.Auth.User, "expires_at", now.Add(ttl))
	return nil
}

func logUpdate(logger *slog.Logger, destination string) subscription.Callback {
	return func(u model.Update) {
		logger.Info("update",
			"destination", destination,
			"kind", string(u.Kind),
			"timestamp", u.Timestamp,
			"payload_size", len(u.Payload),
		)
	}
}

func reportStats(ctx context.Context, svc *realtime.Service, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := svc.Stats()
			logger.Info("stats",
				"state", s.State,
				"reconnect_attempts", s.ReconnectAttempts,
				"exhausted", s.Exhausted,
				"destinations", s.Subscriptions.Destinations,
				"live", s.Subscriptions.Live,
				"received", s.Dispatch.Received,
				"dispatched", s.Dispatch.Dispatched,
				"parse_errors", s.Dispatch.ParseErrors,
				"feed_dropped", s.Feed.Dropped,
			)
		}
	}
}
