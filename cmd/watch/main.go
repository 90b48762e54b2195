// watch connects to a Web-STOMP broker and prints every update received on
// the given destinations to stdout, one JSON document per line.
//
// Usage:
//
//	go run ./cmd/watch --url ws://localhost:15674/ws /topic/uploads /topic/images
//
// The bearer token is read from --token-file or the variable named by
// --token-env; without either the connection is anonymous.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/liveupdates/internal/auth"
	"github.com/rickgao/liveupdates/internal/config"
	"github.com/rickgao/liveupdates/internal/logging"
	"github.com/rickgao/liveupdates/internal/model"
	"github.com/rickgao/liveupdates/internal/realtime"
	"github.com/rickgao/liveupdates/internal/version"
)

// printed is one line of output.
type printed struct {
	Destination string       `json:"destination"`
	Update      model.Update `json:"update"`
}

func main() {
	url := flag.String("url", config.DefaultBrokerURL, "Web-STOMP endpoint")
	host := flag.String("host", config.DefaultBrokerHost, "STOMP virtual host")
	tokenFile := flag.String("token-file", "", "credential file holding the bearer token")
	tokenEnv := flag.String("token-env", "", "environment variable holding the bearer token")
	heartbeat := flag.Duration("heartbeat", config.DefaultHeartbeat, "heart-beat interval in both directions (0 disables)")
	maxAttempts := flag.Int("max-attempts", config.DefaultMaxReconnectAttempts, "reconnect attempts before giving up")
	baseDelay := flag.Duration("base-delay", config.DefaultReconnectBaseDelay, "linear reconnect backoff step")
	pretty := flag.Bool("pretty", false, "indent printed updates")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] destination...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	// Logs go to stderr so stdout carries only updates.
	logger := logging.NewWithWriter(config.LoggingConfig{Level: *logLevel, Format: "text"}, os.Stderr)

	destinations := flag.Args()
	if len(destinations) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	var tokens auth.TokenSource
	switch {
	case *tokenFile != "":
		tokens = auth.FileToken{Path: *tokenFile}
	case *tokenEnv != "":
		tokens = auth.EnvToken(*tokenEnv)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	cfg := realtime.DefaultConfig()
	cfg.Client.URL = *url
	cfg.Client.Host = *host
	cfg.Client.HeartbeatOutgoing = *heartbeat
	cfg.Client.HeartbeatIncoming = *heartbeat
	cfg.Manager.MaxReconnectAttempts = *maxAttempts
	cfg.Manager.ReconnectBaseDelay = *baseDelay

	svc := realtime.New(cfg,
		realtime.WithLogger(logger),
		realtime.WithTokenSource(tokens),
		realtime.WithConnectHandler(func() {
			logger.Info("connected", "url", *url, "destinations", destinations)
		}),
		realtime.WithErrorHandler(func(err error) {
			logger.Warn("connection error", "error", err)
		}),
	)

	// Pair each update with its destination for printing.
	lines := make(chan printed, cfg.FeedSize)
	for _, dest := range destinations {
		dest := strings.TrimSpace(dest)
		svc.Subscribe(dest, func(u model.Update) {
			select {
			case lines <- printed{Destination: dest, Update: u}:
			default:
				logger.Warn("output backlog full, dropping update", "destination", dest)
			}
		})
	}

	logger.Debug("starting watch", version.Attr())
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	go printLines(ctx, lines, *pretty, logger)

	// Exit once reconnects are exhausted
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s := svc.Stats(); s.Exhausted {
					logger.Error("giving up after reconnect attempts", "attempts", *maxAttempts)
					cancel()
					return
				}
			}
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}

	s := svc.Stats()
	logger.Info("watch stopped",
		"received", s.Dispatch.Received,
		"dispatched", s.Dispatch.Dispatched,
		"parse_errors", s.Dispatch.ParseErrors,
		"unknown_kinds", s.Dispatch.UnknownKinds,
	)
}

func printLines(ctx context.Context, lines <-chan printed, pretty bool, logger *slog.Logger) {
	enc := json.NewEncoder(os.Stdout)
	if pretty {
		enc.SetIndent("", "  ")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case line := <-lines:
			if err := enc.Encode(line); err != nil {
				logger.Warn("print update", "error", err)
			}
		}
	}
}
