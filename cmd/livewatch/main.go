// livewatch connects to the CCWAP live feed and streams accepted events to
// the console, optionally archiving them to PostgreSQL.
// Usage: go run ./cmd/livewatch --config configs/livewatch.yaml
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ccwap/livefeed/internal/archive"
	"github.com/ccwap/livefeed/internal/config"
	"github.com/ccwap/livefeed/internal/connection"
	"github.com/ccwap/livefeed/internal/database"
	"github.com/ccwap/livefeed/internal/feed"
	"github.com/ccwap/livefeed/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/livewatch.yaml", "path to config file")
	feedURL := flag.String("url", "", "feed URL override")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *feedURL != "" {
		cfg.Feed.URL = *feedURL
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting livewatch",
		"version", version.Version,
		"commit", version.Commit,
		"feed_url", cfg.Feed.URL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Optional archive writer
	var writer *archive.Writer
	var archiveInput chan feed.Event
	if cfg.Archive.Enabled {
		logger.Info("connecting to archive database",
			"host", cfg.Archive.Database.Host,
			"port", cfg.Archive.Database.Port,
			"database", cfg.Archive.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Archive.Database)
		if err != nil {
			logger.Error("failed to connect to archive database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		archiveInput = make(chan feed.Event, cfg.Archive.Buffer)
		writer = archive.NewWriter(archive.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
		}, archiveInput, pool, logger.With("component", "archive"))

		if err := writer.Start(ctx); err != nil {
			logger.Error("failed to start archive writer", "error", err)
			os.Exit(1)
		}
	}

	// Create and start the live connection manager
	dialer := connection.NewWebsocketDialer(connection.DialConfig{
		HandshakeTimeout: cfg.Feed.HandshakeTimeout,
		WriteTimeout:     cfg.Feed.WriteTimeout,
	}, logger)

	mgr := connection.NewManager(cfg.Feed.URL, connection.DefaultManagerConfig(), dialer, logger)
	if err := mgr.Start(); err != nil {
		logger.Error("failed to start live feed", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Tail accepted events
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-mgr.Updates():
				if !ok {
					return nil
				}
				printEvent(logger, ev, *verbose)
				if archiveInput != nil {
					select {
					case archiveInput <- ev:
					default:
						logger.Warn("archive buffer full, dropping event", "type", ev.Type)
					}
				}
			}
		}
	})

	// Periodic status report
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				stats := mgr.Stats()
				logger.Info("feed status",
					"state", stats.State,
					"retries", stats.Retries,
					"accepted", stats.Accepted,
					"malformed", stats.Malformed,
					"dropped", stats.Dropped,
				)
			}
		}
	})

	<-ctx.Done()

	if err := mgr.Stop(); err != nil {
		logger.Warn("feed shutdown", "error", err)
	}
	if writer != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := writer.Stop(stopCtx); err != nil {
			logger.Warn("archive shutdown", "error", err)
		}
	}

	g.Wait()
	logger.Info("livewatch stopped")
}

// printEvent writes one accepted event to the log.
func printEvent(logger *slog.Logger, ev feed.Event, verbose bool) {
	if verbose {
		logger.Info("event",
			"type", ev.Type,
			"received_at", ev.ReceivedAt.Format(time.RFC3339Nano),
			"payload", string(ev.Raw),
		)
		return
	}
	logger.Info("event",
		"type", ev.Type,
		"received_at", ev.ReceivedAt.Format(time.RFC3339Nano),
	)
}

// logLevel maps a config string to a slog level.
func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
