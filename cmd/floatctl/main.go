package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/floatctl/internal/api"
	"github.com/MikeSquared-Agency/floatctl/internal/config"
	"github.com/MikeSquared-Agency/floatctl/internal/hermes"
	"github.com/MikeSquared-Agency/floatctl/internal/processor"
	"github.com/MikeSquared-Agency/floatctl/internal/store"
	"github.com/MikeSquared-Agency/floatctl/internal/stream"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg := config.Load()
	// ndjson may write records to stdout, so its logs go to stderr.
	logOut := os.Stdout
	if os.Args[1] == "ndjson" {
		logOut = os.Stderr
	}
	setupLogging(cfg.LogLevel, logOut)

	var err error
	switch cmd := os.Args[1]; cmd {
	case "ndjson":
		err = runNDJSON(cfg, os.Args[2:])
	case "ingest":
		err = runIngest(cfg, os.Args[2:])
	case "serve":
		err = runServe(cfg, os.Args[2:])
	case "migrate":
		err = runMigrate(cfg, os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, red("error:"), err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`floatctl <command> [args]

Commands:
  ndjson <export>   Convert a JSON array or NDJSON export into record NDJSON
  ingest            Ingest a directory of exports (resumable)
  serve             Run the capture API and NATS capture subscriber
  migrate up|down   Apply or roll back database migrations`)
}

func runServe(cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	port := flags.Int("port", cfg.Port, "HTTP listen port")
	autoMigrate := flags.Bool("migrate", true, "apply pending migrations on start")
	flags.Parse(args)

	slog.Info("floatctl starting", "port", *port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg, *autoMigrate)
	if err != nil {
		return err
	}
	defer b.close()

	proc := processor.New(b.sink(), b.publisher(), cfg.IngestSubject, slog.Default(),
		stream.WithMaxLineBytes(cfg.MaxLineBytes))

	if b.bus != nil {
		if err := b.bus.Subscribe(cfg.CaptureSubject, proc.HandleCaptureSubmit); err != nil {
			return fmt.Errorf("subscribe to capture submissions: %w", err)
		}
	}

	srv := api.NewServer(*port, cfg.APIToken, proc, cfg.MaxLineBytes, slog.Default())
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if b.bus != nil {
		if err := b.bus.Publish("float.agent.floatctl.registered", map[string]any{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"port":      *port,
			"capture":   cfg.CaptureSubject,
		}); err != nil {
			slog.Warn("failed to publish registration", "error", err)
		}
	}

	slog.Info("floatctl ready", "port", *port, "store", b.db != nil, "nats", b.bus != nil)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	slog.Info("floatctl stopped")
	return nil
}

// backends holds the optional persistence and event bus connections.
type backends struct {
	db  *store.Store
	bus *hermes.Client
}

// openBackends connects to Postgres and NATS when they are configured.
// Either may be absent; the capture pipeline then skips that step.
func openBackends(ctx context.Context, cfg config.Config, autoMigrate bool) (*backends, error) {
	b := &backends{}

	if cfg.DatabaseURL != "" {
		if autoMigrate {
			if err := store.Migrate(cfg.DatabaseURL, 0); err != nil {
				return nil, err
			}
		}
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.db = db
		slog.Info("database connected")
	} else {
		slog.Warn("DATABASE_URL not set, conversations will not be persisted")
	}

	if cfg.NatsURL != "" {
		client, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			b.close()
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		b.bus = client
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS_URL not set, ingest events will not be published")
	}

	return b, nil
}

func (b *backends) sink() processor.Sink {
	if b.db == nil {
		return nil
	}
	return b.db
}

func (b *backends) publisher() processor.Publisher {
	if b.bus == nil {
		return nil
	}
	return b.bus
}

func (b *backends) close() {
	if b.bus != nil {
		b.bus.Close()
	}
	if b.db != nil {
		b.db.Close()
	}
}

func setupLogging(level string, w io.Writer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
