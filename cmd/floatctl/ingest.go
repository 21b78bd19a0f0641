package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MikeSquared-Agency/floatctl/internal/config"
	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
	"github.com/MikeSquared-Agency/floatctl/internal/ingest"
	"github.com/MikeSquared-Agency/floatctl/internal/processor"
	"github.com/MikeSquared-Agency/floatctl/internal/slack"
	"github.com/MikeSquared-Agency/floatctl/internal/stream"
)

func runIngest(cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("ingest", flag.ExitOnError)
	dir := flags.String("dir", ".", "directory to walk for .json, .jsonl and .ndjson exports")
	file := flags.String("file", "", "ingest a single export instead of -dir")
	out := flags.String("out", cfg.OutputDir, "directory for record files (default: next to each input)")
	since := flags.String("since", "", "only conversations created at or after this time (RFC3339 or YYYY-MM-DD)")
	until := flags.String("until", "", "only conversations created at or before this time (RFC3339 or YYYY-MM-DD)")
	dryRun := flags.Bool("dry-run", false, "parse and count only")
	workers := flags.Int("workers", cfg.Workers, "files ingested concurrently")
	onError := flags.String("on-error", cfg.OnError, "skip or abort on a failed conversation")
	statePath := flags.String("state", cfg.StatePath, "resumable state file")
	source := flags.String("source", "ingest", "source label stored with each conversation")
	autoMigrate := flags.Bool("migrate", true, "apply pending migrations before ingesting")
	flags.Parse(args)

	policy, err := ingest.ParseErrorPolicy(*onError)
	if err != nil {
		return err
	}
	sinceT, err := parseBound(*since, false)
	if err != nil {
		return fmt.Errorf("-since: %w", err)
	}
	untilT, err := parseBound(*until, true)
	if err != nil {
		return fmt.Errorf("-until: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var proc ingest.Capturer
	if !*dryRun {
		b, err := openBackends(ctx, cfg, *autoMigrate)
		if err != nil {
			return err
		}
		defer b.close()
		proc = processor.New(b.sink(), b.publisher(), cfg.IngestSubject, slog.Default(),
			stream.WithMaxLineBytes(cfg.MaxLineBytes))
	}

	var notify ingest.Notifier
	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		notify = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, slog.Default())
	}

	runner := ingest.NewRunner(ingest.Config{
		InputDir:     *dir,
		SingleFile:   *file,
		OutputDir:    *out,
		Since:        sinceT,
		Until:        untilT,
		DryRun:       *dryRun,
		Workers:      *workers,
		OnError:      policy,
		StatePath:    *statePath,
		Source:       *source,
		MaxLineBytes: cfg.MaxLineBytes,
	}, proc, notify, slog.Default())

	summary, runErr := runner.Run(ctx)
	if summary != nil {
		printIngestSummary(os.Stderr, summary, *statePath)
	}
	return runErr
}

// parseBound reads a -since/-until value. A bare date as an upper bound
// covers the whole day.
func parseBound(raw string, upper bool) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		if upper {
			return t.Add(24*time.Hour - time.Nanosecond), nil
		}
		return t, nil
	}
	return conversation.ParseTimestamp(raw)
}
