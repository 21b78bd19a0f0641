package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/MikeSquared-Agency/floatctl/internal/config"
	"github.com/MikeSquared-Agency/floatctl/internal/ingest"
	"github.com/MikeSquared-Agency/floatctl/internal/records"
	"github.com/MikeSquared-Agency/floatctl/internal/stats"
	"github.com/MikeSquared-Agency/floatctl/internal/stream"
)

// runNDJSON converts one export into the flattened record stream without
// touching the database or the bus.
func runNDJSON(cfg config.Config, args []string) error {
	flags := flag.NewFlagSet("ndjson", flag.ExitOnError)
	outPath := flags.String("o", "", "output file (default stdout)")
	onError := flags.String("on-error", cfg.OnError, "skip or abort on a failed conversation")
	showStats := flags.Bool("stats", false, "print a per-conversation summary to stderr")
	flags.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: floatctl ndjson [-o out.ndjson] [-on-error skip|abort] [-stats] <export>")
		flags.PrintDefaults()
	}
	flags.Parse(args)
	if flags.NArg() != 1 {
		flags.Usage()
		return errors.New("expected exactly one input path")
	}
	input := flags.Arg(0)

	policy, err := ingest.ParseErrorPolicy(*onError)
	if err != nil {
		return err
	}

	start := time.Now()
	cs, err := stream.OpenConversations(input, stream.WithMaxLineBytes(cfg.MaxLineBytes))
	if err != nil {
		return err
	}
	defer cs.Close()

	var out io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		out = f
	}
	w := records.NewWriter(out)

	converted, failed := 0, 0
	for conv, err := range cs.All() {
		if err != nil {
			failed++
			if policy == ingest.PolicyAbort {
				return err
			}
			slog.Warn("skipping conversation", "path", input, "error", err)
			continue
		}
		if err := w.Write(conv); err != nil {
			var encErr *records.EncodeError
			if !errors.As(err, &encErr) {
				return fmt.Errorf("write records: %w", err)
			}
			failed++
			if policy == ingest.PolicyAbort {
				return err
			}
			slog.Warn("skipping conversation", "path", input, "error", err)
			continue
		}
		converted++
		if *showStats {
			printSessionStats(os.Stderr, stats.Summarize(conv))
		}
	}

	printConversionSummary(os.Stderr, input, cs.Format().String(), converted, failed, w.Lines(), time.Since(start))
	return nil
}
