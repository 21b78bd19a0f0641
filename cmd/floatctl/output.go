package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/MikeSquared-Agency/floatctl/internal/ingest"
	"github.com/MikeSquared-Agency/floatctl/internal/stats"
)

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
)

func printConversionSummary(w io.Writer, input, format string, converted, failed, lines int, elapsed time.Duration) {
	fmt.Fprintf(w, "\n%s %s [%s]\n", bold("=== Converted"), input, cyan(format))
	fmt.Fprintf(w, "Conversations: %s\n", green(converted))
	if failed > 0 {
		fmt.Fprintf(w, "Failed:        %s\n", red(failed))
	}
	fmt.Fprintf(w, "Records:       %d\n", lines)
	fmt.Fprintf(w, "Elapsed:       %s\n", elapsed.Round(time.Millisecond))
}

func printSessionStats(w io.Writer, s stats.SessionSummary) {
	title := s.Title
	if title == "" {
		title = s.ConvID
	}
	fmt.Fprintf(w, "%s  %s msgs (%d user, %d assistant, %d tool) %s\n",
		bold(title), cyan(s.Messages), s.UserTurns, s.AssistantTurns, s.ToolCalls, s.Duration.Round(time.Second))
	if len(s.Markers) > 0 {
		fmt.Fprintf(w, "    markers: %s\n", yellow(s.Markers))
	}
	if s.FirstPrompt != "" {
		fmt.Fprintf(w, "    > %s\n", s.FirstPrompt)
	}
}

func printIngestSummary(w io.Writer, s *ingest.Summary, statePath string) {
	fmt.Fprintf(w, "\n%s\n", bold("=== Ingest Summary ==="))
	fmt.Fprintf(w, "Files processed:   %d\n", len(s.Files))
	fmt.Fprintf(w, "Already ingested:  %d\n", s.AlreadyIngested)
	fmt.Fprintf(w, "Conversations:     %s\n", green(s.Conversations()))
	fmt.Fprintf(w, "Messages:          %d\n", s.Messages())
	if s.Filtered() > 0 {
		fmt.Fprintf(w, "Filtered by date:  %s\n", yellow(s.Filtered()))
	}
	if s.Failed() > 0 {
		fmt.Fprintf(w, "Failed:            %s\n", red(s.Failed()))
	}
	if s.DryRun {
		fmt.Fprintf(w, "Mode:              %s\n", yellow("DRY RUN (nothing written)"))
	}
	fmt.Fprintf(w, "State file:        %s\n", statePath)
}
