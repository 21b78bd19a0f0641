package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// FileSummary is the outcome of ingesting one export file.
type FileSummary struct {
	Path          string        `json:"path"`
	Output        string        `json:"output,omitempty"`
	Format        string        `json:"format,omitempty"`
	Conversations int           `json:"conversations"`
	Messages      int           `json:"messages"`
	Failed        int           `json:"failed"`
	Filtered      int           `json:"filtered"`
	Errors        []string      `json:"errors,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Summary is the outcome of one ingest run.
type Summary struct {
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	DryRun          bool          `json:"dry_run"`
	AlreadyIngested int           `json:"already_ingested"`
	Files           []FileSummary `json:"files"`
}

func (s *Summary) Conversations() int { return s.sum(func(f FileSummary) int { return f.Conversations }) }
func (s *Summary) Messages() int      { return s.sum(func(f FileSummary) int { return f.Messages }) }
func (s *Summary) Failed() int        { return s.sum(func(f FileSummary) int { return f.Failed }) }
func (s *Summary) Filtered() int      { return s.sum(func(f FileSummary) int { return f.Filtered }) }

func (s *Summary) sum(field func(FileSummary) int) int {
	n := 0
	for _, f := range s.Files {
		n += field(f)
	}
	return n
}

// Markdown renders the run for Slack.
func (s *Summary) Markdown() string {
	var sb strings.Builder
	sb.WriteString("*Ingest Summary*")
	if s.DryRun {
		sb.WriteString(" _(dry run)_")
	}
	fmt.Fprintf(&sb, "\n%d files, %d conversations, %d messages, %d failed, %d filtered",
		len(s.Files), s.Conversations(), s.Messages(), s.Failed(), s.Filtered())
	if s.AlreadyIngested > 0 {
		fmt.Fprintf(&sb, ", %d already ingested", s.AlreadyIngested)
	}
	fmt.Fprintf(&sb, " in %s\n", s.Duration.Round(time.Millisecond))

	for _, f := range s.Files {
		fmt.Fprintf(&sb, "  - %s", filepath.Base(f.Path))
		if f.Format != "" {
			fmt.Fprintf(&sb, " [%s]", f.Format)
		}
		fmt.Fprintf(&sb, ": %d conv, %d msg", f.Conversations, f.Messages)
		if f.Failed > 0 {
			fmt.Fprintf(&sb, " (%d failed)", f.Failed)
		}
		if f.Failed == 0 && len(f.Errors) > 0 {
			sb.WriteString(" (unreadable)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

const maxErrorDetails = 20

// ErrorDetails lists the first failures of the run, or "" when there were
// none.
func (s *Summary) ErrorDetails() string {
	var errs []string
	for _, f := range s.Files {
		errs = append(errs, f.Errors...)
	}
	if len(errs) == 0 {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Errors (%d)*\n", len(errs))
	for i, e := range errs {
		if i == maxErrorDetails {
			fmt.Fprintf(&sb, "…and %d more\n", len(errs)-maxErrorDetails)
			break
		}
		fmt.Fprintf(&sb, "- %s\n", e)
	}
	return sb.String()
}
