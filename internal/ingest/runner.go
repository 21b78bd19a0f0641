package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
	"github.com/MikeSquared-Agency/floatctl/internal/records"
	"github.com/MikeSquared-Agency/floatctl/internal/stream"
)

// ErrorPolicy decides what a run does with a conversation that fails to
// normalize or persist.
type ErrorPolicy string

const (
	// PolicySkip logs the failure and continues with the next conversation.
	PolicySkip ErrorPolicy = "skip"
	// PolicyAbort stops the run at the first failure.
	PolicyAbort ErrorPolicy = "abort"
)

func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch p := ErrorPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicySkip:
		return PolicySkip, nil
	case PolicyAbort:
		return PolicyAbort, nil
	default:
		return "", fmt.Errorf("unknown error policy %q (want skip or abort)", s)
	}
}

// RecordsSuffix is appended to the full input name, extension included, to
// name its record file, so a.json and a.jsonl never share an output.
const RecordsSuffix = ".records.ndjson"

var exportExtensions = []string{".json", ".jsonl", ".ndjson"}

// Config holds the ingest command configuration.
type Config struct {
	InputDir     string
	SingleFile   string // ingest one file instead of walking InputDir
	OutputDir    string // defaults to the directory of each input
	Since        time.Time
	Until        time.Time
	DryRun       bool // parse and count only; nothing is written or published
	Workers      int
	OnError      ErrorPolicy
	StatePath    string
	Source       string // source label for persisted conversations (default: "ingest")
	MaxLineBytes int
}

// Capturer persists and announces one conversation. *processor.Processor
// satisfies it.
type Capturer interface {
	Process(ctx context.Context, c *conversation.Conversation, source string) error
}

// Notifier receives the run summary. *slack.Poster satisfies it.
type Notifier interface {
	PostMessage(ctx context.Context, text string) (string, error)
	PostThread(ctx context.Context, threadTS, text string) error
}

// Runner orchestrates a batch ingest over export files.
type Runner struct {
	cfg    Config
	proc   Capturer
	notify Notifier
	logger *slog.Logger
}

// NewRunner creates an ingest runner. proc and notify may be nil.
func NewRunner(cfg Config, proc Capturer, notify Notifier, logger *slog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.OnError == "" {
		cfg.OnError = PolicySkip
	}
	if cfg.Source == "" {
		cfg.Source = "ingest"
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = stream.DefaultMaxLineBytes
	}
	return &Runner{
		cfg:    cfg,
		proc:   proc,
		notify: notify,
		logger: logger,
	}
}

type pendingFile struct {
	path string
	info os.FileInfo
}

// Run ingests every pending file. Files are processed concurrently up to
// Config.Workers. Under PolicyAbort the first failure cancels the remaining
// files and is returned alongside the partial summary.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	state, err := LoadState(r.cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		return nil, fmt.Errorf("discover files: %w", err)
	}

	summary := &Summary{StartedAt: time.Now().UTC(), DryRun: r.cfg.DryRun}
	var pending []pendingFile
	for _, f := range files {
		if state.IsProcessed(f.path, f.info) {
			summary.AlreadyIngested++
			continue
		}
		pending = append(pending, f)
	}

	r.logger.Info("files discovered",
		"total", len(files),
		"pending", len(pending),
		"already_ingested", summary.AlreadyIngested,
		"workers", r.cfg.Workers,
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for _, f := range pending {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res, err := r.ingestFile(gctx, f.path)

			mu.Lock()
			defer mu.Unlock()
			if err != nil && res.Failed == 0 && !errors.Is(err, context.Canceled) {
				res.Errors = append(res.Errors, err.Error())
			}
			summary.Files = append(summary.Files, res)
			for _, msg := range res.Errors {
				state.AddError(msg)
			}
			if err != nil {
				if r.cfg.OnError == PolicyAbort || errors.Is(err, context.Canceled) {
					return err
				}
				r.logger.Error("file failed", "path", f.path, "error", err)
				return nil
			}
			if !r.cfg.DryRun {
				state.MarkProcessed(f.path, f.info, res.Conversations, res.Messages)
				if err := state.Save(); err != nil {
					r.logger.Warn("failed to save state", "path", state.Path(), "error", err)
				}
			}
			return nil
		})
	}
	runErr := g.Wait()

	slices.SortFunc(summary.Files, func(a, b FileSummary) int {
		return strings.Compare(a.Path, b.Path)
	})
	summary.Duration = time.Since(summary.StartedAt)

	if !r.cfg.DryRun {
		if err := state.Save(); err != nil {
			r.logger.Warn("failed to save state", "path", state.Path(), "error", err)
		}
	}
	r.postSummary(ctx, summary)

	r.logger.Info("ingest complete",
		"files", len(summary.Files),
		"conversations", summary.Conversations(),
		"messages", summary.Messages(),
		"failed", summary.Failed(),
		"dry_run", r.cfg.DryRun,
	)
	return summary, runErr
}

// ingestFile streams one export. Unless the run is a dry run, the records of
// every accepted conversation are written to a temp file that replaces the
// output only when the whole input was read.
func (r *Runner) ingestFile(ctx context.Context, path string) (fs FileSummary, err error) {
	fs.Path = path
	start := time.Now()
	defer func() { fs.Duration = time.Since(start) }()

	cs, err := stream.OpenConversations(path, stream.WithMaxLineBytes(r.cfg.MaxLineBytes))
	if err != nil {
		return fs, fmt.Errorf("open %s: %w", path, err)
	}
	defer cs.Close()
	fs.Format = cs.Format().String()

	var out *outputFile
	if !r.cfg.DryRun {
		out, err = createOutput(r.outputPath(path))
		if err != nil {
			return fs, err
		}
		defer out.abort()
		fs.Output = out.path
	}

	for conv, err := range cs.All() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fs, ctxErr
		}
		if err == nil {
			if !r.inDateRange(conv.Meta.CreatedAt) {
				fs.Filtered++
				continue
			}
			err = r.accept(ctx, conv, out)
		}
		if err != nil {
			fs.Failed++
			msg := fmt.Sprintf("%s: %s", filepath.Base(path), conversation.Preview(err.Error(), 200))
			fs.Errors = append(fs.Errors, msg)
			r.logger.Warn("conversation failed", "path", path, "error", err)
			if r.cfg.OnError == PolicyAbort {
				return fs, fmt.Errorf("%s: %w", path, err)
			}
			continue
		}
		fs.Conversations++
		fs.Messages += len(conv.Messages)
	}

	if out != nil {
		if err := out.commit(); err != nil {
			return fs, err
		}
	}
	r.logger.Info("file ingested",
		"path", path,
		"format", fs.Format,
		"conversations", fs.Conversations,
		"failed", fs.Failed,
		"filtered", fs.Filtered,
	)
	return fs, nil
}

func (r *Runner) accept(ctx context.Context, conv *conversation.Conversation, out *outputFile) error {
	enc, err := records.Encode(conv)
	if err != nil || r.cfg.DryRun {
		return err
	}
	if r.proc != nil {
		if err := r.proc.Process(ctx, conv, r.cfg.Source); err != nil {
			return err
		}
	}
	return out.w.WriteEncoded(enc)
}

func (r *Runner) inDateRange(created time.Time) bool {
	if !r.cfg.Since.IsZero() && created.Before(r.cfg.Since) {
		return false
	}
	if !r.cfg.Until.IsZero() && created.After(r.cfg.Until) {
		return false
	}
	return true
}

func (r *Runner) outputPath(input string) string {
	dir := filepath.Dir(input)
	if r.cfg.OutputDir != "" {
		dir = expandHome(r.cfg.OutputDir)
	}
	return filepath.Join(dir, filepath.Base(input)+RecordsSuffix)
}

func (r *Runner) discoverFiles() ([]pendingFile, error) {
	if r.cfg.SingleFile != "" {
		path := expandHome(r.cfg.SingleFile)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("single file not found: %s", path)
		}
		return []pendingFile{{path: path, info: info}}, nil
	}

	dir := expandHome(r.cfg.InputDir)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("input dir not found: %s", dir)
	}

	var files []pendingFile
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			r.logger.Warn("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !isExport(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files = append(files, pendingFile{path: path, info: info})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// isExport matches export files and excludes record files this runner wrote.
func isExport(name string) bool {
	if strings.HasSuffix(name, RecordsSuffix) {
		return false
	}
	return slices.Contains(exportExtensions, strings.ToLower(filepath.Ext(name)))
}

func (r *Runner) postSummary(ctx context.Context, s *Summary) {
	if len(s.Files) == 0 {
		return
	}
	text := s.Markdown()
	if r.notify == nil {
		r.logger.Info("ingest summary (no Slack configured)", "summary", text)
		return
	}

	ts, err := r.notify.PostMessage(ctx, text)
	if err != nil {
		r.logger.Warn("failed to post ingest summary to Slack", "error", err)
		return
	}
	if errs := s.ErrorDetails(); errs != "" {
		if err := r.notify.PostThread(ctx, ts, errs); err != nil {
			r.logger.Warn("failed to post ingest errors to Slack", "error", err)
		}
	}
}

// outputFile is a record file being written under a temporary name.
type outputFile struct {
	path string
	tmp  *os.File
	w    *records.Writer
	done bool
}

func createOutput(path string) (*outputFile, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return &outputFile{path: path, tmp: tmp, w: records.NewWriter(tmp)}, nil
}

func (o *outputFile) commit() error {
	o.done = true
	if err := o.tmp.Close(); err != nil {
		os.Remove(o.tmp.Name())
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(o.tmp.Name(), o.path); err != nil {
		os.Remove(o.tmp.Name())
		return fmt.Errorf("rename output: %w", err)
	}
	return nil
}

// abort discards the temp file unless commit already ran.
func (o *outputFile) abort() {
	if o.done {
		return
	}
	o.tmp.Close()
	os.Remove(o.tmp.Name())
}
