package processor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
	"github.com/MikeSquared-Agency/floatctl/internal/hermes"
	"github.com/MikeSquared-Agency/floatctl/internal/records"
	"github.com/MikeSquared-Agency/floatctl/internal/stats"
	"github.com/MikeSquared-Agency/floatctl/internal/stream"
)

// Sink persists normalized conversations.
type Sink interface {
	WriteConversation(ctx context.Context, c *conversation.Conversation, source string) error
}

// Publisher announces ingested conversations.
type Publisher interface {
	Publish(subject string, data any) error
}

// Processor orchestrates the capture pipeline: normalize, persist, announce.
// Sink and publisher are optional.
type Processor struct {
	sink    Sink
	pub     Publisher
	subject string
	opts    []stream.Option
	logger  *slog.Logger
}

// Failure describes one export item that could not be captured.
type Failure struct {
	Item  int    `json:"item"`
	Error string `json:"error"`
}

// Report summarizes one capture request.
type Report struct {
	Source   string                 `json:"source"`
	Format   string                 `json:"format"`
	Accepted []stats.SessionSummary `json:"accepted"`
	Failed   []Failure              `json:"failed"`
}

func New(sink Sink, pub Publisher, subject string, logger *slog.Logger, opts ...stream.Option) *Processor {
	return &Processor{
		sink:    sink,
		pub:     pub,
		subject: subject,
		opts:    opts,
		logger:  logger,
	}
}

// Process persists c and publishes an ingested event. A publish failure is
// logged and does not fail the conversation.
func (p *Processor) Process(ctx context.Context, c *conversation.Conversation, source string) error {
	if p.sink != nil {
		if err := p.sink.WriteConversation(ctx, c, source); err != nil {
			return fmt.Errorf("persist %s: %w", c.Meta.ConvID, err)
		}
	}

	if p.pub != nil && p.subject != "" {
		evt := hermes.IngestedEvent{
			ConvID:    c.Meta.ConvID,
			Messages:  len(c.Messages),
			Markers:   c.Meta.Markers.Slice(),
			Source:    source,
			Timestamp: time.Now().UTC(),
		}
		if c.Meta.Title != nil {
			evt.Title = *c.Meta.Title
		}
		if err := p.pub.Publish(p.subject, evt); err != nil {
			p.logger.Warn("failed to publish ingested event", "conv_id", c.Meta.ConvID, "error", err)
		}
	}
	return nil
}

// CaptureReader processes every conversation in an export read from r.
// Failed items are reported, not fatal. Only a format detection failure or a
// cancelled context returns an error.
func (p *Processor) CaptureReader(ctx context.Context, r io.Reader, source string) (*Report, error) {
	return p.capture(ctx, r, source, nil)
}

// CaptureRecords is CaptureReader that also writes the records of every
// accepted conversation to w.
func (p *Processor) CaptureRecords(ctx context.Context, r io.Reader, w *records.Writer, source string) (*Report, error) {
	return p.capture(ctx, r, source, w)
}

func (p *Processor) capture(ctx context.Context, r io.Reader, source string, w *records.Writer) (*Report, error) {
	cs, err := stream.NewConversationStream(r, p.opts...)
	if err != nil {
		return nil, err
	}
	defer cs.Close()

	report := &Report{
		Source:   source,
		Format:   cs.Format().String(),
		Accepted: []stats.SessionSummary{},
		Failed:   []Failure{},
	}

	item := 0
	for conv, err := range cs.All() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return report, ctxErr
		}
		idx := item
		item++

		if err != nil {
			p.logger.Warn("skipping conversation", "source", source, "item", idx, "error", err)
			report.Failed = append(report.Failed, Failure{Item: idx, Error: err.Error()})
			continue
		}
		// Encode first so a conversation that cannot be written is never
		// persisted or announced.
		var enc *records.Encoded
		if w != nil {
			e, err := records.Encode(conv)
			if err != nil {
				p.logger.Warn("skipping conversation", "source", source, "item", idx, "error", err)
				report.Failed = append(report.Failed, Failure{Item: idx, Error: err.Error()})
				continue
			}
			enc = e
		}
		if err := p.Process(ctx, conv, source); err != nil {
			p.logger.Error("capture failed", "source", source, "conv_id", conv.Meta.ConvID, "error", err)
			report.Failed = append(report.Failed, Failure{Item: idx, Error: err.Error()})
			continue
		}
		if enc != nil {
			if err := w.WriteEncoded(enc); err != nil {
				return report, fmt.Errorf("write records: %w", err)
			}
		}
		report.Accepted = append(report.Accepted, stats.Summarize(conv))
	}

	p.logger.Info("capture complete",
		"source", source,
		"format", report.Format,
		"accepted", len(report.Accepted),
		"failed", len(report.Failed),
	)
	return report, nil
}

// HandleCaptureSubmit is the NATS handler for capture submissions. The payload
// is a JSON array or NDJSON export.
func (p *Processor) HandleCaptureSubmit(subject string, data []byte) {
	ctx := context.Background()
	if _, err := p.CaptureReader(ctx, bytes.NewReader(data), "nats:"+subject); err != nil {
		p.logger.Error("failed to capture submission", "subject", subject, "error", err)
	}
}
