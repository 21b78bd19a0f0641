package records

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
)

// Writer appends records to a sink as NDJSON, flushing after every line so a
// partially written file holds only complete lines.
type Writer struct {
	bw      *bufio.Writer
	flusher interface{ Flush() }
	lines   int
}

// NewWriter wraps w. If w also implements Flush() (as http.ResponseWriter
// does) it is flushed after each line as well.
func NewWriter(w io.Writer) *Writer {
	wr := &Writer{bw: bufio.NewWriter(w)}
	if f, ok := w.(interface{ Flush() }); ok {
		wr.flusher = f
	}
	return wr
}

// Encoded holds the NDJSON lines of one conversation, ready to write.
type Encoded struct {
	ConvID string
	lines  [][]byte
}

// EncodeError reports a conversation whose records cannot be marshalled.
// Nothing of it has been written.
type EncodeError struct {
	ConvID string
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode conversation %s: %v", e.ConvID, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// Encode marshals the meta record and every message record of c without
// writing anything, so a conversation either encodes whole or not at all.
func Encode(c *conversation.Conversation) (*Encoded, error) {
	recs := Flatten(c)
	e := &Encoded{ConvID: c.Meta.ConvID, lines: make([][]byte, 0, len(recs))}
	for _, rec := range recs {
		line, err := json.Marshal(rec)
		if err != nil {
			return nil, &EncodeError{
				ConvID: c.Meta.ConvID,
				Err:    fmt.Errorf("marshal %s record: %w", rec.RecordType(), err),
			}
		}
		e.lines = append(e.lines, append(line, '\n'))
	}
	return e, nil
}

// Write encodes and appends every record of c. An *EncodeError means nothing
// was written; any other error comes from the sink, and lines already written
// stay written.
func (w *Writer) Write(c *conversation.Conversation) error {
	e, err := Encode(c)
	if err != nil {
		return err
	}
	return w.WriteEncoded(e)
}

// WriteEncoded appends lines produced by Encode.
func (w *Writer) WriteEncoded(e *Encoded) error {
	for _, line := range e.lines {
		if err := w.writeLine(line); err != nil {
			return fmt.Errorf("conversation %s: %w", e.ConvID, err)
		}
	}
	return nil
}

func (w *Writer) writeLine(line []byte) error {
	if _, err := w.bw.Write(line); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("flush record: %w", err)
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	w.lines++
	return nil
}

// Lines returns how many records have been written.
func (w *Writer) Lines() int {
	return w.lines
}
