package records

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

const maxRecordBytes = 64 * 1024 * 1024

// Reader decodes an NDJSON record stream produced by Writer.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	return &Reader{scanner: s}
}

type envelope struct {
	Type string `json:"type"`
}

// Next returns the next record or io.EOF. Blank lines are skipped.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}

		var rec Record
		switch env.Type {
		case TypeMeta:
			rec = &MetaRecord{}
		case TypeMessage:
			rec = &MessageRecord{}
		default:
			return nil, fmt.Errorf("line %d: unknown record type %q", r.line, env.Type)
		}
		if err := json.Unmarshal(line, rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", r.line, err)
		}
		return rec, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	return nil, io.EOF
}
