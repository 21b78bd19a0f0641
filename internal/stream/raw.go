// Package stream reads conversation exports incrementally. It accepts a single
// JSON array of values or newline-delimited JSON and never loads the whole
// input into memory.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
)

const (
	readBufferSize        = 64 * 1024
	DefaultMaxLineBytes   = 64 * 1024 * 1024
	initialLineBufferSize = 64 * 1024
)

// Format is the physical layout of an export file.
type Format int

const (
	FormatNDJSON Format = iota + 1
	FormatArray
)

func (f Format) String() string {
	switch f {
	case FormatArray:
		return "array"
	case FormatNDJSON:
		return "ndjson"
	default:
		return "unknown"
	}
}

type options struct {
	maxLineBytes int
}

// Option configures a stream.
type Option func(*options)

// WithMaxLineBytes caps the length of a single NDJSON line. A longer line is
// read through to its newline and discarded; its slot fails with a *JSONError
// wrapping bufio.ErrTooLong and the lines after it are still read.
func WithMaxLineBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxLineBytes = n
		}
	}
}

// RawStream yields raw JSON values one at a time in source order. It is not
// safe for concurrent use and cannot be rewound.
type RawStream struct {
	format  Format
	closer  io.Closer
	dec     *json.Decoder
	br      *bufio.Reader
	lineBuf []byte
	maxLine int
	line    int
	done    bool
}

// Detect sniffs the format of the file at path from its first non-whitespace
// byte: '[' means a JSON array, anything else NDJSON.
func Detect(path string) (Format, error) {
	f, err := openFile(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	format, _, err := sniff(bufio.NewReader(f))
	return format, err
}

// Open detects the format of the file at path and returns a stream over its
// values. The caller must Close the stream.
func Open(path string, opts ...Option) (*RawStream, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, err
	}
	s, err := NewRawStream(f, opts...)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.closer = f
	return s, nil
}

// NewRawStream detects the format of r and returns a stream over its values.
// Close on the returned stream does not close r.
func NewRawStream(r io.Reader, opts ...Option) (*RawStream, error) {
	o := options{maxLineBytes: DefaultMaxLineBytes}
	for _, opt := range opts {
		opt(&o)
	}

	br := bufio.NewReaderSize(r, readBufferSize)
	format, skippedLines, err := sniff(br)
	if err != nil {
		return nil, err
	}

	s := &RawStream{format: format}
	switch format {
	case FormatArray:
		s.dec = json.NewDecoder(br)
		tok, err := s.dec.Token()
		if err != nil {
			return nil, &JSONError{Offset: s.dec.InputOffset(), Err: err}
		}
		if d, ok := tok.(json.Delim); !ok || d != '[' {
			return nil, fmt.Errorf("%w: expected '[' got %v", ErrInvalidFormat, tok)
		}
	default:
		s.br = br
		s.lineBuf = make([]byte, 0, min(initialLineBufferSize, o.maxLineBytes))
		s.maxLine = o.maxLineBytes
		s.line = skippedLines
	}
	return s, nil
}

func (s *RawStream) Format() Format {
	return s.format
}

// Next returns the next raw value. It returns io.EOF once the input is
// exhausted. A malformed NDJSON line fails only its own slot; a syntax error
// inside a JSON array is the last value the stream produces.
func (s *RawStream) Next() (json.RawMessage, error) {
	if s.done {
		return nil, io.EOF
	}
	if s.format == FormatArray {
		return s.nextElement()
	}
	return s.nextLine()
}

// All iterates the remaining values. Each pair holds either a value or the
// error for that slot.
func (s *RawStream) All() iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for {
			raw, err := s.Next()
			if err == io.EOF {
				return
			}
			if !yield(raw, err) {
				return
			}
		}
	}
}

// Close releases the underlying file when the stream was opened from a path.
func (s *RawStream) Close() error {
	s.done = true
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

func (s *RawStream) nextElement() (json.RawMessage, error) {
	if !s.dec.More() {
		s.done = true
		tok, err := s.dec.Token()
		if err != nil {
			return nil, s.arrayError(err)
		}
		if d, ok := tok.(json.Delim); !ok || d != ']' {
			return nil, &JSONError{Offset: s.dec.InputOffset(), Err: fmt.Errorf("unexpected token %v", tok)}
		}
		return nil, io.EOF
	}

	var raw json.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		s.done = true
		return nil, s.arrayError(err)
	}
	return raw, nil
}

func (s *RawStream) arrayError(err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	var syntaxErr *json.SyntaxError
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.As(err, &syntaxErr) {
		return &JSONError{Offset: s.dec.InputOffset(), Err: err}
	}
	return ioError("read", err)
}

func (s *RawStream) nextLine() (json.RawMessage, error) {
	for !s.done {
		line, tooLong, err := s.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			s.done = true
			return nil, ioError("read", err)
		}
		if err != nil {
			s.done = true
			if len(line) == 0 && !tooLong {
				break
			}
		}
		s.line++
		if tooLong {
			return nil, &JSONError{
				Line: s.line,
				Err:  fmt.Errorf("%w: longer than %d bytes", bufio.ErrTooLong, s.maxLine),
			}
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var raw json.RawMessage
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, &JSONError{Line: s.line, Err: err}
		}
		return raw, nil
	}
	return nil, io.EOF
}

// readLine returns the next line without its newline. A line longer than
// maxLine is consumed up to its newline but not kept; tooLong reports it.
// The returned slice is only valid until the next call.
func (s *RawStream) readLine() (line []byte, tooLong bool, err error) {
	buf := s.lineBuf[:0]
	for {
		chunk, err := s.br.ReadSlice('\n')
		content := chunk
		if err == nil {
			content = chunk[:len(chunk)-1]
		}
		if !tooLong {
			if len(buf)+len(content) > s.maxLine {
				tooLong = true
				buf = buf[:0]
			} else {
				buf = append(buf, content...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		s.lineBuf = buf
		return buf, tooLong, err
	}
}

// sniff consumes leading whitespace and an optional UTF-8 BOM, then reports
// the format implied by the first significant byte. It also returns how many
// newlines it consumed so NDJSON line numbers stay accurate.
func sniff(br *bufio.Reader) (Format, int, error) {
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}

	newlines := 0
	for {
		b, err := br.ReadByte()
		if err == io.EOF {
			return 0, newlines, ErrEmptyFile
		}
		if err != nil {
			return 0, newlines, ioError("read", err)
		}
		switch b {
		case '\n':
			newlines++
			continue
		case ' ', '\t', '\r':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, newlines, ioError("read", err)
		}
		if b == '[' {
			return FormatArray, newlines, nil
		}
		return FormatNDJSON, newlines, nil
	}
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, path)
		}
		return nil, ioError("open", err)
	}
	return f, nil
}
