package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyFile is returned when the input holds no JSON at all.
	ErrEmptyFile = errors.New("empty file")
	// ErrPathNotFound is returned when the input path does not exist.
	ErrPathNotFound = errors.New("path not found")
	// ErrInvalidFormat is returned when the input is neither a JSON array nor NDJSON.
	ErrInvalidFormat = errors.New("invalid format")
	// ErrIO marks filesystem and read failures.
	ErrIO = errors.New("io")
)

// JSONError reports malformed JSON. Line is set for NDJSON input, Offset for
// JSON array input.
type JSONError struct {
	Line   int
	Offset int64
	Err    error
}

func (e *JSONError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("json: line %d: %v", e.Line, e.Err)
	}
	return fmt.Sprintf("json: offset %d: %v", e.Offset, e.Err)
}

func (e *JSONError) Unwrap() error { return e.Err }

// ItemError wraps the failure of a single stream item. Item is the zero-based
// position of the element in the input.
type ItemError struct {
	Item int
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Item, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

func ioError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
