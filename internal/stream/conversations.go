package stream

import (
	"context"
	"io"
	"iter"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
)

// ConversationStream normalizes each raw value of an export into a
// Conversation. Every item succeeds or fails on its own; a failed item does
// not end the stream.
type ConversationStream struct {
	raw  *RawStream
	item int
}

// OpenConversations opens the export at path. The caller must Close the stream.
func OpenConversations(path string, opts ...Option) (*ConversationStream, error) {
	raw, err := Open(path, opts...)
	if err != nil {
		return nil, err
	}
	return &ConversationStream{raw: raw}, nil
}

// NewConversationStream reads an export from r.
func NewConversationStream(r io.Reader, opts ...Option) (*ConversationStream, error) {
	raw, err := NewRawStream(r, opts...)
	if err != nil {
		return nil, err
	}
	return &ConversationStream{raw: raw}, nil
}

func (c *ConversationStream) Format() Format {
	return c.raw.Format()
}

// Next returns the next conversation, an *ItemError for a failed item, or
// io.EOF at the end of input.
func (c *ConversationStream) Next() (*conversation.Conversation, error) {
	raw, err := c.raw.Next()
	if err == io.EOF {
		return nil, io.EOF
	}
	item := c.item
	c.item++
	if err != nil {
		return nil, &ItemError{Item: item, Err: err}
	}
	conv, err := conversation.Normalize(raw)
	if err != nil {
		return nil, &ItemError{Item: item, Err: err}
	}
	return conv, nil
}

// All iterates the remaining conversations.
func (c *ConversationStream) All() iter.Seq2[*conversation.Conversation, error] {
	return func(yield func(*conversation.Conversation, error) bool) {
		for {
			conv, err := c.Next()
			if err == io.EOF {
				return
			}
			if !yield(conv, err) {
				return
			}
		}
	}
}

func (c *ConversationStream) Close() error {
	return c.raw.Close()
}

// Result is one item delivered by Watch.
type Result struct {
	Item         int
	Conversation *conversation.Conversation
	Err          error
}

// Watch reads conversations from r on a single goroutine and delivers them in
// order on the returned channel, which is closed at end of input or when ctx
// is done. A detection failure is delivered as a single Result with Item -1.
// Reads on r are not interruptible; close r to unblock a pending read.
func Watch(ctx context.Context, r io.Reader, opts ...Option) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)

		cs, err := NewConversationStream(r, opts...)
		if err != nil {
			send(ctx, out, Result{Item: -1, Err: err})
			return
		}
		defer cs.Close()

		for i := 0; ctx.Err() == nil; i++ {
			conv, err := cs.Next()
			if err == io.EOF {
				return
			}
			if !send(ctx, out, Result{Item: i, Conversation: conv, Err: err}) {
				return
			}
		}
	}()
	return out
}

func send(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	}
}
