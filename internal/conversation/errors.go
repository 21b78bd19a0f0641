package conversation

import "fmt"

// MissingFieldError reports a required field that is absent from the source.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %q", e.Field)
}

// InvalidTimestampError reports a timestamp field that is present but matches
// neither RFC3339 nor the legacy "2006-01-02 15:04:05 -0700" layout.
type InvalidTimestampError struct {
	Field string
	Value string
}

func (e *InvalidTimestampError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid timestamp %q", e.Value)
	}
	return fmt.Sprintf("invalid timestamp in %q: %q", e.Field, e.Value)
}

// MessageParseError wraps a failure normalizing the message at Idx.
type MessageParseError struct {
	Idx    int
	Reason string
	Err    error
}

func (e *MessageParseError) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return fmt.Sprintf("message %d: %s: %v", e.Idx, e.Reason, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("message %d: %v", e.Idx, e.Err)
	default:
		return fmt.Sprintf("message %d: %s", e.Idx, e.Reason)
	}
}

func (e *MessageParseError) Unwrap() error { return e.Err }

// ConversationParseError reports a conversation-level shape failure.
type ConversationParseError struct {
	Reason string
	Err    error
}

func (e *ConversationParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conversation: %s: %v", e.Reason, e.Err)
	}
	return "conversation: " + e.Reason
}

func (e *ConversationParseError) Unwrap() error { return e.Err }
