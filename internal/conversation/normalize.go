package conversation

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/floatctl/internal/markers"
)

// rawMessage lists every message field the normalizer looks at. Fields stay
// raw because exporters disagree on their JSON types.
type rawMessage struct {
	ID         json.RawMessage `json:"id"`
	UUID       json.RawMessage `json:"uuid"`
	Role       json.RawMessage `json:"role"`
	Sender     json.RawMessage `json:"sender"`
	Timestamp  json.RawMessage `json:"timestamp"`
	CreateTime json.RawMessage `json:"create_time"`
	CreatedAt  json.RawMessage `json:"created_at"`
	Content    json.RawMessage `json:"content"`
	Summary    json.RawMessage `json:"summary"`
	Text       json.RawMessage `json:"text"`
	Metadata   json.RawMessage `json:"metadata"`
}

type rawMetadata struct {
	Project json.RawMessage `json:"project"`
	Meeting json.RawMessage `json:"meeting"`
}

type rawConversation struct {
	ID           json.RawMessage `json:"id"`
	UUID         json.RawMessage `json:"uuid"`
	Title        json.RawMessage `json:"title"`
	Name         json.RawMessage `json:"name"`
	CreatedAt    json.RawMessage `json:"created_at"`
	CreateTime   json.RawMessage `json:"create_time"`
	Messages     json.RawMessage `json:"messages"`
	ChatMessages json.RawMessage `json:"chat_messages"`
}

// NormalizeMessage builds the message at position idx from one raw JSON object.
// It fails with *MissingFieldError when no timestamp field is present and with
// *InvalidTimestampError when one is present but unparseable.
func NormalizeMessage(idx int, raw json.RawMessage) (Message, error) {
	if !isObject(raw) {
		return Message{}, &MessageParseError{Idx: idx, Reason: "message is not a JSON object"}
	}
	var m rawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, &MessageParseError{Idx: idx, Reason: "decode message", Err: err}
	}

	ts, ok, err := resolveTimestamp([]namedRaw{
		{"timestamp", m.Timestamp},
		{"create_time", m.CreateTime},
		{"created_at", m.CreatedAt},
	})
	if err != nil {
		return Message{}, err
	}
	if !ok {
		return Message{}, &MissingFieldError{Field: "timestamp"}
	}

	role, _ := firstString(m.Role, m.Sender)
	text := extractText(&m)

	msg := Message{
		ID:        messageID(m.ID, m.UUID),
		Idx:       idx,
		Role:      MapRole(role),
		Timestamp: ts,
		Content:   text,
		Markers:   markers.Extract(text),
		Raw:       raw,
	}

	if !isAbsent(m.Metadata) {
		var meta rawMetadata
		if err := json.Unmarshal(m.Metadata, &meta); err == nil {
			msg.Project = optionalString(meta.Project)
			msg.Meeting = optionalString(meta.Meeting)
		}
	}

	return msg, nil
}

// Normalize builds a Conversation from one raw JSON object. A failing message
// fails the whole conversation so indices stay contiguous.
func Normalize(raw json.RawMessage) (*Conversation, error) {
	if !isObject(raw) {
		return nil, &ConversationParseError{Reason: "conversation is not a JSON object"}
	}
	var rc rawConversation
	if err := json.Unmarshal(raw, &rc); err != nil {
		return nil, &ConversationParseError{Reason: "decode conversation", Err: err}
	}

	createdAt, ok, err := resolveTimestamp([]namedRaw{
		{"created_at", rc.CreatedAt},
		{"create_time", rc.CreateTime},
	})
	if err != nil || !ok {
		return nil, &MissingFieldError{Field: "created_at"}
	}

	rawMessages, err := messageArray(rc)
	if err != nil {
		return nil, err
	}

	id, hasUUID := firstUUID(rc.ID, rc.UUID)
	if !hasUUID {
		id = uuid.New()
	}
	convID := firstNonEmpty(rc.ID, rc.UUID)
	if convID == "" {
		convID = id.String()
	}

	c := &Conversation{
		Meta: Meta{
			ID:        id,
			ConvID:    convID,
			CreatedAt: createdAt,
		},
		Messages: make([]Message, 0, len(rawMessages)),
		Raw:      raw,
	}
	if title, ok := firstString(rc.Title, rc.Name); ok {
		c.Meta.Title = &title
	}

	for i, rm := range rawMessages {
		msg, err := NormalizeMessage(i, rm)
		if err != nil {
			var mpe *MessageParseError
			if errors.As(err, &mpe) {
				return nil, err
			}
			return nil, &MessageParseError{Idx: i, Err: err}
		}
		c.Meta.Markers.Merge(msg.Markers)
		c.Messages = append(c.Messages, msg)
	}

	if n := len(c.Messages); n > 0 {
		updated := c.Messages[n-1].Timestamp
		c.Meta.UpdatedAt = &updated
	}

	return c, nil
}

func messageArray(rc rawConversation) ([]json.RawMessage, error) {
	src := rc.Messages
	if isAbsent(src) {
		src = rc.ChatMessages
	}
	if isAbsent(src) {
		return nil, nil
	}
	var msgs []json.RawMessage
	if err := json.Unmarshal(src, &msgs); err != nil {
		return nil, &ConversationParseError{Reason: "messages is not an array", Err: err}
	}
	return msgs, nil
}

func messageID(fields ...json.RawMessage) uuid.UUID {
	if id, ok := firstUUID(fields...); ok {
		return id
	}
	return uuid.New()
}

// firstUUID returns the first field holding a string that parses as a UUID.
func firstUUID(fields ...json.RawMessage) (uuid.UUID, bool) {
	for _, f := range fields {
		s, ok := asString(f)
		if !ok {
			continue
		}
		if id, err := uuid.Parse(s); err == nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

// firstString returns the first field holding a JSON string.
func firstString(fields ...json.RawMessage) (string, bool) {
	for _, f := range fields {
		if s, ok := asString(f); ok {
			return s, true
		}
	}
	return "", false
}

// firstNonEmpty returns the first field holding a non-empty JSON string.
func firstNonEmpty(fields ...json.RawMessage) string {
	for _, f := range fields {
		if s, ok := asString(f); ok && s != "" {
			return s
		}
	}
	return ""
}

func optionalString(raw json.RawMessage) *string {
	s, ok := asString(raw)
	if !ok {
		return nil
	}
	return &s
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}
