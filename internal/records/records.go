// Package records flattens normalized conversations into an append-only
// NDJSON stream of meta and message records.
package records

import (
	"time"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
)

const (
	TypeMeta    = "meta"
	TypeMessage = "message"
)

// Record is either a *MetaRecord or a *MessageRecord.
type Record interface {
	RecordType() string
	ConversationID() string
}

// MetaRecord opens the records of one conversation.
type MetaRecord struct {
	Type      string    `json:"type"`
	ConvID    string    `json:"conv_id"`
	Title     *string   `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	Markers   []string  `json:"markers"`
}

func (r *MetaRecord) RecordType() string     { return TypeMeta }
func (r *MetaRecord) ConversationID() string { return r.ConvID }

// MessageRecord is one message of a conversation, all fields primitive.
type MessageRecord struct {
	Type      string    `json:"type"`
	ConvID    string    `json:"conv_id"`
	Idx       int       `json:"idx"`
	MessageID string    `json:"message_id"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Project   *string   `json:"project"`
	Meeting   *string   `json:"meeting"`
	Markers   []string  `json:"markers"`
}

func (r *MessageRecord) RecordType() string     { return TypeMessage }
func (r *MessageRecord) ConversationID() string { return r.ConvID }

// Flatten returns one MetaRecord followed by a MessageRecord per message, in
// message order.
func Flatten(c *conversation.Conversation) []Record {
	out := make([]Record, 0, len(c.Messages)+1)
	out = append(out, &MetaRecord{
		Type:      TypeMeta,
		ConvID:    c.Meta.ConvID,
		Title:     c.Meta.Title,
		CreatedAt: c.Meta.CreatedAt.UTC(),
		Markers:   c.Meta.Markers.Slice(),
	})
	for _, m := range c.Messages {
		out = append(out, &MessageRecord{
			Type:      TypeMessage,
			ConvID:    c.Meta.ConvID,
			Idx:       m.Idx,
			MessageID: m.ID.String(),
			Role:      m.Role.String(),
			Timestamp: m.Timestamp.UTC(),
			Content:   m.Content,
			Project:   m.Project,
			Meeting:   m.Meeting,
			Markers:   m.Markers.Slice(),
		})
	}
	return out
}
