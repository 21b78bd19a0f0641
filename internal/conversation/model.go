// Package conversation normalizes exported chat transcripts from heterogeneous
// JSON shapes into a canonical Conversation/Message model.
package conversation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/floatctl/internal/markers"
)

// Role is the canonical speaker of a message.
type Role int

const (
	RoleOther Role = iota
	RoleSystem
	RoleAssistant
	RoleUser
	RoleTool
)

// MapRole maps a source role string onto a Role. Unknown or empty strings map
// to RoleOther.
func MapRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "system":
		return RoleSystem
	case "assistant":
		return RoleAssistant
	case "user", "human":
		return RoleUser
	case "tool", "function":
		return RoleTool
	default:
		return RoleOther
	}
}

func (r Role) String() string {
	switch r {
	case RoleSystem:
		return "system"
	case RoleAssistant:
		return "assistant"
	case RoleUser:
		return "user"
	case RoleTool:
		return "tool"
	default:
		return "other"
	}
}

func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	*r = MapRole(string(text))
	return nil
}

// Message is one normalized turn. Idx is its position in the source array.
type Message struct {
	ID        uuid.UUID
	Idx       int
	Role      Role
	Timestamp time.Time
	Content   string
	Project   *string
	Meeting   *string
	Markers   markers.Set

	// Raw is the untouched source object, passed through for consumers that
	// need fields the canonical model drops.
	Raw json.RawMessage
}

// Meta is the conversation-level metadata.
type Meta struct {
	ID        uuid.UUID
	ConvID    string
	Title     *string
	CreatedAt time.Time
	UpdatedAt *time.Time
	Markers   markers.Set
}

// Conversation is a normalized conversation. Messages[i].Idx == i.
type Conversation struct {
	Meta     Meta
	Messages []Message
	Raw      json.RawMessage
}

// Source returns the title, or the conversation id when there is none.
func (c *Conversation) Source() string {
	if c.Meta.Title != nil && *c.Meta.Title != "" {
		return *c.Meta.Title
	}
	return c.Meta.ConvID
}
