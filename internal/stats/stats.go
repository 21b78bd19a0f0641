// Package stats derives per-conversation summaries from normalized messages.
package stats

import (
	"encoding/json"
	"time"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
)

const previewRunes = 120

// SessionSummary is a compact description of one conversation.
type SessionSummary struct {
	ConvID         string        `json:"conv_id"`
	Title          string        `json:"title,omitempty"`
	Messages       int           `json:"messages"`
	UserTurns      int           `json:"user_turns"`
	AssistantTurns int           `json:"assistant_turns"`
	ToolCalls      int           `json:"tool_calls"`
	Markers        []string      `json:"markers"`
	FirstPrompt    string        `json:"first_prompt,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

var toolBlockTypes = map[string]bool{
	"tool_use":      true,
	"tool_call":     true,
	"function_call": true,
}

type rawContent struct {
	Content json.RawMessage `json:"content"`
}

type rawBlock struct {
	Type string `json:"type"`
}

// Summarize counts turns and tool calls. Tool calls are messages with the tool
// role plus tool-use blocks found in the retained raw content.
func Summarize(c *conversation.Conversation) SessionSummary {
	s := SessionSummary{
		ConvID:    c.Meta.ConvID,
		Messages:  len(c.Messages),
		Markers:   c.Meta.Markers.Slice(),
		StartedAt: c.Meta.CreatedAt,
	}
	if c.Meta.Title != nil {
		s.Title = *c.Meta.Title
	}

	for _, m := range c.Messages {
		switch m.Role {
		case conversation.RoleUser:
			s.UserTurns++
			if s.FirstPrompt == "" {
				s.FirstPrompt = conversation.Preview(m.Content, previewRunes)
			}
		case conversation.RoleAssistant:
			s.AssistantTurns++
		case conversation.RoleTool:
			s.ToolCalls++
		}
		s.ToolCalls += countToolBlocks(m.Raw)
	}

	if c.Meta.UpdatedAt != nil && c.Meta.UpdatedAt.After(c.Meta.CreatedAt) {
		s.Duration = c.Meta.UpdatedAt.Sub(c.Meta.CreatedAt)
	}
	return s
}

func countToolBlocks(raw json.RawMessage) int {
	var rc rawContent
	if err := json.Unmarshal(raw, &rc); err != nil {
		return 0
	}
	var blocks []rawBlock
	if err := json.Unmarshal(rc.Content, &blocks); err != nil {
		return 0
	}
	n := 0
	for _, b := range blocks {
		if toolBlockTypes[b.Type] {
			n++
		}
	}
	return n
}
