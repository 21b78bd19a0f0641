package stats

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
)

func TestSummarize(t *testing.T) {
	c, err := conversation.Normalize(json.RawMessage(`{
		"id":"s1","title":"Deploy","created_at":"2026-02-11T10:00:00Z",
		"messages":[
			{"role":"user","timestamp":"2026-02-11T10:00:00Z","content":"Hello, deploy the service ctx::deploy"},
			{"role":"assistant","timestamp":"2026-02-11T10:00:05Z","content":[
				{"type":"text","text":"Deploying."},
				{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"make deploy"}}
			]},
			{"role":"tool","timestamp":"2026-02-11T10:00:10Z","content":"done"},
			{"role":"user","timestamp":"2026-02-11T10:01:00Z","content":"Great, thanks"}
		]
	}`))
	require.NoError(t, err)

	s := Summarize(c)

	assert.Equal(t, "s1", s.ConvID)
	assert.Equal(t, "Deploy", s.Title)
	assert.Equal(t, 4, s.Messages)
	assert.Equal(t, 2, s.UserTurns)
	assert.Equal(t, 1, s.AssistantTurns)
	assert.Equal(t, 2, s.ToolCalls)
	assert.Equal(t, []string{"ctx::deploy"}, s.Markers)
	assert.Equal(t, "Hello, deploy the service ctx::deploy", s.FirstPrompt)
	assert.Equal(t, time.Minute, s.Duration)
}

func TestSummarize_PreviewKeepsRunes(t *testing.T) {
	long := strings.Repeat("日本語🚀", 100)
	payload, err := json.Marshal(map[string]any{
		"created_at": "2026-02-11T10:00:00Z",
		"messages": []map[string]any{
			{"role": "user", "timestamp": "2026-02-11T10:00:00Z", "content": long},
		},
	})
	require.NoError(t, err)
	c, err := conversation.Normalize(payload)
	require.NoError(t, err)

	s := Summarize(c)

	assert.True(t, strings.HasSuffix(s.FirstPrompt, "…"))
	assert.Equal(t, previewRunes+1, len([]rune(s.FirstPrompt)))
	assert.True(t, strings.HasPrefix(long, strings.TrimSuffix(s.FirstPrompt, "…")))
}

func TestSummarize_Empty(t *testing.T) {
	c, err := conversation.Normalize(json.RawMessage(`{"created_at":"2026-02-11T10:00:00Z"}`))
	require.NoError(t, err)

	s := Summarize(c)

	assert.Zero(t, s.Messages)
	assert.Zero(t, s.Duration)
	assert.Empty(t, s.FirstPrompt)
	assert.Equal(t, []string{}, s.Markers)
}
