//go:build integration

package store

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	require.NoError(t, Migrate(dbURL, 0))

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestIntegration_WriteConversation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	convID := "integration-" + uuid.New().String()[:8]

	c, err := conversation.Normalize(json.RawMessage(`{
		"id":"` + convID + `","title":"Integration","created_at":"2025-01-14T12:00:00Z",
		"messages":[
			{"role":"user","timestamp":"2025-01-14T12:00:00Z","content":"ctx::review 🚀","metadata":{"project":"api"}},
			{"role":"assistant","timestamp":"2025-01-14T12:00:05Z","content":"done"}
		]
	}`))
	require.NoError(t, err)

	require.NoError(t, s.WriteConversation(ctx, c, "integration"))

	row, err := s.GetConversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, "Integration", *row.Title)
	assert.Equal(t, []string{"ctx::review"}, row.Markers)
	assert.Equal(t, 2, row.MessageCount)
	assert.Equal(t, "integration", row.Source)

	contents, err := s.MessageContents(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, []string{"ctx::review 🚀", "done"}, contents)

	// Re-ingesting replaces the messages instead of duplicating them.
	c2, err := conversation.Normalize(c.Raw)
	require.NoError(t, err)
	require.NoError(t, s.WriteConversation(ctx, c2, "integration"))

	contents, err = s.MessageContents(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, contents, 2)
}

func TestIntegration_SharedMessageIDAcrossConversations(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	msgID := uuid.NewString()

	for _, convID := range []string{"shared-a-" + msgID[:8], "shared-b-" + msgID[:8]} {
		c, err := conversation.Normalize(json.RawMessage(`{
			"id":"` + convID + `","created_at":"2025-01-14T12:00:00Z",
			"messages":[{"id":"` + msgID + `","role":"user","timestamp":"2025-01-14T12:00:00Z","content":"forked"}]
		}`))
		require.NoError(t, err)
		require.NoError(t, s.WriteConversation(ctx, c, "integration"))

		contents, err := s.MessageContents(ctx, convID)
		require.NoError(t, err)
		assert.Equal(t, []string{"forked"}, contents)
	}
}
