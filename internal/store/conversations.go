package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
	"github.com/MikeSquared-Agency/floatctl/internal/records"
)

// WriteConversation stores the flattened records of c in one transaction.
// Re-ingesting a conversation replaces its previous messages.
func (s *Store) WriteConversation(ctx context.Context, c *conversation.Conversation, source string) error {
	recs := records.Flatten(c)
	meta, ok := recs[0].(*records.MetaRecord)
	if !ok {
		return fmt.Errorf("flatten %s: first record is %s", c.Meta.ConvID, recs[0].RecordType())
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (conv_id, id, title, created_at, updated_at, markers, message_count, source, raw, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (conv_id) DO UPDATE SET
			title = EXCLUDED.title,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			markers = EXCLUDED.markers,
			message_count = EXCLUDED.message_count,
			source = EXCLUDED.source,
			raw = EXCLUDED.raw,
			ingested_at = now()`,
		meta.ConvID, c.Meta.ID, meta.Title, meta.CreatedAt, c.Meta.UpdatedAt, meta.Markers,
		len(c.Messages), source, jsonOrNil(c.Raw),
	)
	if err != nil {
		return fmt.Errorf("upsert conversation: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE conv_id = $1`, meta.ConvID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	for _, rec := range recs[1:] {
		m, ok := rec.(*records.MessageRecord)
		if !ok {
			continue
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO messages (message_id, conv_id, idx, role, ts, content, project, meeting, markers, raw)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			m.MessageID, m.ConvID, m.Idx, m.Role, m.Timestamp, m.Content, m.Project, m.Meeting, m.Markers,
			jsonOrNil(c.Messages[m.Idx].Raw),
		)
		if err != nil {
			return fmt.Errorf("insert message %d: %w", m.Idx, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ConversationRow is the stored summary of a conversation.
type ConversationRow struct {
	ConvID       string
	Title        *string
	Markers      []string
	MessageCount int
	Source       string
}

// GetConversation fetches the stored summary of a conversation.
func (s *Store) GetConversation(ctx context.Context, convID string) (*ConversationRow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT conv_id, title, markers, message_count, source
		FROM conversations WHERE conv_id = $1`, convID)

	var r ConversationRow
	if err := row.Scan(&r.ConvID, &r.Title, &r.Markers, &r.MessageCount, &r.Source); err != nil {
		return nil, err
	}
	return &r, nil
}

// MessageContents returns the stored message bodies of a conversation in
// index order.
func (s *Store) MessageContents(ctx context.Context, convID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT content FROM messages WHERE conv_id = $1 ORDER BY idx`, convID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func jsonOrNil(raw json.RawMessage) any {
	if len(raw) == 0 || !json.Valid(raw) {
		return nil
	}
	return string(raw)
}
