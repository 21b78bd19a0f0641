package records

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
	"github.com/MikeSquared-Agency/floatctl/internal/markers"
	"github.com/MikeSquared-Agency/floatctl/internal/stream"
)

const export = `[
  {"id":"conv-1","title":"Review","created_at":"2025-01-14T12:00:00Z","messages":[
    {"role":"user","timestamp":"2025-01-14T12:00:00Z","content":"ctx::review project::Api","metadata":{"project":"api","meeting":"standup"}},
    {"role":"assistant","timestamp":"2025-01-14T12:00:05Z","content":[{"type":"text","text":"on it 🚀"},{"type":"text","text":"float.config ✔"}]},
    {"role":"tool","timestamp":"2025-01-14T12:00:06Z","summary":"日本語 👨‍👩‍👧"}
  ]},
  {"id":"conv-2","created_at":"2025-01-15T09:00:00Z","messages":[]}
]`

func normalizeAll(t *testing.T, input string) []*conversation.Conversation {
	t.Helper()
	cs, err := stream.NewConversationStream(strings.NewReader(input))
	require.NoError(t, err)
	var out []*conversation.Conversation
	for c, err := range cs.All() {
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func TestFlatten(t *testing.T) {
	convs := normalizeAll(t, export)
	recs := Flatten(convs[0])

	require.Len(t, recs, 4)
	meta, ok := recs[0].(*MetaRecord)
	require.True(t, ok)
	assert.Equal(t, TypeMeta, meta.Type)
	assert.Equal(t, "conv-1", meta.ConvID)
	assert.Equal(t, []string{"ctx::review", "float.config", "project::api"}, meta.Markers)

	for i, rec := range recs[1:] {
		msg, ok := rec.(*MessageRecord)
		require.True(t, ok)
		assert.Equal(t, TypeMessage, msg.Type)
		assert.Equal(t, i, msg.Idx)
		assert.Equal(t, "conv-1", msg.ConversationID())
	}
	first := recs[1].(*MessageRecord)
	assert.Equal(t, "user", first.Role)
	require.NotNil(t, first.Project)
	assert.Equal(t, "api", *first.Project)
	assert.Equal(t, "standup", *first.Meeting)
}

func TestWriter_LineFormat(t *testing.T) {
	convs := normalizeAll(t, export)
	var buf bytes.Buffer
	w := NewWriter(&buf)

	for _, c := range convs {
		require.NoError(t, w.Write(c))
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, 5, w.Lines())

	var meta map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &meta))
	assert.Equal(t, "meta", meta["type"])
	assert.Equal(t, "2025-01-14T12:00:00Z", meta["created_at"])
	assert.Equal(t, "Review", meta["title"])

	var msg map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &msg))
	for _, key := range []string{"type", "conv_id", "idx", "message_id", "role", "timestamp", "content", "project", "meeting", "markers"} {
		assert.Contains(t, msg, key)
	}
	assert.Nil(t, msg["project"])
	assert.Equal(t, "2025-01-14T12:00:05Z", msg["timestamp"])

	var emptyMeta map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[4]), &emptyMeta))
	assert.Nil(t, emptyMeta["title"])
	assert.Equal(t, []any{}, emptyMeta["markers"])
}

func TestRoundTrip_PreservesOrderAndMarkers(t *testing.T) {
	convs := normalizeAll(t, export)
	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, c := range convs {
		require.NoError(t, w.Write(c))
	}

	r := NewReader(&buf)
	type group struct {
		meta *MetaRecord
		msgs []*MessageRecord
	}
	var groups []*group
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		switch v := rec.(type) {
		case *MetaRecord:
			groups = append(groups, &group{meta: v})
		case *MessageRecord:
			require.NotEmpty(t, groups)
			g := groups[len(groups)-1]
			require.Equal(t, g.meta.ConvID, v.ConvID)
			g.msgs = append(g.msgs, v)
		}
	}

	require.Len(t, groups, len(convs))
	for i, c := range convs {
		g := groups[i]
		assert.Equal(t, c.Meta.ConvID, g.meta.ConvID)
		assert.True(t, c.Meta.Markers.Equal(markers.NewSet(g.meta.Markers...)))
		require.Len(t, g.msgs, len(c.Messages))
		for j, m := range c.Messages {
			assert.Equal(t, j, g.msgs[j].Idx)
			assert.Equal(t, m.ID.String(), g.msgs[j].MessageID)
			assert.Equal(t, m.Content, g.msgs[j].Content)
			assert.True(t, m.Timestamp.Equal(g.msgs[j].Timestamp))
			assert.True(t, m.Markers.Equal(markers.NewSet(g.msgs[j].Markers...)))
		}
	}
}

func TestWriter_UnencodableConversationWritesNothing(t *testing.T) {
	convs := normalizeAll(t, export)
	bad := *convs[0]
	bad.Meta.CreatedAt = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	w := NewWriter(&buf)
	err := w.Write(&bad)

	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "conv-1", encErr.ConvID)
	assert.Equal(t, 0, w.Lines())
	assert.Zero(t, buf.Len())

	require.NoError(t, w.Write(convs[1]))
	assert.Equal(t, 1, w.Lines())
}

type failingWriter struct {
	after int
	n     int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.n >= f.after {
		return 0, errors.New("disk full")
	}
	f.n++
	return len(p), nil
}

func TestWriter_StopsOnFirstError(t *testing.T) {
	convs := normalizeAll(t, export)
	fw := &failingWriter{after: 2}
	w := NewWriter(fw)

	err := w.Write(convs[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 2, w.Lines())
}

type flushRecorder struct {
	bytes.Buffer
	flushes int
}

func (f *flushRecorder) Flush() { f.flushes++ }

func TestWriter_FlushesEveryLine(t *testing.T) {
	convs := normalizeAll(t, export)
	fr := &flushRecorder{}
	w := NewWriter(fr)

	require.NoError(t, w.Write(convs[0]))
	assert.Equal(t, 4, fr.flushes)
	assert.Equal(t, 4, strings.Count(fr.String(), "\n"))
}

func TestReader_Errors(t *testing.T) {
	r := NewReader(strings.NewReader("\n{\"type\":\"bogus\"}\n"))
	_, err := r.Next()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	r = NewReader(strings.NewReader("not json\n"))
	_, err = r.Next()
	require.Error(t, err)
}
