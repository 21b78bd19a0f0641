package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/floatctl/internal/conversation"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func collectRaw(t *testing.T, s *RawStream) ([]string, []error) {
	t.Helper()
	var values []string
	var errs []error
	for raw, err := range s.All() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		values = append(values, string(raw))
	}
	return values, errs
}

func TestDetect(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    Format
	}{
		{"array", `[{"a":1}]`, FormatArray},
		{"array after whitespace", "\n\t  [1]", FormatArray},
		{"array after bom", "\xEF\xBB\xBF[1]", FormatArray},
		{"ndjson", `{"a":1}` + "\n" + `{"a":2}`, FormatNDJSON},
		{"ndjson after blank lines", "\n\n{\"a\":1}", FormatNDJSON},
		{"garbage is ndjson", "hello", FormatNDJSON},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Detect(writeFile(t, "in.json", tc.content))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDetect_EmptyFile(t *testing.T) {
	for _, content := range []string{"", "   \n\t\r\n"} {
		_, err := Detect(writeFile(t, "empty.json", content))
		assert.ErrorIs(t, err, ErrEmptyFile)
	}
}

func TestOpen_PathNotFound(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorIs(t, err, ErrPathNotFound)

	_, err = OpenConversations("/nonexistent/file.jsonl")
	assert.ErrorIs(t, err, ErrPathNotFound)
}

func TestRawStream_ArrayYieldsEveryElementInOrder(t *testing.T) {
	path := writeFile(t, "in.json", "[ 1 ,\n\n {\"b\": [2, 3]},\t\"x\" , null,\n{} ]\n")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, FormatArray, s.Format())
	values, errs := collectRaw(t, s)
	assert.Empty(t, errs)
	assert.Equal(t, []string{`1`, `{"b": [2, 3]}`, `"x"`, `null`, `{}`}, values)
}

func TestRawStream_EmptyArray(t *testing.T) {
	s, err := NewRawStream(strings.NewReader("[]"))
	require.NoError(t, err)

	values, errs := collectRaw(t, s)
	assert.Empty(t, values)
	assert.Empty(t, errs)
}

func TestRawStream_ArraySyntaxErrorIsLastItem(t *testing.T) {
	s, err := NewRawStream(strings.NewReader(`[{"a":1}, {bad}, {"c":3}]`))
	require.NoError(t, err)

	first, err := s.Next()
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(first))

	_, err = s.Next()
	var jerr *JSONError
	require.ErrorAs(t, err, &jerr)
	assert.Zero(t, jerr.Line)

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRawStream_TruncatedArray(t *testing.T) {
	s, err := NewRawStream(strings.NewReader(`[{"a":1}`))
	require.NoError(t, err)

	_, err = s.Next()
	require.NoError(t, err)

	_, err = s.Next()
	var jerr *JSONError
	require.ErrorAs(t, err, &jerr)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestRawStream_NDJSONSkipsBlankLines(t *testing.T) {
	content := "\n{\"n\":1}\n\n   \n{\"n\":2}\r\n\t\n{\"n\":3}"
	s, err := NewRawStream(strings.NewReader(content))
	require.NoError(t, err)

	assert.Equal(t, FormatNDJSON, s.Format())
	values, errs := collectRaw(t, s)
	assert.Empty(t, errs)
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`, `{"n":3}`}, values)
}

func TestRawStream_NDJSONBadLineKeepsNeighbours(t *testing.T) {
	content := "{\"n\":1}\n\n{not json}\n{\"n\":3}\n"
	s, err := NewRawStream(strings.NewReader(content))
	require.NoError(t, err)

	first, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"n":1}`, string(first))

	_, err = s.Next()
	var jerr *JSONError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, 3, jerr.Line)

	third, err := s.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"n":3}`, string(third))

	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRawStream_NDJSONLineNumbersCountLeadingBlanks(t *testing.T) {
	s, err := NewRawStream(strings.NewReader("\n\n{oops}\n"))
	require.NoError(t, err)

	_, err = s.Next()
	var jerr *JSONError
	require.ErrorAs(t, err, &jerr)
	assert.Equal(t, 3, jerr.Line)
}

func TestRawStream_NDJSONLineTooLong(t *testing.T) {
	long := `{"pad":"` + strings.Repeat("x", 200) + `"}`
	content := `{"n":1}` + "\n" + long + "\n" + `{"n":3}` + "\n" + `{"n":4}` + "\n"
	s, err := NewRawStream(strings.NewReader(content), WithMaxLineBytes(64))
	require.NoError(t, err)

	values, errs := collectRaw(t, s)
	assert.Equal(t, []string{`{"n":1}`, `{"n":3}`, `{"n":4}`}, values)
	require.Len(t, errs, 1)

	var jerr *JSONError
	require.ErrorAs(t, errs[0], &jerr)
	assert.Equal(t, 2, jerr.Line)
	assert.ErrorIs(t, errs[0], bufio.ErrTooLong)
}

func TestRawStream_NDJSONLineTooLongAtEOF(t *testing.T) {
	content := `{"n":1}` + "\n" + strings.Repeat("y", 500)
	s, err := NewRawStream(strings.NewReader(content), WithMaxLineBytes(64))
	require.NoError(t, err)

	_, err = s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	assert.ErrorIs(t, err, bufio.ErrTooLong)
	_, err = s.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRawStream_NDJSONLongerThanReadBuffer(t *testing.T) {
	big := `{"pad":"` + strings.Repeat("z", 3*readBufferSize) + `"}`
	s, err := NewRawStream(strings.NewReader(big + "\n" + `{"n":2}`))
	require.NoError(t, err)

	values, errs := collectRaw(t, s)
	assert.Empty(t, errs)
	require.Len(t, values, 2)
	assert.Equal(t, big, values[0])
	assert.Equal(t, `{"n":2}`, values[1])
}

func TestRawStream_ValuesDoNotAlias(t *testing.T) {
	s, err := NewRawStream(strings.NewReader("{\"n\":1}\n{\"n\":2}\n"))
	require.NoError(t, err)

	first, err := s.Next()
	require.NoError(t, err)
	_, err = s.Next()
	require.NoError(t, err)

	assert.Equal(t, `{"n":1}`, string(first))
}

func TestRawStream_ArrayOfN(t *testing.T) {
	for _, n := range []int{1, 2, 17, 250} {
		items := make([]string, n)
		for i := range items {
			items[i] = `{"i":` + strings.Repeat(" ", i%3) + string(rune('0'+i%10)) + `}`
		}
		s, err := NewRawStream(strings.NewReader("[\n" + strings.Join(items, " ,\n ") + "\n]"))
		require.NoError(t, err)

		values, errs := collectRaw(t, s)
		assert.Empty(t, errs)
		require.Len(t, values, n)
		for i, v := range values {
			var obj struct{ I int }
			require.NoError(t, json.Unmarshal([]byte(v), &obj))
			assert.Equal(t, i%10, obj.I)
		}
	}
}

const exportArray = `[
  {"id":"c1","title":"First","created_at":"2025-01-14T12:00:00Z",
   "messages":[{"role":"user","timestamp":"2025-01-14T12:00:00Z","content":"ctx::review hi"}]},
  {"id":"c2","messages":[]},
  [1,2],
  {"id":"c4","created_at":"2025-01-15T08:00:00Z","messages":[
     {"role":"assistant","timestamp":"2025-01-15T08:00:01Z","content":[{"type":"text","text":"ok"}]}]}
]`

func TestConversationStream_ItemsFailIndependently(t *testing.T) {
	cs, err := OpenConversations(writeFile(t, "export.json", exportArray))
	require.NoError(t, err)
	defer cs.Close()

	var ok []string
	var failed []int
	for conv, err := range cs.All() {
		if err != nil {
			var ie *ItemError
			require.ErrorAs(t, err, &ie)
			failed = append(failed, ie.Item)
			continue
		}
		ok = append(ok, conv.Meta.ConvID)
	}

	assert.Equal(t, []string{"c1", "c4"}, ok)
	assert.Equal(t, []int{1, 2}, failed)
}

func TestConversationStream_ErrorKinds(t *testing.T) {
	cs, err := NewConversationStream(strings.NewReader(exportArray))
	require.NoError(t, err)

	_, err = cs.Next()
	require.NoError(t, err)

	_, err = cs.Next()
	var mfe *conversation.MissingFieldError
	require.ErrorAs(t, err, &mfe)
	assert.Equal(t, "created_at", mfe.Field)

	_, err = cs.Next()
	var cpe *conversation.ConversationParseError
	require.ErrorAs(t, err, &cpe)

	conv, err := cs.Next()
	require.NoError(t, err)
	assert.Equal(t, "c4", conv.Meta.ConvID)

	_, err = cs.Next()
	assert.Equal(t, io.EOF, err)
}

func TestConversationStream_NDJSON(t *testing.T) {
	content := `{"id":"a","created_at":"2025-01-14T12:00:00Z"}` + "\n\n" +
		`{broken` + "\n" +
		`{"id":"b","created_at":"2025-01-14T13:00:00Z"}` + "\n"
	cs, err := NewConversationStream(strings.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, FormatNDJSON, cs.Format())

	var ids []string
	var errs []error
	for conv, err := range cs.All() {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ids = append(ids, conv.Meta.ConvID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
	require.Len(t, errs, 1)
	var jerr *JSONError
	assert.ErrorAs(t, errs[0], &jerr)
}

func TestConversationStream_NotRewindable(t *testing.T) {
	cs, err := NewConversationStream(strings.NewReader(`{"id":"a","created_at":"2025-01-14T12:00:00Z"}`))
	require.NoError(t, err)

	n := 0
	for range cs.All() {
		n++
	}
	for range cs.All() {
		n++
	}
	assert.Equal(t, 1, n)
}

func TestWatch_DeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []Result
	for r := range Watch(ctx, strings.NewReader(exportArray)) {
		got = append(got, r)
	}

	require.Len(t, got, 4)
	for i, r := range got {
		assert.Equal(t, i, r.Item)
	}
	assert.NoError(t, got[0].Err)
	assert.Equal(t, "c1", got[0].Conversation.Meta.ConvID)
	assert.Error(t, got[1].Err)
	assert.Error(t, got[2].Err)
	assert.NoError(t, got[3].Err)
}

func TestWatch_EmptyInput(t *testing.T) {
	var got []Result
	for r := range Watch(context.Background(), strings.NewReader("")) {
		got = append(got, r)
	}

	require.Len(t, got, 1)
	assert.Equal(t, -1, got[0].Item)
	assert.True(t, errors.Is(got[0].Err, ErrEmptyFile))
}

func TestWatch_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := Watch(ctx, strings.NewReader(exportArray))

	first := <-ch
	require.NoError(t, first.Err)
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}
