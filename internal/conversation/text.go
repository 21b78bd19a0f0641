package conversation

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// textSource is one strategy for reading a message body.
type textSource func(m *rawMessage) (string, bool)

// textSources are tried in order; the first that applies wins.
var textSources = []textSource{
	plainContent,
	blockContent,
	summaryField,
	textField,
}

// ExtractText reads the body of a raw message object. Sources are tried in
// order: a string content, the text of content blocks, summary, then a
// top-level text field. A block array only applies when at least one block
// carries text; an array of tool_use or image blocks alone falls through to
// summary instead of yielding "". Unknown shapes yield an empty string rather
// than an error.
func ExtractText(raw json.RawMessage) string {
	var m rawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return extractText(&m)
}

func extractText(m *rawMessage) string {
	for _, src := range textSources {
		if text, ok := src(m); ok {
			return text
		}
	}
	return ""
}

func plainContent(m *rawMessage) (string, bool) {
	return asString(m.Content)
}

type contentBlock struct {
	Type string          `json:"type"`
	Text json.RawMessage `json:"text"`
}

// blockContent joins the text of every block that has one, separated by a
// blank line.
func blockContent(m *rawMessage) (string, bool) {
	var blocks []json.RawMessage
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return "", false
	}
	var parts []string
	for _, raw := range blocks {
		var b contentBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		if text, ok := asString(b.Text); ok {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n\n"), true
}

func summaryField(m *rawMessage) (string, bool) {
	return asString(m.Summary)
}

func textField(m *rawMessage) (string, bool) {
	return asString(m.Text)
}

func asString(raw json.RawMessage) (string, bool) {
	if isAbsent(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// Preview returns at most maxRunes runes of text, appending "…" when it had to
// cut. It never splits a multi-byte sequence.
func Preview(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}
	n := 0
	for i := range text {
		if n == maxRunes {
			return text[:i] + "…"
		}
		n++
	}
	return text
}
