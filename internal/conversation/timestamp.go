package conversation

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strings"
	"time"
)

const legacyLayout = "2006-01-02 15:04:05 -0700"

// Timestamps must fall in years 0 through 9999, the range RFC 3339 and
// time.Time.MarshalJSON can represent.
var (
	minTimestamp = time.Date(0, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(10000, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// legacyPattern guards the legacy layout; time.Parse alone accepts single-digit
// hours and an optional fraction anywhere after the seconds.
var legacyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}(?:\.\d+)? [+-]\d{4}$`)

// ParseTimestamp parses raw as RFC3339, falling back to the legacy
// "YYYY-MM-DD HH:MM:SS[.fraction] ±HHMM" layout. The result is in UTC.
func ParseTimestamp(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return checkRange(t.UTC(), raw)
	}
	if legacyPattern.MatchString(s) {
		if t, err := time.Parse(legacyLayout, s); err == nil {
			return checkRange(t.UTC(), raw)
		}
	}
	return time.Time{}, &InvalidTimestampError{Value: raw}
}

func checkRange(t time.Time, raw string) (time.Time, error) {
	if t.Before(minTimestamp) || !t.Before(maxTimestamp) {
		return time.Time{}, &InvalidTimestampError{Value: raw}
	}
	return t, nil
}

// resolveTimestamp reads the first present field out of fields. It returns
// ok=false when every field is absent or null. A JSON number is read as Unix
// epoch seconds; one outside years 0 through 9999 (a millisecond epoch, say)
// is an *InvalidTimestampError.
func resolveTimestamp(fields []namedRaw) (ts time.Time, ok bool, err error) {
	for _, f := range fields {
		if isAbsent(f.raw) {
			continue
		}
		ts, err := decodeTimestamp(f.raw)
		if err != nil {
			var ite *InvalidTimestampError
			if errors.As(err, &ite) {
				ite.Field = f.name
			}
			return time.Time{}, true, err
		}
		return ts, true, nil
	}
	return time.Time{}, false, nil
}

func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ParseTimestamp(s)
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil {
		if secs < float64(minTimestamp.Unix()) || secs >= float64(maxTimestamp.Unix()) {
			return time.Time{}, &InvalidTimestampError{Value: string(raw)}
		}
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), nil
	}
	return time.Time{}, &InvalidTimestampError{Value: string(raw)}
}

type namedRaw struct {
	name string
	raw  json.RawMessage
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
