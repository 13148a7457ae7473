// Package timestamp normalizes the timestamp encodings the remote store is
// known to emit into a single internal time representation.
package timestamp

import "time"

// FarPast is the sentinel returned for unparseable input. It predates any
// real record mutation, so a malformed timestamp always loses a conflict
// comparison instead of crashing the cycle.
var FarPast = time.Time{}

// Canonical is the encoding used when writing timestamps back to the remote
// store: RFC 3339 with microsecond precision and a colon-separated offset.
const Canonical = "2006-01-02T15:04:05.999999Z07:00"

// layouts are attempted in priority order; the first successful parse wins.
// The second entry is the text form Postgres emits for timestamptz columns,
// which is the common case for this backing store.
var layouts = []string{
	Canonical,
	"2006-01-02 15:04:05.999999-07",
	"2006-01-02 15:04:05.999999Z07:00",
	"2006-01-02T15:04:05.999999-07",
	"2006-01-02T15:04:05.999999-0700",
	"2006-01-02 15:04:05-07",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// Parse converts a remote-supplied timestamp string into an instant. It
// never fails: input that matches no known encoding yields FarPast, and the
// caller decides whether that is worth logging.
func Parse(raw string) time.Time {
	if raw == "" {
		return FarPast
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return FarPast
}

// Format renders an instant in the canonical encoding for upload.
func Format(t time.Time) string {
	return t.UTC().Format(Canonical)
}

// IsSentinel reports whether t is the unparseable-input sentinel.
func IsSentinel(t time.Time) bool {
	return t.IsZero()
}
