package frappe

import (
	"time"
)

// Document is a Frappe document: an unordered bag of JSON-compatible fields.
// The client treats every field opaquely except name and modified.
type Document map[string]any

// Name returns the document's unique identifier within its doctype,
// or empty string if the field is absent or not a string.
func (d Document) Name() string {
	name, _ := d["name"].(string)
	return name
}

// Modified returns the raw modified timestamp string assigned by the
// remote on each save, or empty string if absent.
func (d Document) Modified() string {
	mod, _ := d["modified"].(string)
	return mod
}

// Clone returns a shallow copy of the document. Field values are shared;
// callers that mutate nested structures must deep-copy themselves.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}

	return out
}

// modifiedFormats are the timestamp layouts Frappe emits, most common first.
// Microsecond precision is the default on current versions; older deployments
// emit second precision, and webhook relays sometimes normalize to ISO-8601.
var modifiedFormats = []string{
	"2006-01-02 15:04:05.000000",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05",
	time.RFC3339,
}

// ParseModified parses a Frappe modified timestamp. Returns the zero time
// and false when the value is empty or matches no known layout.
func ParseModified(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range modifiedFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
