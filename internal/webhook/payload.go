// Package webhook implements the HTTP intake for change notifications:
// signature verification, payload extraction, and durable enqueueing. The
// intake never performs sync work inline; accepted events are handed to the
// queue worker through the state store.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/tonimelisma/erpsync-go/internal/sync"
)

// Parse failures surfaced to the HTTP layer as 400 responses.
var (
	ErrEmptyPayload  = errors.New("webhook: empty payload")
	ErrMissingFields = errors.New("webhook: missing doctype or name")
)

// Event is a change notification parsed once at intake. Downstream
// components consume the tagged fields and never re-parse Raw.
type Event struct {
	Source  sync.Source
	Doctype string
	Docname string
	Action  string
	Raw     string
}

// actionAliases maps emitter-specific event names onto the three canonical
// actions. Anything unrecognized is treated as an update, which the resolver
// repairs from the actual document state either way.
var actionAliases = map[string]string{
	"create":       sync.ActionCreate,
	"after_insert": sync.ActionCreate,
	"update":       sync.ActionUpdate,
	"on_update":    sync.ActionUpdate,
	"save":         sync.ActionUpdate,
	"delete":       sync.ActionDelete,
	"on_trash":     sync.ActionDelete,
	"on_cancel":    sync.ActionDelete,
}

func normalizeAction(action string) string {
	if canonical, ok := actionAliases[strings.ToLower(action)]; ok {
		return canonical
	}

	return sync.ActionUpdate
}

// ParseEvent extracts an Event from a request body. JSON bodies are read
// directly; form-url-encoded bodies carry the JSON in a `data` field, a
// shape some emitters use. Fields are read from the top level with a
// fallback to a nested `doc` object.
func ParseEvent(source sync.Source, body []byte, contentType string) (*Event, error) {
	raw := body

	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil &&
		mediaType == "application/x-www-form-urlencoded" {
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("webhook: parsing form body: %w", err)
		}

		raw = []byte(values.Get("data"))
	}

	if len(raw) == 0 {
		return nil, ErrEmptyPayload
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("webhook: parsing payload: %w", err)
	}

	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	doctype := stringField(payload, "doctype")
	docname := stringField(payload, "name")
	action := stringField(payload, "action")

	if doctype == "" || docname == "" {
		if doc, ok := payload["doc"].(map[string]any); ok {
			if doctype == "" {
				doctype = stringField(doc, "doctype")
			}

			if docname == "" {
				docname = stringField(doc, "name")
			}

			if action == "" {
				action = stringField(doc, "action")
			}
		}
	}

	if doctype == "" || docname == "" {
		return nil, ErrMissingFields
	}

	return &Event{
		Source:  source,
		Doctype: doctype,
		Docname: docname,
		Action:  normalizeAction(action),
		Raw:     string(raw),
	}, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
