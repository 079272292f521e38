package webhook

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/erpsync-go/internal/sync"
)

func TestParseEventTopLevel(t *testing.T) {
	t.Parallel()

	body := []byte(`{"doctype":"Customer","name":"C1","action":"on_update","customer_name":"Acme"}`)

	event, err := ParseEvent(sync.SourceCloud, body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, sync.SourceCloud, event.Source)
	assert.Equal(t, "Customer", event.Doctype)
	assert.Equal(t, "C1", event.Docname)
	assert.Equal(t, sync.ActionUpdate, event.Action)
	assert.Equal(t, string(body), event.Raw)
}

func TestParseEventNestedDocFallback(t *testing.T) {
	t.Parallel()

	body := []byte(`{"event":"after_insert","doc":{"doctype":"Customer","name":"C1","action":"after_insert"}}`)

	event, err := ParseEvent(sync.SourceLocal, body, "application/json")
	require.NoError(t, err)
	assert.Equal(t, "Customer", event.Doctype)
	assert.Equal(t, "C1", event.Docname)
	assert.Equal(t, sync.ActionCreate, event.Action)
}

func TestParseEventFormEncoded(t *testing.T) {
	t.Parallel()

	form := url.Values{"data": {`{"doctype":"Item","name":"ITEM-001","action":"on_trash"}`}}

	event, err := ParseEvent(sync.SourceCloud, []byte(form.Encode()), "application/x-www-form-urlencoded")
	require.NoError(t, err)
	assert.Equal(t, "Item", event.Doctype)
	assert.Equal(t, "ITEM-001", event.Docname)
	assert.Equal(t, sync.ActionDelete, event.Action)
}

func TestParseEventErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		body        string
		contentType string
		wantErr     error
	}{
		{"empty body", "", "application/json", ErrEmptyPayload},
		{"empty object", "{}", "application/json", ErrEmptyPayload},
		{"missing name", `{"doctype":"Customer"}`, "application/json", ErrMissingFields},
		{"missing doctype", `{"name":"C1"}`, "application/json", ErrMissingFields},
		{"form without data field", "other=1", "application/x-www-form-urlencoded", ErrEmptyPayload},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ParseEvent(sync.SourceCloud, []byte(tt.body), tt.contentType)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := ParseEvent(sync.SourceCloud, []byte("not json"), "application/json")
	assert.Error(t, err)
}

func TestNormalizeAction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action string
		want   string
	}{
		{"create", sync.ActionCreate},
		{"after_insert", sync.ActionCreate},
		{"update", sync.ActionUpdate},
		{"on_update", sync.ActionUpdate},
		{"save", sync.ActionUpdate},
		{"delete", sync.ActionDelete},
		{"on_trash", sync.ActionDelete},
		{"on_cancel", sync.ActionDelete},
		{"SAVE", sync.ActionUpdate},
		{"", sync.ActionUpdate},
		{"something_else", sync.ActionUpdate},
	}

	for _, tt := range tests {
		tt := tt
		assert.Equal(t, tt.want, normalizeAction(tt.action), tt.action)
	}
}
