package frappe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_StableAcrossFieldOrder(t *testing.T) {
	t.Parallel()

	excluded := ExcludedSet(nil)

	a := Document{"name": "C1", "customer_name": "Acme", "territory": "All"}
	b := Document{"territory": "All", "name": "C1", "customer_name": "Acme"}

	ha, err := Hash(a, excluded)
	require.NoError(t, err)

	hb, err := Hash(b, excluded)
	require.NoError(t, err)

	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 32)
}

func TestHash_IgnoresExcludedFields(t *testing.T) {
	t.Parallel()

	excluded := ExcludedSet([]string{"custom_internal"})

	base := Document{"name": "C1", "customer_name": "Acme"}
	noisy := Document{
		"name":            "C1",
		"customer_name":   "Acme",
		"modified":        "2025-01-02 10:00:00",
		"modified_by":     "admin@example.com",
		"creation":        "2024-12-01 09:00:00",
		"owner":           "admin@example.com",
		"idx":             3,
		"docstatus":       1,
		"custom_internal": "x",
	}

	hBase, err := Hash(base, excluded)
	require.NoError(t, err)

	hNoisy, err := Hash(noisy, excluded)
	require.NoError(t, err)

	assert.Equal(t, hBase, hNoisy)
}

func TestHash_DetectsContentChange(t *testing.T) {
	t.Parallel()

	excluded := ExcludedSet(nil)

	a := Document{"name": "C1", "customer_name": "Acme"}
	b := Document{"name": "C1", "customer_name": "AcmeCo"}

	ha, err := Hash(a, excluded)
	require.NoError(t, err)

	hb, err := Hash(b, excluded)
	require.NoError(t, err)

	assert.NotEqual(t, ha, hb)
}

func TestHash_NilDocumentIsEmpty(t *testing.T) {
	t.Parallel()

	h, err := Hash(nil, ExcludedSet(nil))
	require.NoError(t, err)
	assert.Empty(t, h)
}

func TestParseModified(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		ok    bool
	}{
		{"microseconds", "2025-01-02 10:00:00.123456", true},
		{"seconds", "2025-01-02 10:00:00", true},
		{"iso_t", "2025-01-02T10:00:00", true},
		{"empty", "", false},
		{"garbage", "not-a-timestamp", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parsed, ok := ParseModified(tt.value)
			if ok != tt.ok {
				t.Fatalf("ParseModified(%q) ok = %v, want %v", tt.value, ok, tt.ok)
			}

			if ok && parsed.IsZero() {
				t.Errorf("ParseModified(%q) returned zero time with ok=true", tt.value)
			}
		})
	}
}

func TestParseModified_Ordering(t *testing.T) {
	t.Parallel()

	older, ok := ParseModified("2025-01-02 09:00:00")
	require.True(t, ok)

	newer, ok := ParseModified("2025-01-02 10:00:00")
	require.True(t, ok)

	assert.True(t, newer.After(older))
}
