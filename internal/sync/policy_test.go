package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/erpsync-go/internal/frappe"
)

func docModified(modified string) frappe.Document {
	return frappe.Document{"name": "DOC-001", "modified": modified}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policy   Policy
		cloudDoc frappe.Document
		localDoc frappe.Document
		want     Decision
	}{
		{
			name:     "cloud wins unconditionally",
			policy:   PolicyCloudWins,
			cloudDoc: docModified("2025-01-01 10:00:00"),
			localDoc: docModified("2025-06-01 10:00:00"),
			want:     Decision{Direction: DirectionCloudToLocal, Resolution: ResolutionCloudWins},
		},
		{
			name:     "local wins unconditionally",
			policy:   PolicyLocalWins,
			cloudDoc: docModified("2025-06-01 10:00:00"),
			localDoc: docModified("2025-01-01 10:00:00"),
			want:     Decision{Direction: DirectionLocalToCloud, Resolution: ResolutionLocalWins},
		},
		{
			name:     "manual never picks a winner",
			policy:   PolicyManual,
			cloudDoc: docModified("2025-01-01 10:00:00"),
			localDoc: docModified("2025-06-01 10:00:00"),
			want:     Decision{Direction: DirectionNone, Manual: true},
		},
		{
			name:     "latest timestamp local newer",
			policy:   PolicyLatestTimestamp,
			cloudDoc: docModified("2025-01-01 10:00:00"),
			localDoc: docModified("2025-01-02 10:00:00"),
			want:     Decision{Direction: DirectionLocalToCloud, Resolution: ResolutionLocalWinsByTimestamp},
		},
		{
			name:     "latest timestamp cloud newer",
			policy:   PolicyLatestTimestamp,
			cloudDoc: docModified("2025-01-02 10:00:00.123456"),
			localDoc: docModified("2025-01-02 10:00:00"),
			want:     Decision{Direction: DirectionCloudToLocal, Resolution: ResolutionCloudWinsByTimestamp},
		},
		{
			name:     "latest timestamp tie goes to cloud",
			policy:   PolicyLatestTimestamp,
			cloudDoc: docModified("2025-01-02 10:00:00"),
			localDoc: docModified("2025-01-02 10:00:00"),
			want:     Decision{Direction: DirectionCloudToLocal, Resolution: ResolutionCloudWinsByTimestamp},
		},
		{
			name:     "unparseable cloud timestamp degrades to manual",
			policy:   PolicyLatestTimestamp,
			cloudDoc: docModified("not a timestamp"),
			localDoc: docModified("2025-01-02 10:00:00"),
			want:     Decision{Direction: DirectionNone, Manual: true},
		},
		{
			name:     "missing local timestamp degrades to manual",
			policy:   PolicyLatestTimestamp,
			cloudDoc: docModified("2025-01-02 10:00:00"),
			localDoc: frappe.Document{"name": "DOC-001"},
			want:     Decision{Direction: DirectionNone, Manual: true},
		},
		{
			name:     "unknown policy degrades to manual",
			policy:   Policy("bogus"),
			cloudDoc: docModified("2025-01-01 10:00:00"),
			localDoc: docModified("2025-01-02 10:00:00"),
			want:     Decision{Direction: DirectionNone, Manual: true},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, Decide(tt.policy, tt.cloudDoc, tt.localDoc))
		})
	}
}

func TestValidPolicy(t *testing.T) {
	t.Parallel()

	for _, p := range []Policy{PolicyLatestTimestamp, PolicyCloudWins, PolicyLocalWins, PolicyManual} {
		assert.True(t, ValidPolicy(p), string(p))
	}

	assert.False(t, ValidPolicy(Policy("bogus")))
	assert.False(t, ValidPolicy(Policy("")))
}
