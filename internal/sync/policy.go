package sync

import (
	"github.com/tonimelisma/erpsync-go/internal/frappe"
)

// Decision is the outcome of applying a conflict policy to a divergence.
type Decision struct {
	// Direction is the winning side's copy direction; DirectionNone when
	// Manual is set.
	Direction Direction
	// Resolution is the audit tag recorded on the ConflictRecord.
	Resolution string
	// Manual halts automatic progress for the key.
	Manual bool
}

// Decide applies a conflict policy to two divergent documents. Pure: no
// store access, no clock. latest_timestamp ties go to the cloud side; an
// unparseable timestamp on either side degrades to manual because guessing
// a winner from bad data loses someone's edit.
func Decide(policy Policy, cloudDoc, localDoc frappe.Document) Decision {
	switch policy {
	case PolicyCloudWins:
		return Decision{Direction: DirectionCloudToLocal, Resolution: ResolutionCloudWins}

	case PolicyLocalWins:
		return Decision{Direction: DirectionLocalToCloud, Resolution: ResolutionLocalWins}

	case PolicyManual:
		return Decision{Direction: DirectionNone, Manual: true}

	case PolicyLatestTimestamp:
		cloudTime, cloudOK := frappe.ParseModified(cloudDoc.Modified())
		localTime, localOK := frappe.ParseModified(localDoc.Modified())

		if !cloudOK || !localOK {
			return Decision{Direction: DirectionNone, Manual: true}
		}

		if localTime.After(cloudTime) {
			return Decision{Direction: DirectionLocalToCloud, Resolution: ResolutionLocalWinsByTimestamp}
		}

		return Decision{Direction: DirectionCloudToLocal, Resolution: ResolutionCloudWinsByTimestamp}

	default:
		// Unknown policy configured: never guess a winner.
		return Decision{Direction: DirectionNone, Manual: true}
	}
}
