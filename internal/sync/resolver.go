package sync

// Resolve decides whether a key needs syncing and in which direction, from
// the current content hashes of both sides and the last synced state. Empty
// hashes mean the document is absent on that side.
//
//	absent / absent                      → skip
//	present / absent                     → create on the other side
//	both match the record               → none
//	exactly one side drifted            → copy drifted side over
//	both sides drifted                  → conflict
func Resolve(cloudHash, localHash string, record *SyncRecord) Direction {
	switch {
	case cloudHash == "" && localHash == "":
		return DirectionSkip
	case cloudHash != "" && localHash == "":
		return DirectionCloudToLocal
	case cloudHash == "" && localHash != "":
		return DirectionLocalToCloud
	}

	// Both present. A nil record means the key was never synced: both sides
	// hold independent content, which is a divergence unless identical.
	var lastCloud, lastLocal string
	if record != nil {
		lastCloud = record.CloudHash
		lastLocal = record.LocalHash
	}

	cloudChanged := cloudHash != lastCloud
	localChanged := localHash != lastLocal

	switch {
	case !cloudChanged && !localChanged:
		return DirectionNone
	case cloudChanged && !localChanged:
		return DirectionCloudToLocal
	case !cloudChanged && localChanged:
		return DirectionLocalToCloud
	default:
		// Identical content on both sides needs no copy even when the
		// record has never seen either hash.
		if cloudHash == localHash {
			return DirectionNone
		}

		return DirectionConflict
	}
}

// ApplyHint reconciles a webhook-provided direction hint with the resolved
// direction. The hint is accepted only when consistent with the decision
// table; otherwise the table wins, so a spurious webhook can never force a
// wrong-way copy.
func ApplyHint(resolved, hint Direction) Direction {
	if hint == resolved {
		return hint
	}

	return resolved
}
