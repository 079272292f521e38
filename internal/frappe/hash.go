package frappe

import (
	"crypto/md5" //nolint:gosec // change-detection digest, not a security boundary
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DefaultExcludedFields are stripped before hashing. These are bookkeeping
// fields the remote rewrites on every save; including them would make every
// document look permanently changed.
var DefaultExcludedFields = []string{
	"modified",
	"modified_by",
	"creation",
	"owner",
	"idx",
	"docstatus",
}

// ExcludedSet builds the field-strip set from the defaults plus extras.
func ExcludedSet(extras []string) map[string]bool {
	set := make(map[string]bool, len(DefaultExcludedFields)+len(extras))
	for _, f := range DefaultExcludedFields {
		set[f] = true
	}

	for _, f := range extras {
		set[f] = true
	}

	return set
}

// Hash computes the canonical content hash of a document: excluded fields
// removed, remaining fields serialized as compact JSON with lexicographically
// sorted keys, MD5, lowercase hex. The digest only detects change, both
// endpoints just have to agree on it.
//
// encoding/json sorts map keys, so marshaling the stripped map directly
// yields a stable serialization for equivalent documents.
func Hash(doc Document, excluded map[string]bool) (string, error) {
	if doc == nil {
		return "", nil
	}

	clean := make(map[string]any, len(doc))
	for k, v := range doc {
		if excluded[k] {
			continue
		}

		clean[k] = v
	}

	data, err := json.Marshal(clean)
	if err != nil {
		return "", fmt.Errorf("frappe: serializing document for hash: %w", err)
	}

	sum := md5.Sum(data) //nolint:gosec // see above
	return hex.EncodeToString(sum[:]), nil
}
