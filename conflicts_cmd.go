package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/erpsync-go/internal/sync"
)

// conflictIDPrefixLen is the number of characters to show for the conflict
// ID in table output. 8 chars is sufficient for uniqueness in typical use.
const conflictIDPrefixLen = 8

func newConflictsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List unresolved sync conflicts",
		Long: `Display all unresolved conflicts from the state database.

A conflict means both endpoints changed the same document since the last
sync and the configured policy could not pick a winner. Resolution happens
outside the engine: edit one side (or both) so the documents agree, then
re-sync the key.`,
		RunE: runConflicts,
	}
}

// conflictJSON is the JSON-serializable representation of a conflict.
type conflictJSON struct {
	ID            string `json:"id"`
	Doctype       string `json:"doctype"`
	Docname       string `json:"docname"`
	CloudModified string `json:"cloud_modified,omitempty"`
	LocalModified string `json:"local_modified,omitempty"`
	DetectedAt    string `json:"detected_at"`
}

func runConflicts(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	conflicts, err := store.ListUnresolvedConflicts(cmd.Context())
	if err != nil {
		return err
	}

	if len(conflicts) == 0 {
		fmt.Println("No unresolved conflicts.")
		return nil
	}

	if flagJSON {
		return printConflictsJSON(conflicts)
	}

	printConflictsTable(conflicts)

	return nil
}

func printConflictsJSON(conflicts []*sync.ConflictRecord) error {
	items := make([]conflictJSON, len(conflicts))
	for i, c := range conflicts {
		items[i] = conflictJSON{
			ID:            c.ID,
			Doctype:       c.Doctype,
			Docname:       c.Docname,
			CloudModified: c.CloudModified,
			LocalModified: c.LocalModified,
			DetectedAt:    formatNanos(c.CreatedAt),
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(items); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printConflictsTable(conflicts []*sync.ConflictRecord) {
	headers := []string{"ID", "DOCTYPE", "DOCNAME", "CLOUD MODIFIED", "LOCAL MODIFIED", "DETECTED"}
	rows := make([][]string, len(conflicts))

	for i, c := range conflicts {
		idPrefix := c.ID
		if len(idPrefix) > conflictIDPrefixLen {
			idPrefix = idPrefix[:conflictIDPrefixLen]
		}

		rows[i] = []string{
			idPrefix, c.Doctype, c.Docname,
			c.CloudModified, c.LocalModified,
			formatNanos(c.CreatedAt),
		}
	}

	printTable(os.Stdout, headers, rows)
}
