package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/erpsync-go/internal/sync"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show sync record and queue counts",
		RunE:  runStatus,
	}
}

// statusJSON is the JSON-serializable status report.
type statusJSON struct {
	Records         map[string]int `json:"records"`
	QueuePending    int            `json:"queue_pending"`
	QueueProcessing int            `json:"queue_processing"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()

	counts, err := store.StatusCounts(ctx)
	if err != nil {
		return err
	}

	pending, processing, err := store.QueueCounts(ctx)
	if err != nil {
		return err
	}

	if flagJSON {
		report := statusJSON{
			Records:         make(map[string]int, len(counts)),
			QueuePending:    pending,
			QueueProcessing: processing,
		}

		for status, n := range counts {
			report.Records[string(status)] = n
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("encoding JSON output: %w", err)
		}

		return nil
	}

	headers := []string{"STATUS", "RECORDS"}

	var rows [][]string

	for _, status := range []sync.Status{
		sync.StatusPending, sync.StatusSynced, sync.StatusError, sync.StatusFailed, sync.StatusConflict,
	} {
		if n, ok := counts[status]; ok {
			rows = append(rows, []string{string(status), fmt.Sprintf("%d", n)})
		}
	}

	if len(rows) == 0 {
		fmt.Println("No sync records yet.")
	} else {
		printTable(os.Stdout, headers, rows)
	}

	fmt.Printf("\nQueue: %d pending, %d processing\n", pending, processing)

	return nil
}
