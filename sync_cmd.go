package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/erpsync-go/internal/frappe"
	"github.com/tonimelisma/erpsync-go/internal/sync"
)

// --direction flag values.
const (
	directionAuto         = "auto"
	directionCloudToLocal = "cloud-to-local"
	directionLocalToCloud = "local-to-cloud"
)

func newSyncCmd() *cobra.Command {
	var (
		flagDoctype   string
		flagDocname   string
		flagDirection string
		flagSince     string
		flagLimit     int
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run an on-demand bulk or single-document sync",
		Long: `Synchronize the configured doctypes between the two endpoints.

With no flags, every configured doctype is synced. --doctype restricts the
run to one doctype, --docname to a single document. --direction provides a
hint that is honored only when it agrees with the resolved state; the
decision table always wins.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSync(cmd, flagDoctype, flagDocname, flagDirection, flagSince, flagLimit)
		},
	}

	cmd.Flags().StringVar(&flagDoctype, "doctype", "", "sync a single doctype")
	cmd.Flags().StringVar(&flagDocname, "docname", "", "sync a single document (requires --doctype)")
	cmd.Flags().StringVar(&flagDirection, "direction", directionAuto,
		"direction hint: cloud-to-local, local-to-cloud, or auto")
	cmd.Flags().StringVar(&flagSince, "since", "",
		"only list documents modified after this timestamp (e.g. \"2025-01-01 00:00:00\")")
	cmd.Flags().IntVar(&flagLimit, "limit", 0, "maximum documents per doctype (0 = config batch size)")

	return cmd
}

// parseDirection maps the flag value onto a resolver hint.
func parseDirection(value string) (sync.Direction, error) {
	switch value {
	case directionAuto, "":
		return sync.DirectionNone, nil
	case directionCloudToLocal:
		return sync.DirectionCloudToLocal, nil
	case directionLocalToCloud:
		return sync.DirectionLocalToCloud, nil
	default:
		return sync.DirectionNone, fmt.Errorf(
			"--direction must be %s, %s, or %s; got %q",
			directionCloudToLocal, directionLocalToCloud, directionAuto, value)
	}
}

func runSync(cmd *cobra.Command, doctype, docname, direction, since string, limit int) error {
	hint, err := parseDirection(direction)
	if err != nil {
		return &codedError{code: exitConfig, err: err}
	}

	if docname != "" && doctype == "" {
		return &codedError{code: exitConfig, err: errors.New("--docname requires --doctype")}
	}

	if since != "" {
		if _, ok := frappe.ParseModified(since); !ok {
			return &codedError{code: exitConfig, err: fmt.Errorf("--since: unparseable timestamp %q", since)}
		}
	}

	logger := buildLogger()

	cloud, local, err := newClients(logger)
	if err != nil {
		return err
	}

	store, err := openStore(logger)
	if err != nil {
		return err
	}
	defer store.Close()

	executor := sync.NewExecutor(cloud, local, store, executorConfig(), logger)
	ctx := shutdownContext(cmd.Context(), logger)

	if docname != "" {
		return reportOutcome(doctype, docname, executor.SyncOne(ctx, doctype, docname, hint))
	}

	var summary sync.Summary

	if doctype != "" {
		summary, err = executor.SyncDoctype(ctx, doctype, since, limit)
	} else {
		if len(cfg.Sync.Doctypes) == 0 {
			return &codedError{code: exitConfig, err: errors.New("sync.doctypes is empty, nothing to sync")}
		}

		summary, err = executor.SyncAll(ctx, since)
	}

	if err != nil {
		return err
	}

	statusf("Synced %d, skipped %d, conflicts %d, failed %d (total %d)\n",
		summary.Synced, summary.Skipped, summary.Conflicts, summary.Failed, summary.Total)

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed to sync", summary.Failed, summary.Total)
	}

	return nil
}

// reportOutcome renders a single-document result and maps failure onto the
// process exit status.
func reportOutcome(doctype, docname string, outcome sync.Outcome) error {
	switch outcome.Kind {
	case sync.OutcomeSynced:
		statusf("%s/%s synced (%s)\n", doctype, docname, outcome.Direction)
		return nil
	case sync.OutcomeSkipped:
		statusf("%s/%s skipped: %s\n", doctype, docname, outcome.Reason)
		return nil
	case sync.OutcomeConflict:
		return fmt.Errorf("%s/%s is in conflict, resolve it and retry", doctype, docname)
	default:
		return fmt.Errorf("syncing %s/%s: %w", doctype, docname, outcome.Err)
	}
}
