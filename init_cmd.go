package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the state database and apply schema migrations",
		Long: `Initialize the sync state database at the configured path.

Safe to run repeatedly: an existing database is migrated to the current
schema, never recreated.`,
		RunE: runInit,
	}
}

func runInit(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	store, err := openStore(logger)
	if err != nil {
		return fmt.Errorf("initializing state database: %w", err)
	}

	if err := store.Close(); err != nil {
		return err
	}

	statusf("State database ready at %s\n", cfg.State.DBPath)

	return nil
}
