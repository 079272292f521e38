package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/erpsync-go/internal/frappe"
)

func newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test connectivity to both endpoints",
		Long: `Authenticate against the cloud and local endpoints and report the
logged-in user for each. Exits with the connectivity error code if either
endpoint is unreachable or rejects the credentials.`,
		RunE: runTest,
	}
}

func runTest(cmd *cobra.Command, _ []string) error {
	logger := buildLogger()

	cloud, local, err := newClients(logger)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	var errs []error

	for _, client := range []*frappe.Client{cloud, local} {
		if err := pingEndpoint(ctx, client); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return &codedError{code: exitConnectivity, err: errors.Join(errs...)}
	}

	statusf("Both endpoints reachable.\n")

	return nil
}

func pingEndpoint(ctx context.Context, client *frappe.Client) error {
	user, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%s endpoint: %w", client.Name(), err)
	}

	statusf("%s: connected as %s\n", client.Name(), user)

	return nil
}
