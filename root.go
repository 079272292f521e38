package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/erpsync-go/internal/config"
	"github.com/tonimelisma/erpsync-go/internal/frappe"
	"github.com/tonimelisma/erpsync-go/internal/sync"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagDBPath     string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// cfg holds the effective configuration loaded by PersistentPreRunE. It is
// available to all subcommands after the root pre-run phase completes.
var cfg *config.Config

// Process exit codes.
const (
	exitFailure      = 1
	exitConfig       = 2
	exitConnectivity = 3
)

// codedError carries a process exit code alongside the underlying error.
type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

// exitOnError prints a user-friendly error message to stderr and exits with
// the error's code, or the generic failure code.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	var coded *codedError
	if errors.As(err, &coded) {
		os.Exit(coded.code)
	}

	os.Exit(exitFailure)
}

// httpClientTimeout bounds every request to the remote endpoints. Prevents
// hung connections from blocking commands indefinitely.
const httpClientTimeout = 30 * time.Second

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "erpsync",
		Short:   "Bidirectional Frappe/ERPNext synchronization",
		Long:    "Keeps two Frappe/ERPNext endpoints in agreement for a configured set of doctypes,\ndriven by webhooks with a durable queue and an on-demand bulk sync.",
		Version: version,
		// Silence Cobra's default error/usage printing; exitOnError handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		// Every subcommand works from the resolved configuration, so the
		// pre-run loads it unconditionally. A config failure exits with the
		// dedicated code before any command logic runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadConfig(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDBPath, "db", "", "state database path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newTestCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConflictsCmd())
	cmd.AddCommand(newWebhookCmd())

	return cmd
}

// loadConfig resolves the effective configuration through the override chain
// and stores the result in cfg for use by subcommands.
func loadConfig(cmd *cobra.Command) error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
	}

	// Only pass --db to the resolver if the user explicitly set it.
	if cmd.Flags().Changed("db") {
		cli.DBPath = &flagDBPath
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return &codedError{code: exitConfig, err: fmt.Errorf("loading config: %w", err)}
	}

	cfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. Terminals get the text
// handler, redirected stderr gets JSON.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if cfg != nil {
		if parsed, err := config.ParseLevel(cfg.Log.Level); err == nil {
			level = parsed
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// newClients builds the two endpoint clients after checking that the
// configuration carries both sets of credentials.
func newClients(logger *slog.Logger) (cloud, local *frappe.Client, err error) {
	if err := cfg.RequireEndpoints(); err != nil {
		return nil, nil, &codedError{code: exitConfig, err: err}
	}

	httpClient := defaultHTTPClient()

	cloud = frappe.NewClient(cfg.Cloud.URL, cfg.Cloud.APIKey, cfg.Cloud.APISecret, "cloud", httpClient, logger)
	local = frappe.NewClient(cfg.Local.URL, cfg.Local.APIKey, cfg.Local.APISecret, "local", httpClient, logger)

	return cloud, local, nil
}

// openStore opens the state database, running migrations as needed.
func openStore(logger *slog.Logger) (*sync.SQLiteStore, error) {
	return sync.NewStore(cfg.State.DBPath, logger)
}

// executorConfig maps the resolved configuration onto the executor.
func executorConfig() sync.ExecutorConfig {
	return sync.ExecutorConfig{
		Policy:              sync.Policy(cfg.Sync.ConflictResolution),
		ExtraExcludedFields: cfg.Sync.ExcludedFields,
		MaxRetries:          cfg.Retry.MaxAttempts,
		Doctypes:            cfg.Sync.Doctypes,
		BatchSize:           cfg.Sync.BatchSize,
	}
}
