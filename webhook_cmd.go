package main

import (
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/erpsync-go/internal/sync"
	"github.com/tonimelisma/erpsync-go/internal/webhook"
)

func newWebhookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "webhook",
		Short: "Run the webhook intake server and queue worker pool",
		Long: `Start the long-running sync daemon: the HTTP intake that receives and
queues change notifications, the worker pool that drains the queue, and the
maintenance sweeper. Runs until interrupted; a second interrupt forces exit.`,
		RunE: runWebhook,
	}
}

func runWebhook(cmd *cobra.Command, _ []string) error {
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

	ctx := shutdownContext(cmd.Context(), logger)

	// Any is_syncing flag set now was stranded by a dead process.
	if _, err := store.ClearSyncingFlags(ctx); err != nil {
		return err
	}

	executor := sync.NewExecutor(cloud, local, store, executorConfig(), logger)

	worker := sync.NewWorker(store, executor, sync.WorkerConfig{
		PollInterval:   cfg.Worker.PollInterval(),
		ClaimBatch:     cfg.Worker.ClaimBatch,
		MaxItemRetries: cfg.Retry.MaxAttempts,
		StaleClaimAge:  cfg.Queue.StaleClaimAge(),
		RetentionAge:   cfg.Queue.Retention(),
	}, logger)

	server := webhook.NewServer(store, webhook.Config{
		Secret:          cfg.Webhook.Secret,
		SignatureHeader: cfg.Webhook.SignatureHeader,
	}, logger)

	addr := net.JoinHostPort(cfg.Webhook.Host, strconv.Itoa(cfg.Webhook.Port))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Run(gctx, addr)
	})

	for i := 0; i < cfg.Worker.Count; i++ {
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	g.Go(func() error {
		return worker.RunSweeper(gctx)
	})

	return g.Wait()
}
