package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/klynaa/realtime/internal/version"
)

func buildRunCommand(opts *rootOptions) *cobra.Command {
	var (
		workerID   string
		autoAccept bool
		noJournal  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the worker agent",
		Long: `Open the worker's realtime channel and keep it open until interrupted.
The agent publishes its status on every connect, reports positions from the
configured route, optionally accepts new assignments and journals received
events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("worker") {
				cfg.Worker.ID = workerID
			}
			if cmd.Flags().Changed("auto-accept") {
				cfg.Worker.AutoAccept = autoAccept
			}
			if noJournal {
				cfg.Journal.Enabled = false
			}

			logger.Info("starting klynaa-worker",
				"version", version.Version,
				"commit", version.Commit,
				"config", opts.configPath,
			)

			ctx, cancel := signalContext(commandContext(cmd), logger)
			defer cancel()

			client, err := newAPIClient(cfg.API, logger)
			if err != nil {
				return err
			}
			token, claims, err := ensureAccessToken(ctx, client, cfg.API, time.Now(), logger)
			if err != nil {
				return err
			}
			id, err := resolveWorkerID(cfg.Worker.ID, claims)
			if err != nil {
				return err
			}

			a, err := newAgent(cfg, id, token, logger)
			if err != nil {
				return err
			}
			a.source = client
			return a.run(ctx)
		},
	}

	cmd.Flags().StringVar(&workerID, "worker", "", "worker id (overrides config and token claim)")
	cmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "accept every new assignment")
	cmd.Flags().BoolVar(&noJournal, "no-journal", false, "disable the event journal")

	return cmd
}

// commandContext returns cmd's context, or Background when unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
