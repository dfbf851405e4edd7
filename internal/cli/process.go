package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newProcessCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Extract the fields of every pending record",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := load()
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cfg, runtimeOptions{withModel: true})
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			rt.agent.SetProgressCallback(func(current, total int, message string) {
				fmt.Fprintf(out, "[%d/%d] %s\n", current, total, message)
			})

			summary, err := rt.agent.ProcessPending(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Completed: %d, failed: %d, skipped: %d\n", summary.Completed, summary.Failed, summary.Skipped)
			return nil
		},
	}
}

func newFetchCmd(load configLoader) *cobra.Command {
	var (
		query   string
		process bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Store CV attachments from the Gmail inbox as pending records",
		Long: `fetch searches the Gmail inbox for messages with CV attachments and stores
each supported attachment as a pending record. The first run prompts for
OAuth authorization and saves the token for later runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := load()
			if err != nil {
				return err
			}

			rt, err := newRuntime(ctx, cfg, runtimeOptions{
				withModel:   process,
				withInbox:   true,
				interactive: true,
			})
			if err != nil {
				return err
			}
			defer rt.Close()

			records, err := rt.agent.IngestInbox(ctx, query)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Stored %d attachments\n", len(records))

			if !process || len(records) == 0 {
				return nil
			}

			summary, err := rt.agent.ProcessPending(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Completed: %d, failed: %d, skipped: %d\n", summary.Completed, summary.Failed, summary.Skipped)
			return nil
		},
	}

	cmd.Flags().StringVarP(&query, "query", "q", "newer_than:7d", "Gmail search query")
	cmd.Flags().BoolVar(&process, "process", false, "Extract fields right after fetching")
	return cmd
}
