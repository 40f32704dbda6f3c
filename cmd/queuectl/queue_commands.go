package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"whatsapp-campaigns/internal/models"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drive campaign queues",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatsCommand(ctx))
	queueCmd.AddCommand(newQueueTransitionCommand(ctx, "activate", "Validate a queue and start a new run",
		func(c context.Context, b, id uint) (*models.Queue, error) { return ctx.app.Queues.Activate(c, b, id) }))
	queueCmd.AddCommand(newQueueTransitionCommand(ctx, "pause", "Pause a queue at its next batch boundary",
		func(c context.Context, b, id uint) (*models.Queue, error) { return ctx.app.Queues.Pause(c, b, id) }))
	queueCmd.AddCommand(newQueueTransitionCommand(ctx, "resume", "Resume a paused queue",
		func(c context.Context, b, id uint) (*models.Queue, error) { return ctx.app.Queues.Resume(c, b, id) }))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newRunOnceCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the business's queues",
		RunE: func(cmd *cobra.Command, args []string) error {
			business, err := ctx.business()
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			list, err := a.Queues.List(cmd.Context(), business, status)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No queues")
				return nil
			}
			for _, q := range list {
				fmt.Fprintf(out, "%-6d %-11s run=%-3d sent=%-5d failed=%-5d %s\n",
					q.ID, q.Status, q.Run, q.TotalSent, q.TotalFailed, q.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Only queues in this status")
	return cmd
}

func newQueueStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <id>",
		Short: "Show progress of the current run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			business, id, err := ctx.target(args)
			if err != nil {
				return err
			}
			stats, err := ctx.app.Queues.Stats(cmd.Context(), business, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newQueueTransitionCommand(ctx *commandContext, use, short string, op func(context.Context, uint, uint) (*models.Queue, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			business, id, err := ctx.target(args)
			if err != nil {
				return err
			}
			q, err := op(cmd.Context(), business, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queue %d is %s (run %d)\n", q.ID, q.Status, q.Run)
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-failed <id>",
		Short: "Requeue failed messages of the current run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			business, id, err := ctx.target(args)
			if err != nil {
				return err
			}
			n, err := ctx.app.Queues.RetryFailed(cmd.Context(), business, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d messages\n", n)
			return nil
		},
	}
}

func newRunOnceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run-once [id]",
		Short: "Run one dispatch pass over due queues, or over one queue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				res, err := a.Dispatcher.ProcessQueue(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(out, res)
			}
			results, err := a.Dispatcher.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(out, "No queues due")
				return nil
			}
			return printJSON(out, results)
		},
	}
}

// target resolves the business flag and the id argument and opens the app.
func (c *commandContext) target(args []string) (uint, uint, error) {
	business, err := c.business()
	if err != nil {
		return 0, 0, err
	}
	id, err := parseID(args[0])
	if err != nil {
		return 0, 0, err
	}
	if _, err := c.ensureApp(); err != nil {
		return 0, 0, err
	}
	return business, id, nil
}
