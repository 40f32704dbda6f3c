package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"whatsapp-campaigns/internal/store"
)

func newInsightsCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Generate and print insights",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if all {
				n, err := a.Insights.GenerateAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Created %d insights\n", n)
				return nil
			}

			business, err := ctx.business()
			if err != nil {
				return err
			}
			if _, err := a.Insights.Generate(cmd.Context(), business); err != nil {
				return err
			}
			list, err := a.Insights.List(cmd.Context(), business, store.InsightFilter{UnreadOnly: true})
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No unread insights")
				return nil
			}
			for _, in := range list {
				fmt.Fprintf(out, "[%s/%s] %s: %s\n", in.Type, in.Priority, in.Title, in.Description)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Generate for every business")
	return cmd
}
