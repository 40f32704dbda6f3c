package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOptOutCommand(ctx *commandContext) *cobra.Command {
	optOutCmd := &cobra.Command{
		Use:   "optout",
		Short: "Manage the opt-out ledger",
	}

	optOutCmd.AddCommand(&cobra.Command{
		Use:   "add <phone>",
		Short: "Opt a phone out of all campaigns of the business",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			business, err := ctx.business()
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			changed, err := a.OptOuts.OptOutManual(cmd.Context(), business, args[0])
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(cmd.OutOrStdout(), "Already opted out")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Opted out")
			return nil
		},
	})

	optOutCmd.AddCommand(&cobra.Command{
		Use:   "remove <phone>",
		Short: "Opt a phone back in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			business, err := ctx.business()
			if err != nil {
				return err
			}
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			changed, err := a.OptOuts.OptBackIn(cmd.Context(), business, args[0])
			if err != nil {
				return err
			}
			if !changed {
				return fmt.Errorf("no active opt-out for %s", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Opted back in")
			return nil
		},
	})

	return optOutCmd
}
