package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"whatsapp-campaigns/internal/templates"
)

func newTemplateCommand(ctx *commandContext) *cobra.Command {
	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "Record provider template decisions",
	}
	templateCmd.AddCommand(newTemplateApproveCommand(ctx))
	templateCmd.AddCommand(newTemplateRejectCommand(ctx))
	return templateCmd
}

func newTemplateApproveCommand(ctx *commandContext) *cobra.Command {
	var contentSID string
	cmd := &cobra.Command{
		Use:   "approve <id>",
		Short: "Mark a template approved by the provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			business, id, err := ctx.target(args)
			if err != nil {
				return err
			}
			t, err := ctx.app.Templates.Approve(cmd.Context(), business, id, contentSID)
			if err != nil {
				return err
			}
			names, err := templates.StoredPlaceholders(t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template %d %s, placeholders: %s\n", t.ID, t.Status, strings.Join(names, ", "))
			return nil
		},
	}
	cmd.Flags().StringVar(&contentSID, "content-sid", "", "Provider content id for structured sends")
	return cmd
}

func newTemplateRejectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <id>",
		Short: "Mark a template rejected by the provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			business, id, err := ctx.target(args)
			if err != nil {
				return err
			}
			t, err := ctx.app.Templates.Reject(cmd.Context(), business, id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template %d %s\n", t.ID, t.Status)
			return nil
		},
	}
}
