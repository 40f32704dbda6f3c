package main

import (
	"sync"

	"github.com/spf13/cobra"

	"whatsapp-campaigns/internal/app"
	"whatsapp-campaigns/internal/config"
	"whatsapp-campaigns/internal/logging"
)

type commandContext struct {
	businessID *uint

	appOnce sync.Once
	app     *app.App
	appErr  error
}

func (c *commandContext) ensureApp() (*app.App, error) {
	c.appOnce.Do(func() {
		cfg := config.LoadConfig()
		log, err := logging.NewFromConfig(cfg)
		if err != nil {
			c.appErr = err
			return
		}
		c.app, c.appErr = app.New(cfg, log)
	})
	return c.app, c.appErr
}

func (c *commandContext) close() {
	if c.app != nil {
		c.app.Close()
	}
}

func newRootCommand() *cobra.Command {
	var businessFlag uint
	ctx := &commandContext{businessID: &businessFlag}

	rootCmd := &cobra.Command{
		Use:           "queuectl",
		Short:         "Operate WhatsApp campaign queues",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			ctx.close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().UintVarP(&businessFlag, "business", "b", 0, "Business that owns the records")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newCopySQLiteCommand(ctx))
	rootCmd.AddCommand(newQueueCommand(ctx))
	rootCmd.AddCommand(newTemplateCommand(ctx))
	rootCmd.AddCommand(newOptOutCommand(ctx))
	rootCmd.AddCommand(newInsightsCommand(ctx))

	return rootCmd
}
