package main

import (
	"github.com/openmined/syftsync/internal/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newSyncCmd())
}

func newSyncCmd() *cobra.Command {
	var pull, push bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a single sync cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			c, err := client.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			report, err := c.SyncOnce(cmd.Context(), pull, push)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&pull, "pull", true, "Apply remote changes to the workspace")
	cmd.Flags().BoolVar(&push, "push", true, "Send local changes of the owner to the server")

	return cmd
}
