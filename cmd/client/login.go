package main

import (
	"fmt"

	"github.com/openmined/syftsync/internal/client"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newLoginCmd())
}

func newLoginCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate the datasite owner and save the config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true

			session, err := client.NewSession(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer session.Close()

			if force {
				if err := session.Reauthenticate(cmd.Context()); err != nil {
					return err
				}
			}

			if err := cfg.Save(); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, green.Render("**Logged in**"))
			logConfig(out, cfg.Path, session.Identity(), cfg.ServerURL, cfg.DataDir)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Request a new access token even if the current one is valid")

	return cmd
}
