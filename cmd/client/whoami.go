package main

import (
	"fmt"
	"io"

	"github.com/openmined/syftsync/internal/client"
	"github.com/openmined/syftsync/internal/syftsdk"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newWhoAmICmd())
}

func newWhoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the identity the server confirms for the configured token",
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

			out := cmd.OutOrStdout()
			logConfig(out, cfg.Path, session.Identity(), cfg.ServerURL, cfg.DataDir)

			expiry, ok, err := syftsdk.TokenExpiry(session.SDK().AccessToken())
			if err == nil && ok {
				fmt.Fprintf(out, "%s %s\n", gray.Render("TOKEN EXPIRY"), cyan.Render(expiry.Local().Format("2006-01-02 15:04:05")))
			}
			return nil
		},
	}
}

func logConfig(w io.Writer, path, email, server, dataDir string) {
	fmt.Fprintf(w, "%s %s\n", gray.Render("EMAIL       "), cyan.Render(email))
	fmt.Fprintf(w, "%s %s\n", gray.Render("SERVER      "), cyan.Render(server))
	fmt.Fprintf(w, "%s %s\n", gray.Render("DATA DIR    "), cyan.Render(dataDir))
	fmt.Fprintf(w, "%s %s\n", gray.Render("CONFIG      "), cyan.Render(path))
}
