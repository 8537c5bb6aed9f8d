package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "notifyd",
	Short: "Notification dispatch and delivery-status engine",
	Long: `notifyd fans notifications out across delivery channels, tracks
per-channel outcomes, retries webhooks with backoff, and exposes the
whole lifecycle over HTTP.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file")
}
