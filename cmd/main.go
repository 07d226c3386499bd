package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootFlags struct {
	config string
}

var rootCmd = &cobra.Command{
	Use:           "fleetd",
	Short:         "Webhook-triggered deployment agent",
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runServe,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.config, "config", "c", "", "Node configuration file (overrides FLEETD_CONFIG)")

	rootCmd.AddCommand(serveCmd, validateCmd, tokenCmd, deployCmd, versionCmd)
}

// configPath resolves the node configuration file from the flag or environment
func configPath(envPath string) string {
	if rootFlags.config != "" {
		return rootFlags.config
	}
	return envPath
}
