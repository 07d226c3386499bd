package main

import (
	"fmt"

	"github.com/imyashkale/fleetd/internal/config"
	"github.com/imyashkale/fleetd/internal/registry"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a node configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath(config.New().ConfigPath)

		snap, file, err := registry.Load(path)
		if err != nil {
			return fmt.Errorf("%s is invalid:\n%w", path, err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s is valid\n", path)
		fmt.Fprintf(out, "  mode:        %s\n", snap.Settings.Mode)
		fmt.Fprintf(out, "  isolation:   %v (%d networks)\n", snap.Isolation.Enabled, len(snap.Isolation.Prefixes))
		fmt.Fprintf(out, "  deployments: %d\n", len(snap.Definitions()))
		for _, def := range snap.Definitions() {
			fmt.Fprintf(out, "    - %s (%s, timeout %s)\n", def.Name, def.Kind(), def.Timeout)
		}
		fmt.Fprintf(out, "  webhooks:    %d\n", len(file.Webhooks))
		fmt.Fprintf(out, "  agents:      %d\n", len(snap.Agents()))
		for _, name := range file.MissingEnv {
			fmt.Fprintf(out, "  warning: ${%s} is not set\n", name)
		}
		return nil
	},
}
