package commands

import (
	"github.com/spf13/cobra"

	"github.com/fenwicklabs/reservoir/config"
)

// loadConfig honors the root command's --config flag, falling back to
// config.Load's system/user/project/env precedence search.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}
