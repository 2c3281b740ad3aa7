// Command reservoir runs one of the three Reservoir processes: the
// Scheduler, the Worker, or the Interface (spec.md §1). Plugin callables
// are registered with plugin.Register in the importing program's own
// init(), before Execute runs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fenwicklabs/reservoir/cmd/reservoir/commands"
	"github.com/fenwicklabs/reservoir/logger"
)

var rootCmd = &cobra.Command{
	Use:   "reservoir",
	Short: "Reservoir - distributed recurring-job execution platform",
	Long: `Reservoir schedules and executes recurring and one-shot reservations
against in-process plugin callables.

Available commands:
  scheduler  - Run the tick-driven publisher that fires due reservations
  worker     - Run the broker consumer that executes reservations
  interface  - Run the HTTP surface that creates reservations`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a reservoir.toml config file")
	rootCmd.PersistentFlags().CountP("verbose", "v", "increase output verbosity")

	rootCmd.AddCommand(commands.SchedulerCmd)
	rootCmd.AddCommand(commands.WorkerCmd)
	rootCmd.AddCommand(commands.InterfaceCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
