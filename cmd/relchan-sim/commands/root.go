package commands

import (
	"log"

	"github.com/spf13/cobra"
)

const configEnv = "RELCHAN_SIM_CONFIG"

var rootCmd = &cobra.Command{
	Use:   "relchan-sim",
	Short: "Simulator for relchan channels over a lossy link",
}

func init() {
	rootCmd.AddCommand(runCmd, configCmd)
}

// Execute executes root CLI command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
