// Package commands implements the rangingctl subcommands.
//
// rangingctl has no network client surface: a subcommand that needs a
// registry builds its own in-process one (caps a CapabilityRegistry, demo a
// SessionRegistry), backed by internal/simadapter, and tears it down before
// exiting. It exists for
// local experimentation with session lifecycles, not for driving a running
// rangingd daemon.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootCmd is the top-level cobra command for rangingctl.
var rootCmd = &cobra.Command{
	Use:   "rangingctl",
	Short: "Local experimentation CLI for the ranging session subsystem",
	Long: "rangingctl drives an in-process ranging session registry against " +
		"simulated technology adapters. It does not connect to a running " +
		"rangingd daemon.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(capsCmd())
	rootCmd.AddCommand(demoCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
