// Package commands implements the CLI commands for the sexpc daemon and
// its line-tool clients.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sexpc",
	Short: "sexpc - s-expression RPC peer",
	Long: `sexpc is a symmetric RPC peer speaking length-prefixed s-expression
frames over loopback TCP. Both endpoints register methods and call each
other; replies correlate back to their calls by uid.

Use "sexpc [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/sexpc/config.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(methodsCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
