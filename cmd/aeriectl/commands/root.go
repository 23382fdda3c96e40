// Package commands implements the aeriectl admin CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/aeriedb/aerie/pkg/apiclient"
)

var serverURL string

var rootCmd = &cobra.Command{
	Use:   "aeriectl",
	Short: "Inspect a running Aerie server",
	Long: `aeriectl queries the read-only admin API of a running aeried:
sessions, open handles, lock state, and the namespace tree.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func client() *apiclient.Client {
	return apiclient.New(serverURL)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:7682", "admin API base URL")

	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(handlesCmd)
	rootCmd.AddCommand(locksCmd)
	rootCmd.AddCommand(namespaceCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
