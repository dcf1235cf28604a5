package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// serverAddr is the broker's TCP address (host:port).
	serverAddr string

	// adminToken authorizes the admin LOGIN handshake.
	adminToken string

	// outputFormat controls the output format for commands that print
	// structured data (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for hypertcpctl.
var rootCmd = &cobra.Command{
	Use:   "hypertcpctl",
	Short: "CLI client for the HyperTCP broker",
	Long:  "hypertcpctl connects to a HyperTCP broker as an admin to send messages and monitor device activity.",
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "127.0.0.1:8080",
		"HyperTCP broker address (host:port)")
	rootCmd.PersistentFlags().StringVar(&adminToken, "token", "",
		"admin auth token")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(monitorCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(shellCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
