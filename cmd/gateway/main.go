// Command gateway runs the enhance gateway: a hardened edge in front of a
// chat-completion API with CAPTCHA-gated token issuance, per-identity daily
// rate limits, and usage accounting.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/promptgate/enhance-gateway/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Enhance gateway",
	Long:  `Edge gateway mediating access to an upstream LLM completion API.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gateway version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(server.Version)
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
