package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ciphare-admin",
	Short: "Operator tooling for a Ciphare deployment",
	Long: `ciphare-admin issues operator tokens for the /v1/admin API and runs
the expiry sweep or orphan collection once against the configured backends.

Configuration is read from the environment (and .env) exactly as the API
server reads it.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(gcCmd)
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
