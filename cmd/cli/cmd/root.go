package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL    string
	outputFormat string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "divvy",
	Short: "DivvyChat CLI - talk to the expense-splitting assistant",
	Long: `DivvyChat routes expense-splitting chat messages to the cheapest
capable model tier, with daily budgets and rate limits.

This CLI tool allows you to:
- Send a message through the router and see which tier answered
- Inspect accumulated costs and summaries
- Check a caller's remaining daily budget
- Check service health`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", getEnvOrDefault("DIVVYCHAT_URL", "http://localhost:8080"), "DivvyChat server URL")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
