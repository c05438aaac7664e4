package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check service health",
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services,omitempty"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(serverURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(health)
	}

	fmt.Printf("Status: %s\n", health.Status)
	for name, state := range health.Services {
		fmt.Printf("  %s: %s\n", name, state)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service unhealthy (HTTP %d)", resp.StatusCode)
	}
	return nil
}
