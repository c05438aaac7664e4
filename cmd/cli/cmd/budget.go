package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget [caller-id]",
	Short: "View a caller's daily budget status",
	Args:  cobra.ExactArgs(1),
	RunE:  runBudget,
}

func init() {
	rootCmd.AddCommand(budgetCmd)
}

type budgetStatus struct {
	Scope       string  `json:"scope"`
	CallerID    string  `json:"caller_id,omitempty"`
	Date        string  `json:"date"`
	Spend       float64 `json:"spend"`
	Cap         float64 `json:"cap"`
	WarnReached bool    `json:"warn_reached"`
}

func runBudget(cmd *cobra.Command, args []string) error {
	resp, err := http.Get(fmt.Sprintf("%s/api/v1/budget/%s", serverURL, args[0]))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s", string(body))
	}

	var status budgetStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(status)
	}

	fmt.Printf("Caller:   %s\n", status.CallerID)
	fmt.Printf("Date:     %s\n", status.Date)
	fmt.Printf("Spend:    $%.6f of $%.2f\n", status.Spend, status.Cap)
	if status.WarnReached {
		fmt.Println("Warning:  spend is past the warning threshold")
	}
	return nil
}
