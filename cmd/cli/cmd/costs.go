package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	costsCallerID       string
	costsConversationID string
	costsTier           string
	costsStartDate      string
	costsEndDate        string
	costsLimit          int
)

var costsCmd = &cobra.Command{
	Use:   "costs",
	Short: "View cost records",
	Long:  `View per-call cost records and aggregated summaries.`,
	RunE:  runCosts,
}

var costsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "View cost summary",
	RunE:  runCostsSummary,
}

func init() {
	rootCmd.AddCommand(costsCmd)
	costsCmd.AddCommand(costsSummaryCmd)

	costsCmd.PersistentFlags().StringVarP(&costsCallerID, "caller", "c", "", "Filter by caller ID")
	costsCmd.PersistentFlags().StringVar(&costsConversationID, "conversation", "", "Filter by conversation ID")
	costsCmd.PersistentFlags().StringVarP(&costsTier, "tier", "t", "", "Filter by tier (low, mid, high)")
	costsCmd.PersistentFlags().StringVar(&costsStartDate, "start", "", "Start date (YYYY-MM-DD)")
	costsCmd.PersistentFlags().StringVar(&costsEndDate, "end", "", "End date (YYYY-MM-DD, exclusive)")
	costsCmd.Flags().IntVarP(&costsLimit, "limit", "n", 50, "Maximum records to return")
}

func costsParams() url.Values {
	params := url.Values{}
	if costsCallerID != "" {
		params.Set("caller_id", costsCallerID)
	}
	if costsConversationID != "" {
		params.Set("conversation_id", costsConversationID)
	}
	if costsTier != "" {
		params.Set("tier", costsTier)
	}
	if costsStartDate != "" {
		params.Set("start_date", costsStartDate)
	}
	if costsEndDate != "" {
		params.Set("end_date", costsEndDate)
	}
	return params
}

func runCosts(cmd *cobra.Command, args []string) error {
	params := costsParams()
	params.Set("limit", fmt.Sprintf("%d", costsLimit))

	reqURL := fmt.Sprintf("%s/api/v1/costs?%s", serverURL, params.Encode())

	resp, err := http.Get(reqURL)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s", string(body))
	}

	var result costList
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	if result.Count == 0 {
		fmt.Println("No cost records found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tCALLER\tTIER\tUNITS IN/OUT\tAMOUNT")
	for _, rec := range result.Costs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t$%.6f\n",
			rec.CreatedAt, rec.CallerID, rec.Tier, rec.UnitsIn, rec.UnitsOut, rec.Amount)
	}
	w.Flush()
	return nil
}

func runCostsSummary(cmd *cobra.Command, args []string) error {
	params := costsParams()

	reqURL := fmt.Sprintf("%s/api/v1/costs/summary", serverURL)
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	resp, err := http.Get(reqURL)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server error: %s", string(body))
	}

	var result costSummary
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	fmt.Println("Cost Summary")
	fmt.Println("============")
	fmt.Println()

	if result.CallerID != "" {
		fmt.Printf("Caller:        %s\n", result.CallerID)
	}
	fmt.Printf("Total Cost:    $%.6f\n", result.TotalCost)
	fmt.Printf("Calls:         %d\n", result.CallCount)

	if len(result.ByTier) > 0 {
		fmt.Println("\nBy Tier:")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for tier, cost := range result.ByTier {
			fmt.Fprintf(w, "  %s\t$%.6f\n", tier, cost)
		}
		w.Flush()
	}
	return nil
}

// costRecord mirrors the API's cost record shape
type costRecord struct {
	ID             string  `json:"id"`
	CallerID       string  `json:"caller_id"`
	ConversationID string  `json:"conversation_id"`
	Tier           string  `json:"tier"`
	UnitsIn        int64   `json:"units_in"`
	UnitsOut       int64   `json:"units_out"`
	Amount         float64 `json:"amount"`
	Currency       string  `json:"currency"`
	CreatedAt      string  `json:"created_at"`
}

type costList struct {
	Costs []costRecord `json:"costs"`
	Count int          `json:"count"`
}

type costSummary struct {
	CallerID  string             `json:"caller_id,omitempty"`
	TotalCost float64            `json:"total_cost"`
	CallCount int                `json:"call_count"`
	ByTier    map[string]float64 `json:"by_tier,omitempty"`
}
