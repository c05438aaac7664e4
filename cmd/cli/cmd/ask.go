package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	askCallerID       string
	askConversationID string
	askGroupID        string
	askScenario       string
)

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Send a message through the router",
	Long: `Send a chat message through the router and print the answer along
with the tier that produced it and what it cost.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)

	askCmd.Flags().StringVarP(&askCallerID, "caller", "c", getEnvOrDefault("DIVVYCHAT_CALLER_ID", "cli"), "Caller ID")
	askCmd.Flags().StringVar(&askConversationID, "conversation", "", "Conversation ID (generated if empty)")
	askCmd.Flags().StringVarP(&askGroupID, "group", "g", "", "Group ID for group conversations")
	askCmd.Flags().StringVarP(&askScenario, "scenario", "s", "", "Scenario hint (e.g. restaurante, viagem)")
}

type chatRequest struct {
	CallerID       string `json:"caller_id"`
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
	GroupID        string `json:"group_id,omitempty"`
	Scenario       string `json:"scenario,omitempty"`
}

type chatResult struct {
	Text       string  `json:"text"`
	Tier       string  `json:"tier"`
	UnitsIn    int64   `json:"units_in"`
	UnitsOut   int64   `json:"units_out"`
	Cost       float64 `json:"cost"`
	Cached     bool    `json:"cached"`
	Fallback   bool    `json:"fallback,omitempty"`
	Confidence float64 `json:"confidence"`
}

type rejectionResponse struct {
	Error             string  `json:"error"`
	Kind              string  `json:"error_kind"`
	RetryAfterSeconds int     `json:"retry_after_seconds,omitempty"`
	CurrentSpend      float64 `json:"current_spend,omitempty"`
}

func runAsk(cmd *cobra.Command, args []string) error {
	conversationID := askConversationID
	if conversationID == "" {
		conversationID = uuid.New().String()
	}

	req := chatRequest{
		CallerID:       askCallerID,
		ConversationID: conversationID,
		Text:           strings.Join(args, " "),
		GroupID:        askGroupID,
		Scenario:       askScenario,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := http.Post(serverURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		var rej rejectionResponse
		if err := json.Unmarshal(raw, &rej); err == nil && rej.Kind != "" {
			if rej.RetryAfterSeconds > 0 {
				return fmt.Errorf("request refused (%s): %s, retry in %ds", rej.Kind, rej.Error, rej.RetryAfterSeconds)
			}
			return fmt.Errorf("request refused (%s): %s", rej.Kind, rej.Error)
		}
		return fmt.Errorf("server error: %s", string(raw))
	}

	var result chatResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputFormat == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}

	fmt.Println(result.Text)
	fmt.Println()
	source := "fresh"
	if result.Cached {
		source = "cached"
	}
	if result.Fallback {
		source = "fallback"
	}
	fmt.Printf("tier=%s source=%s cost=$%.6f units=%d/%d conversation=%s\n",
		result.Tier, source, result.Cost, result.UnitsIn, result.UnitsOut, conversationID)
	return nil
}
