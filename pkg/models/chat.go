package models

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleAssistant Role = "assistant"
)

// Message is one turn in a conversation. Append-only; never mutated after
// creation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Text           string    `json:"text"`
	Tier           Tier      `json:"tier,omitempty"`
	UnitsIn        int64     `json:"units_in,omitempty"`
	UnitsOut       int64     `json:"units_out,omitempty"`
	Cost           float64   `json:"cost,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationContext is the immutable snapshot of conversation state passed
// into the router for one request. History holds the most recent turns,
// oldest first.
type ConversationContext struct {
	CallerID       string
	ConversationID string
	GroupID        string
	History        []Message
	Preferences    map[string]string
	Scenario       string
}

// IsGroup reports whether the conversation belongs to a multi-party group.
func (c ConversationContext) IsGroup() bool {
	return c.GroupID != ""
}

// ChatRequest is the inbound request from the UI layer.
type ChatRequest struct {
	CallerID       string            `json:"caller_id" binding:"required"`
	ConversationID string            `json:"conversation_id" binding:"required"`
	Text           string            `json:"text" binding:"required,max=4000"`
	GroupID        string            `json:"group_id,omitempty"`
	Scenario       string            `json:"scenario,omitempty"`
	Preferences    map[string]string `json:"preferences,omitempty"`
}

// ChatResult is the outbound result for a handled request.
type ChatResult struct {
	Text       string  `json:"text"`
	Tier       Tier    `json:"tier"`
	UnitsIn    int64   `json:"units_in"`
	UnitsOut   int64   `json:"units_out"`
	Cost       float64 `json:"cost"`
	Cached     bool    `json:"cached"`
	Fallback   bool    `json:"fallback,omitempty"`
	Confidence float64 `json:"confidence"`
}

// RejectionKind is the machine-readable reason a request was refused before
// any provider work happened.
type RejectionKind string

const (
	RejectRateLimited         RejectionKind = "rate_limited"
	RejectBudgetExceeded      RejectionKind = "budget_exceeded"
	RejectConversationTooLong RejectionKind = "conversation_too_long"
)

// Rejection is returned when admission or budget checks refuse a request.
type Rejection struct {
	Kind              RejectionKind `json:"error_kind"`
	RetryAfterSeconds int           `json:"retry_after_seconds"`
	CurrentSpend      float64       `json:"current_spend,omitempty"`
}
