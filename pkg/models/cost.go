package models

import "time"

// BudgetScope selects which rolling daily budget a charge lands in.
type BudgetScope string

const (
	ScopeGlobal BudgetScope = "global"
	ScopeCaller BudgetScope = "caller"
)

// CostRecord represents the monetary cost of one provider call.
type CostRecord struct {
	ID             string    `json:"id"`
	CallerID       string    `json:"caller_id"`
	ConversationID string    `json:"conversation_id"`
	Tier           Tier      `json:"tier"`
	UnitsIn        int64     `json:"units_in"`
	UnitsOut       int64     `json:"units_out"`
	Amount         float64   `json:"amount"`
	Currency       string    `json:"currency"`
	CreatedAt      time.Time `json:"created_at"`
}

// CostSummary provides aggregated cost information.
type CostSummary struct {
	CallerID    string           `json:"caller_id,omitempty"`
	TotalCost   float64          `json:"total_cost"`
	CallCount   int              `json:"call_count"`
	ByTier      map[string]float64 `json:"by_tier,omitempty"`
	PeriodStart time.Time        `json:"period_start,omitempty"`
	PeriodEnd   time.Time        `json:"period_end,omitempty"`
}

// CostQuery defines criteria for querying cost records.
type CostQuery struct {
	CallerID       string    `json:"caller_id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Tier           string    `json:"tier,omitempty"`
	StartTime      time.Time `json:"start_time,omitempty"`
	EndTime        time.Time `json:"end_time,omitempty"`
}

// BudgetStatus reports the state of one daily budget scope.
type BudgetStatus struct {
	Scope       BudgetScope `json:"scope"`
	CallerID    string      `json:"caller_id,omitempty"`
	Date        string      `json:"date"`
	Spend       float64     `json:"spend"`
	Cap         float64     `json:"cap"`
	WarnReached bool        `json:"warn_reached"`
}

// BudgetAlert is emitted when a scope approaches or exceeds its daily cap.
type BudgetAlert struct {
	Scope     BudgetScope `json:"scope"`
	CallerID  string      `json:"caller_id,omitempty"`
	Cap       float64     `json:"cap"`
	Spend     float64     `json:"spend"`
	AlertType string      `json:"alert_type"` // "warning" or "exceeded"
	Timestamp time.Time   `json:"timestamp"`
}
