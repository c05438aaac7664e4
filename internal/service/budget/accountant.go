// Package budget converts provider unit usage into monetary cost and
// enforces rolling daily spending caps, per caller and globally. All spend
// state lives in the shared store and is mutated only through atomic adds,
// so enforcement holds across concurrent callers and process instances.
package budget

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/divvychat/divvychat/internal/logging"
	"github.com/divvychat/divvychat/internal/metrics"
	"github.com/divvychat/divvychat/pkg/models"
)

// DefaultWarnThreshold is the fraction of the daily cap at which a warning
// is emitted while still allowing requests through.
const DefaultWarnThreshold = 0.80

// budgetKeyTTL garbage-collects date-scoped spend counters; the date in the
// key is what actually rolls the budget over.
const budgetKeyTTL = 48 * time.Hour

// BudgetExceededError reports a blocked request with the current spend and
// how long until the budget day rolls over.
type BudgetExceededError struct {
	Scope      models.BudgetScope
	CallerID   string
	Spend      float64
	Cap        float64
	RetryAfter time.Duration
}

func (e *BudgetExceededError) Error() string {
	if e.Scope == models.ScopeGlobal {
		return fmt.Sprintf("budget: global daily cap %.2f reached (spend %.4f)", e.Cap, e.Spend)
	}
	return fmt.Sprintf("budget: daily cap %.2f reached for caller %s (spend %.4f)", e.Cap, e.CallerID, e.Spend)
}

// CounterStore is the subset of the shared store the accountant needs.
type CounterStore interface {
	IncrByFloat(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error)
	GetFloat(ctx context.Context, key string) (float64, error)
}

// AlertSender receives budget alerts.
type AlertSender interface {
	SendBudgetAlert(ctx context.Context, alert models.BudgetAlert) error
}

// noopAlertSender is a default sender that does nothing
type noopAlertSender struct{}

func (n *noopAlertSender) SendBudgetAlert(ctx context.Context, alert models.BudgetAlert) error {
	return nil
}

// Accountant enforces daily budgets and prices provider usage.
type Accountant struct {
	store       CounterStore
	pricing     *models.PricingTable
	alertSender AlertSender
	logger      *slog.Logger

	capPerCaller  float64
	capGlobal     float64
	warnThreshold float64

	loc *time.Location
	now func() time.Time
}

// Option configures the accountant.
type Option func(*Accountant)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Accountant) { a.logger = logger }
}

// WithWarnThreshold sets the warning threshold as a fraction of the cap.
func WithWarnThreshold(threshold float64) Option {
	return func(a *Accountant) { a.warnThreshold = threshold }
}

// WithAlertSender sets the alert sender.
func WithAlertSender(sender AlertSender) Option {
	return func(a *Accountant) { a.alertSender = sender }
}

// WithLocation sets the timezone whose calendar day bounds the budget.
func WithLocation(loc *time.Location) Option {
	return func(a *Accountant) { a.loc = loc }
}

// WithTimeFunc sets a custom time function (for testing).
func WithTimeFunc(fn func() time.Time) Option {
	return func(a *Accountant) { a.now = fn }
}

// New creates a new cost accountant.
func New(store CounterStore, pricing *models.PricingTable, capPerCaller, capGlobal float64, opts ...Option) *Accountant {
	a := &Accountant{
		store:         store,
		pricing:       pricing,
		alertSender:   &noopAlertSender{},
		logger:        slog.Default(),
		capPerCaller:  capPerCaller,
		capGlobal:     capGlobal,
		warnThreshold: DefaultWarnThreshold,
		loc:           time.UTC,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EstimateCost prices unit usage for a tier in the billing currency.
// Pure function: unitsIn x priceIn + unitsOut x priceOut, converted at the
// configured exchange rate. Prices are per 1K units.
func (a *Accountant) EstimateCost(unitsIn, unitsOut int64, tier models.Tier) float64 {
	price := a.pricing.PriceFor(tier)
	reference := float64(unitsIn)/1000*price.InputPer1K + float64(unitsOut)/1000*price.OutputPer1K
	return reference * a.pricing.ExchangeRate
}

// CheckBudget verifies that neither the caller's nor the global daily budget
// is exhausted. Invoked before any provider call; a BudgetExceededError
// aborts the pipeline with zero cost recorded. Crossing the warn threshold
// emits a warning but still allows the request.
//
// If the store is unreachable the check fails OPEN with a degraded-mode
// event.
func (a *Accountant) CheckBudget(ctx context.Context, callerID string) error {
	now := a.now().In(a.loc)
	date := now.Format("2006-01-02")

	callerSpend, err := a.store.GetFloat(ctx, a.callerKey(callerID, date))
	if err != nil {
		a.failOpen(ctx, err)
		return nil
	}
	if err := a.enforce(ctx, models.ScopeCaller, callerID, callerSpend, a.capPerCaller, now); err != nil {
		return err
	}

	globalSpend, err := a.store.GetFloat(ctx, a.globalKey(date))
	if err != nil {
		a.failOpen(ctx, err)
		return nil
	}
	return a.enforce(ctx, models.ScopeGlobal, "", globalSpend, a.capGlobal, now)
}

// Charge atomically adds a successful call's cost to both daily budget
// scopes. Called only after a successful provider call; cache hits and
// fallbacks are never charged.
func (a *Accountant) Charge(ctx context.Context, callerID string, tier models.Tier, amount float64) error {
	if amount <= 0 {
		return nil
	}
	date := a.now().In(a.loc).Format("2006-01-02")

	if _, err := a.store.IncrByFloat(ctx, a.callerKey(callerID, date), amount, budgetKeyTTL); err != nil {
		return fmt.Errorf("budget: charge caller scope: %w", err)
	}
	if _, err := a.store.IncrByFloat(ctx, a.globalKey(date), amount, budgetKeyTTL); err != nil {
		return fmt.Errorf("budget: charge global scope: %w", err)
	}

	metrics.RecordSpend(tier.String(), amount)
	return nil
}

// Status reports the current state of a caller's daily budget.
func (a *Accountant) Status(ctx context.Context, callerID string) (*models.BudgetStatus, error) {
	date := a.now().In(a.loc).Format("2006-01-02")
	spend, err := a.store.GetFloat(ctx, a.callerKey(callerID, date))
	if err != nil {
		return nil, fmt.Errorf("budget: read caller spend: %w", err)
	}
	return &models.BudgetStatus{
		Scope:       models.ScopeCaller,
		CallerID:    callerID,
		Date:        date,
		Spend:       spend,
		Cap:         a.capPerCaller,
		WarnReached: spend >= a.warnThreshold*a.capPerCaller,
	}, nil
}

func (a *Accountant) enforce(ctx context.Context, scope models.BudgetScope, callerID string, spend, cap float64, now time.Time) error {
	if spend >= cap {
		metrics.RecordBudgetAlert("exceeded")
		metrics.RecordRejection("budget_exceeded")
		a.sendAlert(ctx, scope, callerID, spend, cap, "exceeded")
		return &BudgetExceededError{
			Scope:      scope,
			CallerID:   callerID,
			Spend:      spend,
			Cap:        cap,
			RetryAfter: untilNextDay(now),
		}
	}

	if spend >= a.warnThreshold*cap {
		metrics.RecordBudgetAlert("warning")
		a.logger.Warn("budget warning threshold crossed",
			slog.String("scope", string(scope)),
			slog.String("caller_id", callerID),
			slog.Float64("spend", spend),
			slog.Float64("cap", cap))
		a.sendAlert(ctx, scope, callerID, spend, cap, "warning")
	}

	return nil
}

func (a *Accountant) sendAlert(ctx context.Context, scope models.BudgetScope, callerID string, spend, cap float64, alertType string) {
	alert := models.BudgetAlert{
		Scope:     scope,
		CallerID:  callerID,
		Cap:       cap,
		Spend:     spend,
		AlertType: alertType,
		Timestamp: a.now(),
	}
	if err := a.alertSender.SendBudgetAlert(ctx, alert); err != nil {
		a.logger.Error("failed to send budget alert",
			slog.String("scope", string(scope)),
			slog.String("error", err.Error()))
	}
}

func (a *Accountant) callerKey(callerID, date string) string {
	return "budget:caller:" + callerID + ":" + date
}

func (a *Accountant) globalKey(date string) string {
	return "budget:global:" + date
}

func (a *Accountant) failOpen(ctx context.Context, err error) {
	metrics.RecordDegradedEvent("budget")
	logging.Degraded(ctx, "budget", err)
}

// untilNextDay returns the time remaining until local midnight.
func untilNextDay(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}
