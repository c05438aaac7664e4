package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divvychat/divvychat/internal/store"
	"github.com/divvychat/divvychat/pkg/models"
)

type failingCounterStore struct{}

func (f *failingCounterStore) IncrByFloat(ctx context.Context, key string, amount float64, ttl time.Duration) (float64, error) {
	return 0, errors.New("connection refused")
}

func (f *failingCounterStore) GetFloat(ctx context.Context, key string) (float64, error) {
	return 0, errors.New("connection refused")
}

type recordingAlertSender struct {
	mu     sync.Mutex
	alerts []models.BudgetAlert
}

func (r *recordingAlertSender) SendBudgetAlert(ctx context.Context, alert models.BudgetAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func (r *recordingAlertSender) byType(alertType string) []models.BudgetAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.BudgetAlert
	for _, a := range r.alerts {
		if a.AlertType == alertType {
			out = append(out, a)
		}
	}
	return out
}

func testPricing() *models.PricingTable {
	return &models.PricingTable{
		Prices: map[models.Tier]models.TierPrice{
			models.TierLow:  {InputPer1K: 0.001, OutputPer1K: 0.002},
			models.TierMid:  {InputPer1K: 0.01, OutputPer1K: 0.03},
			models.TierHigh: {InputPer1K: 0.1, OutputPer1K: 0.3},
		},
		ExchangeRate: 1.0,
		Currency:     "USD",
	}
}

func TestEstimateCost(t *testing.T) {
	a := New(store.NewMemory(), testPricing(), 1.0, 50.0)

	// 1000 units in at 0.01/1K + 500 units out at 0.03/1K
	cost := a.EstimateCost(1000, 500, models.TierMid)
	assert.InDelta(t, 0.01+0.015, cost, 1e-12)
}

func TestEstimateCost_ExchangeRate(t *testing.T) {
	pricing := testPricing()
	pricing.ExchangeRate = 5.0
	a := New(store.NewMemory(), pricing, 1.0, 50.0)

	cost := a.EstimateCost(1000, 0, models.TierLow)
	assert.InDelta(t, 0.001*5.0, cost, 1e-12)
}

func TestEstimateCost_ZeroUsage(t *testing.T) {
	a := New(store.NewMemory(), testPricing(), 1.0, 50.0)
	assert.Equal(t, 0.0, a.EstimateCost(0, 0, models.TierHigh))
}

func TestCheckBudget_AllowsUnderCap(t *testing.T) {
	a := New(store.NewMemory(), testPricing(), 1.0, 50.0)
	assert.NoError(t, a.CheckBudget(context.Background(), "caller-1"))
}

func TestCheckBudget_BlocksAtCallerCap(t *testing.T) {
	mem := store.NewMemory()
	a := New(mem, testPricing(), 1.0, 50.0)
	ctx := context.Background()

	require.NoError(t, a.Charge(ctx, "caller-1", models.TierMid, 1.0))

	err := a.CheckBudget(ctx, "caller-1")
	require.Error(t, err)

	var bee *BudgetExceededError
	require.ErrorAs(t, err, &bee)
	assert.Equal(t, models.ScopeCaller, bee.Scope)
	assert.Equal(t, "caller-1", bee.CallerID)
	assert.Equal(t, 1.0, bee.Spend)
	assert.Greater(t, bee.RetryAfter, time.Duration(0))

	// Other callers are unaffected by one caller's exhaustion
	assert.NoError(t, a.CheckBudget(ctx, "caller-2"))
}

func TestCheckBudget_BlocksAtGlobalCap(t *testing.T) {
	mem := store.NewMemory()
	a := New(mem, testPricing(), 10.0, 2.0)
	ctx := context.Background()

	require.NoError(t, a.Charge(ctx, "caller-1", models.TierMid, 1.0))
	require.NoError(t, a.Charge(ctx, "caller-2", models.TierMid, 1.0))

	// Neither caller hit their own cap, but the global pool is drained
	err := a.CheckBudget(ctx, "caller-3")
	require.Error(t, err)

	var bee *BudgetExceededError
	require.ErrorAs(t, err, &bee)
	assert.Equal(t, models.ScopeGlobal, bee.Scope)
}

func TestCheckBudget_WarnsBeforeBlocking(t *testing.T) {
	sender := &recordingAlertSender{}
	a := New(store.NewMemory(), testPricing(), 1.0, 50.0,
		WithAlertSender(sender), WithWarnThreshold(0.80))
	ctx := context.Background()

	require.NoError(t, a.Charge(ctx, "caller-1", models.TierMid, 0.85))

	// Over the warn threshold but under the cap: allowed, with a warning
	require.NoError(t, a.CheckBudget(ctx, "caller-1"))
	assert.Len(t, sender.byType("warning"), 1)
	assert.Empty(t, sender.byType("exceeded"))
}

func TestCheckBudget_DayRollover(t *testing.T) {
	now := time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	a := New(store.NewMemory(), testPricing(), 1.0, 50.0, WithTimeFunc(clock))
	ctx := context.Background()

	require.NoError(t, a.Charge(ctx, "caller-1", models.TierMid, 1.0))
	require.Error(t, a.CheckBudget(ctx, "caller-1"))

	// Midnight rolls the budget into a fresh record
	now = time.Date(2025, 6, 2, 0, 1, 0, 0, time.UTC)
	assert.NoError(t, a.CheckBudget(ctx, "caller-1"))
}

func TestCheckBudget_TimezoneBoundsTheDay(t *testing.T) {
	saoPaulo, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	// 01:00 UTC on June 2nd is still June 1st in Sao Paulo
	now := time.Date(2025, 6, 2, 1, 0, 0, 0, time.UTC)
	a := New(store.NewMemory(), testPricing(), 1.0, 50.0,
		WithTimeFunc(func() time.Time { return now }),
		WithLocation(saoPaulo))
	ctx := context.Background()

	require.NoError(t, a.Charge(ctx, "caller-1", models.TierMid, 1.0))

	// Crossing UTC midnight did not roll the Sao Paulo budget day
	require.Error(t, a.CheckBudget(ctx, "caller-1"))

	// Crossing Sao Paulo midnight (03:00 UTC) does
	now = time.Date(2025, 6, 2, 3, 30, 0, 0, time.UTC)
	assert.NoError(t, a.CheckBudget(ctx, "caller-1"))
}

func TestCharge_ConcurrentChargesAreNotLost(t *testing.T) {
	mem := store.NewMemory()
	a := New(mem, testPricing(), 1000.0, 5000.0)
	ctx := context.Background()

	const n = 100
	const amount = 0.01

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.Charge(ctx, "caller-1", models.TierMid, amount))
		}()
	}
	wg.Wait()

	status, err := a.Status(ctx, "caller-1")
	require.NoError(t, err)
	assert.InDelta(t, n*amount, status.Spend, 1e-9)
}

func TestCharge_ZeroAmountIsNoop(t *testing.T) {
	a := New(store.NewMemory(), testPricing(), 1.0, 50.0)
	ctx := context.Background()

	require.NoError(t, a.Charge(ctx, "caller-1", models.TierLow, 0))

	status, err := a.Status(ctx, "caller-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, status.Spend)
}

func TestCheckBudget_FailsOpenWhenStoreUnavailable(t *testing.T) {
	a := New(&failingCounterStore{}, testPricing(), 1.0, 50.0)
	assert.NoError(t, a.CheckBudget(context.Background(), "caller-1"))
}

func TestStatus_WarnReached(t *testing.T) {
	a := New(store.NewMemory(), testPricing(), 1.0, 50.0)
	ctx := context.Background()

	require.NoError(t, a.Charge(ctx, "caller-1", models.TierMid, 0.9))

	status, err := a.Status(ctx, "caller-1")
	require.NoError(t, err)
	assert.True(t, status.WarnReached)
	assert.Equal(t, 1.0, status.Cap)
}
