package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divvychat/divvychat/internal/provider"
	"github.com/divvychat/divvychat/internal/provider/mock"
	"github.com/divvychat/divvychat/internal/service/admission"
	"github.com/divvychat/divvychat/internal/service/budget"
	"github.com/divvychat/divvychat/internal/service/respcache"
	"github.com/divvychat/divvychat/internal/store"
	"github.com/divvychat/divvychat/pkg/models"
)

// memTranscript is an in-memory Transcript for tests.
type memTranscript struct {
	mu       sync.Mutex
	messages map[string][]models.Message
}

func newMemTranscript() *memTranscript {
	return &memTranscript{messages: make(map[string][]models.Message)}
}

func (t *memTranscript) Append(ctx context.Context, msg models.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages[msg.ConversationID] = append(t.messages[msg.ConversationID], msg)
	return nil
}

func (t *memTranscript) GetRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msgs := t.messages[conversationID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]models.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (t *memTranscript) count(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages[conversationID])
}

type memCostRecorder struct {
	mu      sync.Mutex
	records []models.CostRecord
}

func (c *memCostRecorder) Record(ctx context.Context, rec models.CostRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *memCostRecorder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
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

type fixture struct {
	router     *Router
	store      *store.Memory
	budget     *budget.Accountant
	transcript *memTranscript
	costs      *memCostRecorder
	provider   *mock.Provider
}

func newFixture(t *testing.T, provOpts ...mock.Option) *fixture {
	t.Helper()
	mem := store.NewMemory()
	lim := admission.New(mem, 1000, 1000, time.Minute, 1000)
	acct := budget.New(mem, testPricing(), 100.0, 1000.0)
	cache := respcache.New(mem, respcache.TTLs{Low: time.Hour, Mid: 6 * time.Hour, High: 24 * time.Hour})
	prov := mock.New(provOpts...)
	transcript := newMemTranscript()
	costs := &memCostRecorder{}

	return &fixture{
		router:     New(lim, acct, cache, prov, transcript, costs),
		store:      mem,
		budget:     acct,
		transcript: transcript,
		costs:      costs,
		provider:   prov,
	}
}

func chatReq(text string) models.ChatRequest {
	return models.ChatRequest{
		CallerID:       "caller-1",
		ConversationID: "conv-1",
		Text:           text,
	}
}

func TestHandle_FreshRequest(t *testing.T) {
	f := newFixture(t, mock.WithResponse("Cada um paga R$ 40,00.", 100, 50))

	result, err := f.router.Handle(context.Background(), chatReq("dividir 120 entre 3"))
	require.NoError(t, err)

	assert.Equal(t, "Cada um paga R$ 40,00.", result.Text)
	assert.False(t, result.Cached)
	assert.False(t, result.Fallback)
	assert.Greater(t, result.Cost, 0.0)
	assert.Equal(t, int64(100), result.UnitsIn)
	assert.Equal(t, int64(50), result.UnitsOut)
	assert.Equal(t, 1.0, result.Confidence)

	// Caller and assistant turns persisted, cost record written
	assert.Equal(t, 2, f.transcript.count("conv-1"))
	assert.Equal(t, 1, f.costs.count())
}

func TestHandle_CacheHitIsFreeAndIdentical(t *testing.T) {
	f := newFixture(t, mock.WithResponse("Cada um paga R$ 40,00.", 100, 50))
	ctx := context.Background()

	first, err := f.router.Handle(ctx, chatReq("dividir 120 entre 3"))
	require.NoError(t, err)
	require.False(t, first.Cached)

	// Same normalized text from a different caller: served from cache,
	// identical text, zero cost, no provider call
	req := chatReq("  Dividir 120   entre 3 ")
	req.CallerID = "caller-2"
	req.ConversationID = "conv-2"
	second, err := f.router.Handle(ctx, req)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, 0.0, second.Cost)
	assert.Equal(t, int64(1), f.provider.CallCount())

	// Cached hits are not charged
	status, err := f.budget.Status(ctx, "caller-2")
	require.NoError(t, err)
	assert.Equal(t, 0.0, status.Spend)
}

func TestHandle_ScenarioScopesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := chatReq("quanto cada um paga?")
	req.Scenario = "restaurante"
	_, err := f.router.Handle(ctx, req)
	require.NoError(t, err)

	req2 := chatReq("quanto cada um paga?")
	req2.Scenario = "viagem"
	req2.ConversationID = "conv-2"
	result, err := f.router.Handle(ctx, req2)
	require.NoError(t, err)

	// Different scenario misses the cache and reaches the provider again
	assert.False(t, result.Cached)
	assert.Equal(t, int64(2), f.provider.CallCount())
}

func TestHandle_ProviderFailureServesFallback(t *testing.T) {
	f := newFixture(t, mock.WithError(provider.ErrProviderTimeout))
	ctx := context.Background()

	result, err := f.router.Handle(ctx, chatReq("dividir a conta"))
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Equal(t, DefaultFallbackText, result.Text)
	assert.Equal(t, 0.0, result.Cost)
	assert.Equal(t, 0.2, result.Confidence)

	// Fallbacks mutate no budget and write no cost record
	status, err := f.budget.Status(ctx, "caller-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, status.Spend)
	assert.Equal(t, 0, f.costs.count())

	// ...and are never cached: the retry reaches the provider again
	_, err = f.router.Handle(ctx, chatReq("dividir a conta"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.provider.CallCount())

	// But the turn is still persisted
	assert.Equal(t, 4, f.transcript.count("conv-1"))
}

func TestHandle_RateLimitedRejection(t *testing.T) {
	mem := store.NewMemory()
	lim := admission.New(mem, 1, 1000, time.Minute, 1000)
	acct := budget.New(mem, testPricing(), 100.0, 1000.0)
	cache := respcache.New(mem, respcache.TTLs{Low: time.Hour, Mid: time.Hour, High: time.Hour})
	r := New(lim, acct, cache, mock.New(), newMemTranscript(), &memCostRecorder{})
	ctx := context.Background()

	_, err := r.Handle(ctx, chatReq("oi"))
	require.NoError(t, err)

	_, err = r.Handle(ctx, chatReq("oi de novo"))
	require.Error(t, err)

	rej, ok := ToRejection(err)
	require.True(t, ok)
	assert.Equal(t, models.RejectRateLimited, rej.Kind)
	assert.Equal(t, 60, rej.RetryAfterSeconds)
}

func TestHandle_ConversationCapRejection(t *testing.T) {
	mem := store.NewMemory()
	lim := admission.New(mem, 1000, 1000, time.Minute, 2)
	acct := budget.New(mem, testPricing(), 100.0, 1000.0)
	cache := respcache.New(mem, respcache.TTLs{Low: time.Hour, Mid: time.Hour, High: time.Hour})
	r := New(lim, acct, cache, mock.New(), newMemTranscript(), &memCostRecorder{})
	ctx := context.Background()

	_, err := r.Handle(ctx, chatReq("primeira"))
	require.NoError(t, err)
	_, err = r.Handle(ctx, chatReq("segunda"))
	require.NoError(t, err)

	_, err = r.Handle(ctx, chatReq("terceira"))
	require.Error(t, err)

	rej, ok := ToRejection(err)
	require.True(t, ok)
	assert.Equal(t, models.RejectConversationTooLong, rej.Kind)
}

func TestHandle_BudgetExceededRejection(t *testing.T) {
	mem := store.NewMemory()
	lim := admission.New(mem, 1000, 1000, time.Minute, 1000)
	acct := budget.New(mem, testPricing(), 0.5, 1000.0)
	cache := respcache.New(mem, respcache.TTLs{Low: time.Hour, Mid: time.Hour, High: time.Hour})
	r := New(lim, acct, cache, mock.New(), newMemTranscript(), &memCostRecorder{})
	ctx := context.Background()

	require.NoError(t, acct.Charge(ctx, "caller-1", models.TierMid, 0.5))

	_, err := r.Handle(ctx, chatReq("dividir a conta"))
	require.Error(t, err)

	rej, ok := ToRejection(err)
	require.True(t, ok)
	assert.Equal(t, models.RejectBudgetExceeded, rej.Kind)
	assert.Equal(t, 0.5, rej.CurrentSpend)
	assert.Greater(t, rej.RetryAfterSeconds, 0)
}

func TestHandle_SuccessfulCallIsCharged(t *testing.T) {
	f := newFixture(t, mock.WithResponse("ok", 1000, 500))
	ctx := context.Background()

	result, err := f.router.Handle(ctx, chatReq("oi, tudo bem?"))
	require.NoError(t, err)
	require.Equal(t, models.TierLow, result.Tier)

	// 1000 in at 0.001/1K + 500 out at 0.002/1K
	assert.InDelta(t, 0.002, result.Cost, 1e-12)

	status, err := f.budget.Status(ctx, "caller-1")
	require.NoError(t, err)
	assert.InDelta(t, 0.002, status.Spend, 1e-12)
}

func TestHandle_TierRouting(t *testing.T) {
	var seen []models.Tier
	var mu sync.Mutex
	f := newFixture(t, mock.WithResponseFunc(func(tier models.Tier, _ []provider.ChatMessage) (*provider.Completion, error) {
		mu.Lock()
		seen = append(seen, tier)
		mu.Unlock()
		return &provider.Completion{Text: "ok", UnitsIn: 10, UnitsOut: 10}, nil
	}))
	ctx := context.Background()

	greeting := chatReq("Oi! Tudo bem?")
	_, err := f.router.Handle(ctx, greeting)
	require.NoError(t, err)

	complex := chatReq("a gente pagou 40% agora, mas se o João transferir em reais e o resto em US$, quanto fica pra cada um de nós 8 pessoas?")
	complex.ConversationID = "conv-2"
	complex.GroupID = "grp-1"
	_, err = f.router.Handle(ctx, complex)
	require.NoError(t, err)

	require.Len(t, seen, 2)
	assert.Equal(t, models.TierLow, seen[0])
	assert.Equal(t, models.TierHigh, seen[1])
}

func TestHandle_NilTranscriptAndCosts(t *testing.T) {
	mem := store.NewMemory()
	lim := admission.New(mem, 1000, 1000, time.Minute, 1000)
	acct := budget.New(mem, testPricing(), 100.0, 1000.0)
	cache := respcache.New(mem, respcache.TTLs{Low: time.Hour, Mid: time.Hour, High: time.Hour})
	r := New(lim, acct, cache, mock.New(), nil, nil)

	result, err := r.Handle(context.Background(), chatReq("oi"))
	require.NoError(t, err)
	assert.NotEmpty(t, result.Text)
}

func TestToRejection_UnknownError(t *testing.T) {
	_, ok := ToRejection(context.DeadlineExceeded)
	assert.False(t, ok)
}

func TestHandle_ConcurrentRequestsSettle(t *testing.T) {
	f := newFixture(t, mock.WithResponse("ok", 1000, 0))
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := models.ChatRequest{
				CallerID:       "caller-1",
				ConversationID: "conv-1",
				Text:           texts[i%len(texts)],
			}
			_, err := f.router.Handle(ctx, req)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Total spend equals per-call cost times the number of uncached calls;
	// every charge landed exactly once.
	status, err := f.budget.Status(ctx, "caller-1")
	require.NoError(t, err)
	perCall := 0.001 // 1000 units in at 0.001/1K
	calls := float64(f.provider.CallCount())
	assert.InDelta(t, calls*perCall, status.Spend, 1e-9)
}

var texts = []string{
	"dividir 120 entre 3",
	"quanto ficou pra cada um?",
	"o jantar deu 240 no total",
	"quem ainda não pagou?",
	"fecha a conta da viagem",
}
