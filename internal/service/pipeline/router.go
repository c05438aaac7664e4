// Package pipeline is the request router: it runs every inbound chat request
// through admission, budget, cache, classification, and the provider call,
// in that order, and settles the cost afterwards. Each stage either rejects
// the request or hands it to the next; no stage is retried.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/divvychat/divvychat/internal/logging"
	"github.com/divvychat/divvychat/internal/metrics"
	"github.com/divvychat/divvychat/internal/provider"
	"github.com/divvychat/divvychat/internal/service/admission"
	"github.com/divvychat/divvychat/internal/service/budget"
	"github.com/divvychat/divvychat/internal/service/respcache"
	"github.com/divvychat/divvychat/internal/service/triage"
	"github.com/divvychat/divvychat/pkg/models"
)

// DefaultFallbackText is returned verbatim when the provider call fails.
// Fixed canned text, zero cost, never cached.
const DefaultFallbackText = "Desculpe, não consegui processar sua mensagem agora. Tente novamente em alguns instantes."

const systemPrompt = "Você é o assistente do DivvyChat, um app de divisão de despesas entre amigos. " +
	"Ajude a dividir contas, calcular quanto cada pessoa deve e resolver acertos em grupo. " +
	"Responda em português de forma breve e direta, usando os valores da conversa."

// fallbackConfidence marks fallback answers as low-trust for the UI layer.
const fallbackConfidence = 0.2

// defaultHistoryWindow is how many recent turns feed the classifier and the
// provider prompt.
const defaultHistoryWindow = 20

// Transcript persists conversation turns and serves the recent-history
// window.
type Transcript interface {
	Append(ctx context.Context, msg models.Message) error
	GetRecent(ctx context.Context, conversationID string, limit int) ([]models.Message, error)
}

// CostRecorder persists per-call cost records for reporting.
type CostRecorder interface {
	Record(ctx context.Context, rec models.CostRecord) error
}

// Router orchestrates the full request pipeline.
type Router struct {
	admission  *admission.Limiter
	budget     *budget.Accountant
	cache      *respcache.Cache
	provider   provider.Provider
	transcript Transcript
	costs      CostRecorder
	logger     *slog.Logger

	currency      string
	fallbackText  string
	historyWindow int
	now           func() time.Time
}

// Option configures the router.
type Option func(*Router)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithFallbackText overrides the canned provider-failure response.
func WithFallbackText(text string) Option {
	return func(r *Router) { r.fallbackText = text }
}

// WithHistoryWindow sets how many recent turns are loaded per request.
func WithHistoryWindow(n int) Option {
	return func(r *Router) { r.historyWindow = n }
}

// WithCurrency sets the currency recorded on cost records.
func WithCurrency(currency string) Option {
	return func(r *Router) { r.currency = currency }
}

// WithTimeFunc sets a custom time function (for testing).
func WithTimeFunc(fn func() time.Time) Option {
	return func(r *Router) { r.now = fn }
}

// New creates the request router.
func New(lim *admission.Limiter, acct *budget.Accountant, cache *respcache.Cache,
	prov provider.Provider, transcript Transcript, costs CostRecorder, opts ...Option) *Router {
	r := &Router{
		admission:     lim,
		budget:        acct,
		cache:         cache,
		provider:      prov,
		transcript:    transcript,
		costs:         costs,
		logger:        slog.Default(),
		currency:      "USD",
		fallbackText:  DefaultFallbackText,
		historyWindow: defaultHistoryWindow,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle runs one chat request through the pipeline. It returns a ChatResult
// for every admitted request, including provider failures (as a fallback
// result); an error is returned only when the request is refused outright,
// and converts to a models.Rejection via ToRejection.
func (r *Router) Handle(ctx context.Context, req models.ChatRequest) (*models.ChatResult, error) {
	ctx = logging.WithConversationID(ctx, req.ConversationID)
	ctx = logging.WithCallerID(ctx, req.CallerID)

	if err := r.admission.Check(ctx, req.CallerID, req.ConversationID); err != nil {
		return nil, err
	}
	if err := r.budget.CheckBudget(ctx, req.CallerID); err != nil {
		return nil, err
	}

	history := r.loadHistory(ctx, req.ConversationID)
	conv := models.ConversationContext{
		CallerID:       req.CallerID,
		ConversationID: req.ConversationID,
		GroupID:        req.GroupID,
		History:        history,
		Preferences:    req.Preferences,
		Scenario:       req.Scenario,
	}

	fingerprint := respcache.Fingerprint(req.Text, respcache.ContextKey(conv))
	if entry, ok := r.cache.Get(ctx, fingerprint); ok {
		result := &models.ChatResult{
			Text:       entry.Text,
			Tier:       entry.Tier,
			Cost:       0,
			Cached:     true,
			Confidence: 1.0,
		}
		r.persistTurn(ctx, req, result)
		metrics.RecordOutcome("cached")
		return result, nil
	}

	signals := triage.Classify(req.Text, conv)
	tier := triage.Route(signals, triage.HadMidTierConfusion(history))
	metrics.RecordTierSelection(tier.String())

	// The stricter provider window applies only to requests that will
	// actually reach the remote model.
	if err := r.admission.CheckProvider(ctx, req.CallerID); err != nil {
		return nil, err
	}

	start := r.now()
	completion, err := r.provider.Invoke(ctx, tier, systemPrompt, buildPrompt(history, req.Text))
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordProviderCall(tier.String(), providerStatus(err), elapsed)
		r.logger.Warn("provider call failed, serving fallback",
			slog.String("tier", tier.String()),
			slog.String("provider", r.provider.Name()),
			slog.String("error", err.Error()))

		result := &models.ChatResult{
			Text:       r.fallbackText,
			Tier:       tier,
			Cost:       0,
			Fallback:   true,
			Confidence: fallbackConfidence,
		}
		r.persistTurn(ctx, req, result)
		metrics.RecordOutcome("fallback")
		return result, nil
	}
	metrics.RecordProviderCall(tier.String(), "success", elapsed)
	metrics.RecordUnits(tier.String(), completion.UnitsIn, completion.UnitsOut)

	cost := r.budget.EstimateCost(completion.UnitsIn, completion.UnitsOut, tier)
	if err := r.budget.Charge(ctx, req.CallerID, tier, cost); err != nil {
		// The response already cost money; losing the charge is a store
		// outage, not a reason to drop the answer.
		metrics.RecordDegradedEvent("budget_charge")
		logging.Degraded(ctx, "budget_charge", err)
	}

	if err := r.cache.Put(ctx, fingerprint, completion.Text, tier); err != nil {
		r.logger.Warn("cache write failed", slog.String("error", err.Error()))
	}
	r.recordCost(ctx, req, tier, completion, cost)

	result := &models.ChatResult{
		Text:       completion.Text,
		Tier:       tier,
		UnitsIn:    completion.UnitsIn,
		UnitsOut:   completion.UnitsOut,
		Cost:       cost,
		Confidence: 1.0,
	}
	r.persistTurn(ctx, req, result)
	metrics.RecordOutcome("responded")
	return result, nil
}

// loadHistory reads the recent-turn window. Transcript trouble degrades to an
// empty history rather than refusing the request.
func (r *Router) loadHistory(ctx context.Context, conversationID string) []models.Message {
	if r.transcript == nil {
		return nil
	}
	history, err := r.transcript.GetRecent(ctx, conversationID, r.historyWindow)
	if err != nil {
		metrics.RecordDegradedEvent("transcript")
		logging.Degraded(ctx, "transcript", err)
		return nil
	}
	return history
}

// persistTurn appends the caller and assistant messages for a responded
// request. Every terminal response is persisted, cached and fallback
// included; write failures are logged and swallowed.
func (r *Router) persistTurn(ctx context.Context, req models.ChatRequest, result *models.ChatResult) {
	if r.transcript == nil {
		return
	}
	now := r.now()
	turn := []models.Message{
		{
			ID:             uuid.New().String(),
			ConversationID: req.ConversationID,
			Role:           models.RoleCaller,
			Text:           req.Text,
			CreatedAt:      now,
		},
		{
			ID:             uuid.New().String(),
			ConversationID: req.ConversationID,
			Role:           models.RoleAssistant,
			Text:           result.Text,
			Tier:           result.Tier,
			UnitsIn:        result.UnitsIn,
			UnitsOut:       result.UnitsOut,
			Cost:           result.Cost,
			CreatedAt:      now,
		},
	}
	for _, msg := range turn {
		if err := r.transcript.Append(ctx, msg); err != nil {
			r.logger.Warn("transcript append failed",
				slog.String("conversation_id", msg.ConversationID),
				slog.String("error", err.Error()))
			return
		}
	}
}

func (r *Router) recordCost(ctx context.Context, req models.ChatRequest, tier models.Tier, completion *provider.Completion, cost float64) {
	if r.costs == nil {
		return
	}
	rec := models.CostRecord{
		ID:             uuid.New().String(),
		CallerID:       req.CallerID,
		ConversationID: req.ConversationID,
		Tier:           tier,
		UnitsIn:        completion.UnitsIn,
		UnitsOut:       completion.UnitsOut,
		Amount:         cost,
		Currency:       r.currency,
		CreatedAt:      r.now(),
	}
	if err := r.costs.Record(ctx, rec); err != nil {
		r.logger.Warn("cost record write failed", slog.String("error", err.Error()))
	}
}

// buildPrompt turns the history window plus the new message into the provider
// prompt, oldest turn first.
func buildPrompt(history []models.Message, text string) []provider.ChatMessage {
	msgs := make([]provider.ChatMessage, 0, len(history)+1)
	for _, m := range history {
		role := "user"
		if m.Role == models.RoleAssistant {
			role = "assistant"
		}
		msgs = append(msgs, provider.ChatMessage{Role: role, Content: m.Text})
	}
	return append(msgs, provider.ChatMessage{Role: "user", Content: text})
}

func providerStatus(err error) string {
	if errors.Is(err, provider.ErrProviderTimeout) {
		return "timeout"
	}
	return "error"
}

// ToRejection maps a refusal error from Handle to its wire representation.
// The second return is false for errors that are not refusals.
func ToRejection(err error) (*models.Rejection, bool) {
	var rle *admission.RateLimitError
	if errors.As(err, &rle) {
		return &models.Rejection{
			Kind:              models.RejectRateLimited,
			RetryAfterSeconds: int(rle.RetryAfter.Seconds()),
		}, true
	}
	if errors.Is(err, admission.ErrConversationTooLong) {
		return &models.Rejection{Kind: models.RejectConversationTooLong}, true
	}
	var bee *budget.BudgetExceededError
	if errors.As(err, &bee) {
		return &models.Rejection{
			Kind:              models.RejectBudgetExceeded,
			RetryAfterSeconds: int(bee.RetryAfter.Seconds()),
			CurrentSpend:      bee.Spend,
		}, true
	}
	return nil, false
}
