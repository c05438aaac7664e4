// Package admission decides whether a request may proceed at all, before any
// expensive work happens: sliding-window rate limits per caller, a stricter
// window for calls that will reach the remote model, and a hard cap on total
// turns in one conversation.
package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/divvychat/divvychat/internal/logging"
	"github.com/divvychat/divvychat/internal/metrics"
)

// ErrConversationTooLong is returned once a conversation hits its turn cap.
// Terminal for that conversation; the caller must start a new one.
var ErrConversationTooLong = errors.New("admission: conversation turn cap reached")

// RateLimitError reports a rejected request and how long the caller should
// wait before retrying.
type RateLimitError struct {
	Scope      string // "general" or "provider"
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("admission: %s rate limit of %d/window exceeded, retry after %s",
		e.Scope, e.Limit, e.RetryAfter)
}

// WindowStore is the subset of the shared store the limiter needs.
type WindowStore interface {
	WindowAdd(ctx context.Context, key string, now time.Time, window, ttl time.Duration) (int64, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// conversationTTL bounds how long an idle conversation's turn counter
// lingers in the store.
const conversationTTL = 24 * time.Hour

// Limiter is the admission controller.
type Limiter struct {
	store  WindowStore
	logger *slog.Logger

	generalLimit  int
	providerLimit int
	window        time.Duration
	maxTurns      int

	businessStart      int
	businessEnd        int
	businessMultiplier float64
	loc                *time.Location

	now func() time.Time
}

// Option configures the limiter.
type Option func(*Limiter)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithBusinessHours widens the general limit by multiplier between startHour
// (inclusive) and endHour (exclusive), evaluated in loc.
func WithBusinessHours(startHour, endHour int, multiplier float64, loc *time.Location) Option {
	return func(l *Limiter) {
		l.businessStart = startHour
		l.businessEnd = endHour
		l.businessMultiplier = multiplier
		l.loc = loc
	}
}

// WithTimeFunc sets a custom time function (for testing).
func WithTimeFunc(fn func() time.Time) Option {
	return func(l *Limiter) { l.now = fn }
}

// New creates a new admission limiter.
func New(store WindowStore, generalLimit, providerLimit int, window time.Duration, maxTurns int, opts ...Option) *Limiter {
	l := &Limiter{
		store:              store,
		logger:             slog.Default(),
		generalLimit:       generalLimit,
		providerLimit:      providerLimit,
		window:             window,
		maxTurns:           maxTurns,
		businessMultiplier: 1.0,
		loc:                time.UTC,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check admits or rejects an inbound request: general sliding window for the
// caller plus the conversation turn cap. The attempt is recorded in the
// window whether or not it is admitted.
//
// If the store is unreachable the check fails OPEN: product availability
// wins over strict quota enforcement during an outage.
func (l *Limiter) Check(ctx context.Context, callerID, conversationID string) error {
	now := l.now()
	limit := l.effectiveGeneralLimit(now)

	count, err := l.store.WindowAdd(ctx, "rl:general:"+callerID, now, l.window, 2*l.window)
	if err != nil {
		l.failOpen(ctx, "admission", err)
		return nil
	}
	if count > int64(limit) {
		metrics.RecordRejection("rate_limited")
		return &RateLimitError{Scope: "general", Limit: limit, RetryAfter: l.window}
	}

	turns, err := l.store.Incr(ctx, "conv:"+conversationID+":turns", conversationTTL)
	if err != nil {
		l.failOpen(ctx, "admission", err)
		return nil
	}
	if turns > int64(l.maxTurns) {
		metrics.RecordRejection("conversation_too_long")
		return ErrConversationTooLong
	}

	return nil
}

// CheckProvider applies the stricter per-minute window for requests that
// will actually reach the remote model. Called only on a cache miss.
func (l *Limiter) CheckProvider(ctx context.Context, callerID string) error {
	now := l.now()

	count, err := l.store.WindowAdd(ctx, "rl:provider:"+callerID, now, l.window, 2*l.window)
	if err != nil {
		l.failOpen(ctx, "admission_provider", err)
		return nil
	}
	if count > int64(l.providerLimit) {
		metrics.RecordRejection("rate_limited")
		return &RateLimitError{Scope: "provider", Limit: l.providerLimit, RetryAfter: l.window}
	}

	return nil
}

// effectiveGeneralLimit widens the general limit during configured business
// hours in the configured timezone.
func (l *Limiter) effectiveGeneralLimit(now time.Time) int {
	if l.businessMultiplier <= 1.0 || l.businessStart == l.businessEnd {
		return l.generalLimit
	}
	hour := now.In(l.loc).Hour()
	if hour >= l.businessStart && hour < l.businessEnd {
		return int(float64(l.generalLimit) * l.businessMultiplier)
	}
	return l.generalLimit
}

func (l *Limiter) failOpen(ctx context.Context, component string, err error) {
	metrics.RecordDegradedEvent(component)
	logging.Degraded(ctx, component, err)
}
