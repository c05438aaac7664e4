// Package respcache reuses previously computed model responses. Entries are
// keyed by a stable fingerprint of the normalized request text plus a coarse
// context key, and expire on a tier-dependent TTL: pricier tiers cache
// longer because their answers cost more to recompute and age more slowly.
//
// The cache is a cost optimization, not a source of correctness: concurrent
// writers for the same fingerprint simply overwrite each other
// (last-writer-wins), and store failures read as misses.
package respcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/divvychat/divvychat/internal/metrics"
	"github.com/divvychat/divvychat/internal/store"
	"github.com/divvychat/divvychat/pkg/models"
)

// CacheStore is the subset of the shared store the cache needs.
type CacheStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// TTLs holds the per-tier expiry for cached entries.
type TTLs struct {
	Low  time.Duration
	Mid  time.Duration
	High time.Duration
}

// For returns the TTL for entries produced by the given tier.
func (t TTLs) For(tier models.Tier) time.Duration {
	switch tier {
	case models.TierHigh:
		return t.High
	case models.TierMid:
		return t.Mid
	default:
		return t.Low
	}
}

// Entry is one cached response.
type Entry struct {
	Text      string      `json:"text"`
	Tier      models.Tier `json:"tier"`
	CreatedAt time.Time   `json:"created_at"`
}

// Cache is the response cache.
type Cache struct {
	store  CacheStore
	ttls   TTLs
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the cache.
type Option func(*Cache)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithTimeFunc sets a custom time function (for testing).
func WithTimeFunc(fn func() time.Time) Option {
	return func(c *Cache) { c.now = fn }
}

// New creates a new response cache.
func New(cs CacheStore, ttls TTLs, opts ...Option) *Cache {
	c := &Cache{
		store:  cs,
		ttls:   ttls,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fingerprint derives the stable cache key for a request: normalized
// lowercase/trimmed text with collapsed whitespace, plus a coarse context
// key so the same question in a different scenario is not conflated.
func Fingerprint(text, contextKey string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(text))), " ")
	sum := sha256.Sum256([]byte(normalized + "|" + contextKey))
	return hex.EncodeToString(sum[:])
}

// ContextKey coarsens conversation context for fingerprinting: scenario plus
// group-vs-direct, nothing finer.
func ContextKey(conv models.ConversationContext) string {
	groupType := "direct"
	if conv.IsGroup() {
		groupType = "group"
	}
	return conv.Scenario + "+" + groupType
}

// Get looks up a fingerprint. A store failure reads as a miss; the cache
// never blocks the critical path.
func (c *Cache) Get(ctx context.Context, fingerprint string) (*Entry, bool) {
	raw, err := c.store.Get(ctx, "cache:"+fingerprint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			metrics.RecordCacheLookup("miss")
		} else {
			metrics.RecordCacheLookup("error")
			c.logger.Warn("cache lookup failed, treating as miss",
				slog.String("error", err.Error()))
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		metrics.RecordCacheLookup("error")
		c.logger.Warn("cache entry corrupt, treating as miss",
			slog.String("error", err.Error()))
		return nil, false
	}

	metrics.RecordCacheLookup("hit")
	return &entry, true
}

// Put stores a fresh result under a fingerprint with the tier's TTL.
// Overwrites wholesale; entries are never updated in place.
func (c *Cache) Put(ctx context.Context, fingerprint, text string, tier models.Tier) error {
	entry := Entry{
		Text:      text,
		Tier:      tier,
		CreatedAt: c.now(),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("respcache: marshal entry: %w", err)
	}
	if err := c.store.Set(ctx, "cache:"+fingerprint, string(raw), c.ttls.For(tier)); err != nil {
		return fmt.Errorf("respcache: write entry: %w", err)
	}
	return nil
}
