package respcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/divvychat/divvychat/internal/store"
	"github.com/divvychat/divvychat/pkg/models"
)

type failingCacheStore struct{}

func (f *failingCacheStore) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("connection refused")
}

func (f *failingCacheStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("connection refused")
}

func testTTLs() TTLs {
	return TTLs{Low: time.Hour, Mid: 6 * time.Hour, High: 24 * time.Hour}
}

func TestFingerprint_NormalizesWhitespaceAndCase(t *testing.T) {
	a := Fingerprint("Quanto cada um paga?", "restaurante+group")
	b := Fingerprint("  quanto   CADA um paga?  ", "restaurante+group")
	assert.Equal(t, a, b)
}

func TestFingerprint_ContextKeySeparates(t *testing.T) {
	a := Fingerprint("quanto cada um paga?", "restaurante+group")
	b := Fingerprint("quanto cada um paga?", "viagem+group")
	assert.NotEqual(t, a, b)
}

func TestFingerprint_DifferentTextSeparates(t *testing.T) {
	a := Fingerprint("quanto cada um paga?", "restaurante+group")
	b := Fingerprint("quanto cada um deve?", "restaurante+group")
	assert.NotEqual(t, a, b)
}

func TestContextKey(t *testing.T) {
	direct := models.ConversationContext{Scenario: "restaurante"}
	group := models.ConversationContext{Scenario: "restaurante", GroupID: "g-1"}

	assert.Equal(t, "restaurante+direct", ContextKey(direct))
	assert.Equal(t, "restaurante+group", ContextKey(group))
}

func TestGetPut_RoundTrip(t *testing.T) {
	c := New(store.NewMemory(), testTTLs())
	ctx := context.Background()
	fp := Fingerprint("dividir a conta em 3", "restaurante+group")

	_, ok := c.Get(ctx, fp)
	require.False(t, ok)

	require.NoError(t, c.Put(ctx, fp, "R$ 40,00 para cada um.", models.TierLow))

	entry, ok := c.Get(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, "R$ 40,00 para cada um.", entry.Text)
	assert.Equal(t, models.TierLow, entry.Tier)
}

func TestGet_ExpiredEntryIsMiss(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	mem := store.NewMemory(store.WithTimeFunc(func() time.Time { return now }))
	c := New(mem, testTTLs(), WithTimeFunc(clock))
	ctx := context.Background()
	fp := Fingerprint("oi", "geral+direct")

	require.NoError(t, c.Put(ctx, fp, "Oi! Como posso ajudar?", models.TierLow))

	now = now.Add(2 * time.Hour) // past the 1h low-tier TTL
	_, ok := c.Get(ctx, fp)
	assert.False(t, ok)
}

func TestGet_StoreFailureIsMiss(t *testing.T) {
	c := New(&failingCacheStore{}, testTTLs())
	_, ok := c.Get(context.Background(), "deadbeef")
	assert.False(t, ok)
}

func TestPut_StoreFailureReturnsError(t *testing.T) {
	c := New(&failingCacheStore{}, testTTLs())
	err := c.Put(context.Background(), "deadbeef", "resp", models.TierMid)
	assert.Error(t, err)
}

func TestPut_LastWriterWins(t *testing.T) {
	c := New(store.NewMemory(), testTTLs())
	ctx := context.Background()
	fp := Fingerprint("quanto ficou?", "geral+direct")

	require.NoError(t, c.Put(ctx, fp, "first", models.TierLow))
	require.NoError(t, c.Put(ctx, fp, "second", models.TierMid))

	entry, ok := c.Get(ctx, fp)
	require.True(t, ok)
	assert.Equal(t, "second", entry.Text)
	assert.Equal(t, models.TierMid, entry.Tier)
}

func TestTTLs_For(t *testing.T) {
	ttls := testTTLs()
	assert.Equal(t, time.Hour, ttls.For(models.TierLow))
	assert.Equal(t, 6*time.Hour, ttls.For(models.TierMid))
	assert.Equal(t, 24*time.Hour, ttls.For(models.TierHigh))
}
