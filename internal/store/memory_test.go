package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_IncrByFloat(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	v, err := m.IncrByFloat(ctx, "spend", 0.25, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	v, err = m.IncrByFloat(ctx, "spend", 0.50, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0.75, v)

	got, err := m.GetFloat(ctx, "spend")
	require.NoError(t, err)
	assert.Equal(t, 0.75, got)
}

func TestMemory_IncrByFloat_Concurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const n = 100
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.IncrByFloat(ctx, "spend", 0.01, time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := m.GetFloat(ctx, "spend")
	require.NoError(t, err)
	assert.InDelta(t, float64(n)*0.01, got, 1e-9)
}

func TestMemory_IncrByFloat_Expiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithTimeFunc(func() time.Time { return now }))
	ctx := context.Background()

	_, err := m.IncrByFloat(ctx, "spend", 1.0, time.Hour)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)

	got, err := m.GetFloat(ctx, "spend")
	require.NoError(t, err)
	assert.Equal(t, 0.0, got)

	// A write after expiry starts a fresh counter
	v, err := m.IncrByFloat(ctx, "spend", 0.5, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
}

func TestMemory_Incr(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		v, err := m.Incr(ctx, "turns", time.Hour)
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}
}

func TestMemory_Incr_Concurrent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Incr(ctx, "turns", time.Hour)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := m.Incr(ctx, "turns", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(n+1), v)
}

func TestMemory_WindowAdd_PrunesOldEvents(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	window := time.Minute

	for i := 0; i < 3; i++ {
		_, err := m.WindowAdd(ctx, "w", base.Add(time.Duration(i)*time.Second), window, 2*window)
		require.NoError(t, err)
	}

	// Still within the window
	count, err := m.WindowAdd(ctx, "w", base.Add(30*time.Second), window, 2*window)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	// 61s after base: the first three events fall out, the 30s one stays
	count, err = m.WindowAdd(ctx, "w", base.Add(65*time.Second), window, 2*window)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestMemory_GetSet(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemory(WithTimeFunc(func() time.Time { return now }))
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, m.Set(ctx, "k", "v1", time.Minute))

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	// Overwrite is last-writer-wins
	require.NoError(t, m.Set(ctx, "k", "v2", time.Minute))
	v, err = m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	// Expired entries read as missing
	now = now.Add(2 * time.Minute)
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
