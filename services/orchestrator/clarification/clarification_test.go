// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clarification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConfirmation(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"yes", true},
		{"  YES ", true},
		{"y", true},
		{"Correct", true},
		{"sure", true},
		{"ok", true},
		{"Okay", true},
		{"verify", true},
		{"yes please", false},
		{"no", false},
		{"", false},
		{"solve 2x+3=7", false},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConfirmation(tt.msg))
		})
	}
}

// =============================================================================
// Store contract
// =============================================================================

func runStoreContract(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Take(ctx, "missing")
	assert.ErrorIs(t, err, ErrNoPending)

	require.NoError(t, store.Put(ctx, "c1", "first", time.Minute))
	require.NoError(t, store.Put(ctx, "c1", "second", time.Minute))
	require.NoError(t, store.Put(ctx, "c2", "other", time.Minute))

	got, err := store.Take(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	_, err = store.Take(ctx, "c1")
	assert.ErrorIs(t, err, ErrNoPending)

	got, err = store.Take(ctx, "c2")
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryStore())
}

func TestRedisStore_Contract(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStoreFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}))
	defer store.Close()

	runStoreContract(t, store)
}

func TestMemoryStore_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "stale", "old text", time.Minute))
	require.NoError(t, store.Put(ctx, "fresh", "new text", time.Hour))

	now = now.Add(2 * time.Minute)

	_, err := store.Take(ctx, "stale")
	assert.ErrorIs(t, err, ErrNoPending)

	removed, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed, "Take already dropped the expired slot")
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Put(ctx, "stale", "old text", time.Minute))
	now = now.Add(2 * time.Minute)
	removed, err = store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, store.Len())

	got, err := store.Take(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, "new text", got)
}

func TestRedisStore_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStoreFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()}), WithPrefix("test:"))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "c1", "x^2 = 4", time.Minute))
	assert.True(t, mr.Exists("test:c1"))
	assert.Equal(t, time.Minute, mr.TTL("test:c1"))

	mr.FastForward(2 * time.Minute)

	_, err := store.Take(ctx, "c1")
	assert.ErrorIs(t, err, ErrNoPending)
}

func TestRedisStore_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStoreFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr(), MaxRetries: -1}))
	require.NoError(t, store.Ping(context.Background()))
	mr.Close()

	_, err := store.Take(context.Background(), "c1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoPending))
}

// =============================================================================
// Gate
// =============================================================================

func TestGate_ConfirmationConsumesSlotOnce(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(NewMemoryStore(), 0)

	require.NoError(t, gate.Request(ctx, "conv-1", "Solve 2x+3=7"))

	query, confirmed := gate.Resolve(ctx, "conv-1", "Yes")
	assert.True(t, confirmed)
	assert.Equal(t, "Solve 2x+3=7", query)

	query, confirmed = gate.Resolve(ctx, "conv-1", "yes")
	assert.False(t, confirmed)
	assert.Equal(t, "yes", query)
}

func TestGate_SlotsAreKeyedByConversation(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(NewMemoryStore(), time.Minute)

	require.NoError(t, gate.Request(ctx, "alice", "integrate x^2"))

	query, confirmed := gate.Resolve(ctx, "bob", "ok")
	assert.False(t, confirmed)
	assert.Equal(t, "ok", query)

	query, confirmed = gate.Resolve(ctx, "alice", "ok")
	assert.True(t, confirmed)
	assert.Equal(t, "integrate x^2", query)
}

func TestGate_NonConfirmationKeepsSlot(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(NewMemoryStore(), time.Minute)

	require.NoError(t, gate.Request(ctx, "c", "lim x->0 sin x / x"))

	query, confirmed := gate.Resolve(ctx, "c", "what is a limit?")
	assert.False(t, confirmed)
	assert.Equal(t, "what is a limit?", query)

	query, confirmed = gate.Resolve(ctx, "c", "correct")
	assert.True(t, confirmed)
	assert.Equal(t, "lim x->0 sin x / x", query)
}

func TestGate_ConcurrentConfirmationsConsumeOnce(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	gate := NewGate(NewRedisStoreFromClient(backend.NewClient(&backend.Options{Addr: mr.Addr()})), time.Minute)
	require.NoError(t, gate.Request(ctx, "c", "d/dx x^3"))

	var confirmedCount int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := gate.Resolve(ctx, "c", "yes"); ok {
				atomic.AddInt32(&confirmedCount, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), confirmedCount)
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, string, time.Duration) error {
	return errors.New("store down")
}

func (failingStore) Take(context.Context, string) (string, error) {
	return "", errors.New("store down")
}

func TestGate_StoreFailures(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(failingStore{}, time.Minute)

	assert.ErrorContains(t, gate.Request(ctx, "c", "text"), "store down")

	query, confirmed := gate.Resolve(ctx, "c", "yes")
	assert.False(t, confirmed)
	assert.Equal(t, "yes", query)
}
