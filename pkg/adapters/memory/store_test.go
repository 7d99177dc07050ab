package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/filedrop/internal/testutils"
	"github.com/aretw0/filedrop/pkg/adapters/memory"
	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Contract(t *testing.T) {
	store := memory.NewStore()
	ports.RunSessionStoreContract(t, store)
}

func TestMemoryStore_ContractWithLazyExpiry(t *testing.T) {
	store := memory.NewStore(memory.WithExpiryPolicy(domain.ExpiryLazy))
	ports.RunSessionStoreContract(t, store)
}

func TestMemoryStore_CallerMutationIsolation(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	state := domain.State{"user": "alice"}
	id, err := store.Save(ctx, state, time.Minute)
	require.NoError(t, err)

	// Mutating the caller's map after Save must not leak into the table.
	state["user"] = "mallory"

	loaded, _, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded["user"])

	// Mutating a loaded snapshot must not leak either.
	loaded["user"] = "eve"
	again, _, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "alice", again["user"])
}

func TestMemoryStore_TTLNotEnforcedByDefault(t *testing.T) {
	clock := testutils.NewClock()
	store := memory.NewStore(memory.WithClock(clock.Now))
	ctx := context.Background()

	id, err := store.Save(ctx, domain.State{"k": "v"}, time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Hour)

	_, found, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, found, "ExpiryNone carries the TTL without acting on it")

	removed, err := store.Sweep()
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_LazyExpiry(t *testing.T) {
	clock := testutils.NewClock()
	store := memory.NewStore(memory.WithClock(clock.Now), memory.WithExpiryPolicy(domain.ExpiryLazy))
	ctx := context.Background()

	id, err := store.Save(ctx, domain.State{"k": "v"}, time.Minute)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	_, found, err := store.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, found)

	// Touching the TTL restarts the lifetime from now.
	require.NoError(t, store.UpdateTTL(ctx, id, time.Minute))
	clock.Advance(45 * time.Second)
	_, found, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.True(t, found, "UpdateTTL should have renewed the session")

	clock.Advance(time.Minute)
	_, found, err = store.Load(ctx, id)
	require.NoError(t, err)
	assert.False(t, found, "expired session must read as absent")
	assert.Zero(t, store.Len(), "lazy expiry evicts on read")

	_, err = store.Update(ctx, id, domain.State{"k": "late"}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestMemoryStore_ExpiredSessionCannotBeUpdated(t *testing.T) {
	clock := testutils.NewClock()
	store := memory.NewStore(memory.WithClock(clock.Now), memory.WithExpiryPolicy(domain.ExpiryLazy))
	ctx := context.Background()

	id, err := store.Save(ctx, domain.State{"k": "v"}, time.Second)
	require.NoError(t, err)
	clock.Advance(2 * time.Second)

	assert.ErrorIs(t, store.UpdateTTL(ctx, id, time.Hour), domain.ErrSessionNotFound)
	assert.Zero(t, store.Len())
}

func TestMemoryStore_Sweep(t *testing.T) {
	clock := testutils.NewClock()
	store := memory.NewStore(memory.WithClock(clock.Now), memory.WithExpiryPolicy(domain.ExpiryActive))
	ctx := context.Background()

	short, err := store.Save(ctx, domain.State{"n": "short"}, time.Minute)
	require.NoError(t, err)
	long, err := store.Save(ctx, domain.State{"n": "long"}, time.Hour)
	require.NoError(t, err)
	_, err = store.Save(ctx, domain.State{"n": "forever"}, 0)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	entries, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "List hides expired sessions")

	removed, err := store.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, store.Len())

	_, found, _ := store.Load(ctx, short)
	assert.False(t, found)
	_, found, _ = store.Load(ctx, long)
	assert.True(t, found)
}

func TestMemoryStore_RunSweepsUntilCanceled(t *testing.T) {
	clock := testutils.NewClock()
	store := memory.NewStore(
		memory.WithClock(clock.Now),
		memory.WithExpiryPolicy(domain.ExpiryActive),
		memory.WithSweepInterval(5*time.Millisecond),
	)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := store.Save(ctx, domain.State{"k": "v"}, time.Second)
	require.NoError(t, err)
	clock.Advance(time.Minute)

	done := make(chan error, 1)
	go func() { done <- store.Run(ctx) }()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMemoryStore_RunOutlivesPoisonedTable(t *testing.T) {
	store := memory.NewStore(
		memory.WithExpiryPolicy(domain.ExpiryActive),
		memory.WithSweepInterval(5*time.Millisecond),
		memory.WithKeyGenerator(func() (string, error) { panic("generator failure") }),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := store.Save(ctx, domain.State{"k": "v"}, time.Minute)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	done := make(chan error, 1)
	go func() { done <- store.Run(ctx) }()

	select {
	case err := <-done:
		t.Fatalf("Run returned before cancel: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestMemoryStore_RunIsNoopWithoutActivePolicy(t *testing.T) {
	store := memory.NewStore(memory.WithExpiryPolicy(domain.ExpiryLazy))
	// Must return without waiting on the context.
	assert.NoError(t, store.Run(context.Background()))
}

func TestMemoryStore_CollisionRetry(t *testing.T) {
	ids := []string{"fixed-id", "fixed-id", "fresh-id"}
	var mu sync.Mutex
	gen := func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		id := ids[0]
		if len(ids) > 1 {
			ids = ids[1:]
		}
		return id, nil
	}
	store := memory.NewStore(memory.WithKeyGenerator(gen))
	ctx := context.Background()

	first, err := store.Save(ctx, domain.State{"n": "1"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", first)

	second, err := store.Save(ctx, domain.State{"n": "2"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "fresh-id", second, "collision must regenerate, never overwrite")

	loaded, _, err := store.Load(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "1", loaded["n"])
}

func TestMemoryStore_CollisionExhaustion(t *testing.T) {
	store := memory.NewStore(memory.WithKeyGenerator(func() (string, error) { return "same", nil }))
	ctx := context.Background()

	_, err := store.Save(ctx, domain.State{}, time.Minute)
	require.NoError(t, err)

	_, err = store.Save(ctx, domain.State{}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrKeyEncoding)
	assert.Equal(t, 1, store.Len())
}

func TestMemoryStore_KeyEncodingError(t *testing.T) {
	ctx := context.Background()

	invalid := memory.NewStore(memory.WithKeyGenerator(func() (string, error) { return "not a cookie;value", nil }))
	_, err := invalid.Save(ctx, domain.State{"k": "v"}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrKeyEncoding)
	assert.Zero(t, invalid.Len(), "a rejected key must not be inserted")

	broken := memory.NewStore(memory.WithKeyGenerator(func() (string, error) { return "", errors.New("entropy exhausted") }))
	_, err = broken.Save(ctx, domain.State{"k": "v"}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrKeyEncoding)
}

func TestMemoryStore_PoisonedAfterPanic(t *testing.T) {
	store := memory.NewStore(memory.WithKeyGenerator(func() (string, error) {
		panic("generator blew up mid-insert")
	}))
	ctx := context.Background()

	_, err := store.Save(ctx, domain.State{"k": "v"}, time.Minute)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	// Every later operation must refuse to run, without blocking on the lock.
	_, _, err = store.Load(ctx, "any")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	_, err = store.Update(ctx, "any", domain.State{}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.ErrorIs(t, store.UpdateTTL(ctx, "any", time.Minute), domain.ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete(ctx, "any"), domain.ErrStoreUnavailable)
	_, err = store.List(ctx)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestMemoryStore_PoisonedByClockPanic(t *testing.T) {
	var armed bool
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		if armed {
			panic("clock failure")
		}
		return time.Now()
	}
	store := memory.NewStore(memory.WithClock(clock))
	ctx := context.Background()

	id, err := store.Save(ctx, domain.State{"k": "v"}, time.Minute)
	require.NoError(t, err)

	mu.Lock()
	armed = true
	mu.Unlock()

	_, err = store.Update(ctx, id, domain.State{"k": "w"}, time.Minute)
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)

	mu.Lock()
	armed = false
	mu.Unlock()

	_, _, err = store.Load(ctx, id)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable, "poisoning is permanent until restart")
}

func TestMemoryStore_ConcurrentMixedOperations(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := store.Save(ctx, domain.State{"k": "v"}, time.Minute)
			if !assert.NoError(t, err) {
				return
			}
			_, err = store.Update(ctx, id, domain.State{"k": "w"}, time.Minute)
			assert.NoError(t, err)
			assert.NoError(t, store.UpdateTTL(ctx, id, time.Hour))
			_, found, err := store.Load(ctx, id)
			assert.NoError(t, err)
			assert.True(t, found)
			assert.NoError(t, store.Delete(ctx, id))
		}()
	}
	wg.Wait()

	assert.Zero(t, store.Len())
}
