package ports

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSessionStoreContract runs a suite of tests to verify that a SessionStore implementation
// adheres to the defined interface contract.
func RunSessionStoreContract(t *testing.T, store SessionStore) {
	ctx := context.Background()

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.State{"user": "alice", "role": "admin", "empty": ""}

		id, err := store.Save(ctx, state, 30*time.Minute)
		require.NoError(t, err, "Save should not return error")
		require.NoError(t, domain.ValidateID(id), "Save must return a transport-safe ID")

		loaded, found, err := store.Load(ctx, id)
		require.NoError(t, err, "Load should not return error")
		require.True(t, found)
		assert.True(t, state.Equal(loaded), "expected %v, got %v", state, loaded)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		loaded, found, err := store.Load(ctx, "non-existent-session")
		assert.NoError(t, err, "absence is not an error")
		assert.False(t, found)
		assert.Nil(t, loaded)
	})

	t.Run("Update Preserves Identity", func(t *testing.T) {
		id, err := store.Save(ctx, domain.State{"v": "1"}, time.Minute)
		require.NoError(t, err)

		updatedID, err := store.Update(ctx, id, domain.State{"v": "2", "extra": "x"}, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, id, updatedID)

		loaded, found, err := store.Load(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, domain.State{"v": "2", "extra": "x"}, loaded)
	})

	t.Run("Update Replaces Whole State", func(t *testing.T) {
		id, err := store.Save(ctx, domain.State{"a": "1", "b": "2"}, time.Minute)
		require.NoError(t, err)

		_, err = store.Update(ctx, id, domain.State{"a": "3"}, time.Minute)
		require.NoError(t, err)

		loaded, _, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.State{"a": "3"}, loaded, "update is a snapshot, not a patch")
	})

	t.Run("Update Absent Fails", func(t *testing.T) {
		unknown := "unknown-session-id"
		_, err := store.Update(ctx, unknown, domain.State{"x": "y"}, time.Minute)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, found, err := store.Load(ctx, unknown)
		require.NoError(t, err)
		assert.False(t, found, "Update must not create a session")
	})

	t.Run("UpdateTTL Isolation", func(t *testing.T) {
		state := domain.State{"user": "carol"}
		id, err := store.Save(ctx, state, time.Minute)
		require.NoError(t, err)

		require.NoError(t, store.UpdateTTL(ctx, id, 2*time.Hour))

		loaded, found, err := store.Load(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, state, loaded)
	})

	t.Run("UpdateTTL Absent Fails", func(t *testing.T) {
		err := store.UpdateTTL(ctx, "unknown-ttl-session", time.Minute)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)

		_, found, err := store.Load(ctx, "unknown-ttl-session")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("Delete", func(t *testing.T) {
		id, err := store.Save(ctx, domain.State{"k": "v"}, time.Minute)
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, id), "Delete should not return error")

		_, found, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.False(t, found, "Load after Delete should report absence")

		assert.NoError(t, store.Delete(ctx, id), "second Delete must be idempotent")
		assert.NoError(t, store.Delete(ctx, "never-existed"))
	})

	t.Run("Identifier Uniqueness", func(t *testing.T) {
		id1, err := store.Save(ctx, domain.State{"same": "input"}, time.Minute)
		require.NoError(t, err)
		id2, err := store.Save(ctx, domain.State{"same": "input"}, time.Minute)
		require.NoError(t, err)
		assert.NotEqual(t, id1, id2)

		_, err = store.Update(ctx, id2, domain.State{"same": "changed"}, time.Minute)
		require.NoError(t, err)

		s1, _, err := store.Load(ctx, id1)
		require.NoError(t, err)
		s2, _, err := store.Load(ctx, id2)
		require.NoError(t, err)
		assert.Equal(t, "input", s1["same"])
		assert.Equal(t, "changed", s2["same"])
	})

	t.Run("Concurrent Updates Serialize", func(t *testing.T) {
		id, err := store.Save(ctx, domain.State{"writer": "none"}, time.Minute)
		require.NoError(t, err)

		const writers = 16
		candidates := make([]domain.State, writers)
		for i := range candidates {
			candidates[i] = domain.State{"writer": fmt.Sprint(i), "payload": fmt.Sprintf("p-%d", i)}
		}

		var wg sync.WaitGroup
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(s domain.State) {
				defer wg.Done()
				_, err := store.Update(ctx, id, s, time.Minute)
				errs <- err
			}(candidates[i])
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		final, found, err := store.Load(ctx, id)
		require.NoError(t, err)
		require.True(t, found)

		matches := 0
		for _, c := range candidates {
			if c.Equal(final) {
				matches++
			}
		}
		assert.Equal(t, 1, matches, "final state must be exactly one writer's snapshot, got %v", final)
	})

	t.Run("Scenario", func(t *testing.T) {
		id1, err := store.Save(ctx, domain.State{"user": "alice"}, 30*time.Minute)
		require.NoError(t, err)

		loaded, _, err := store.Load(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, domain.State{"user": "alice"}, loaded)

		got, err := store.Update(ctx, id1, domain.State{"user": "bob"}, 60*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, id1, got)

		loaded, _, err = store.Load(ctx, id1)
		require.NoError(t, err)
		assert.Equal(t, domain.State{"user": "bob"}, loaded)

		require.NoError(t, store.Delete(ctx, id1))
		_, found, err := store.Load(ctx, id1)
		require.NoError(t, err)
		assert.False(t, found)
	})

	if lister, ok := store.(Lister); ok {
		t.Run("List", func(t *testing.T) {
			id1, err := store.Save(ctx, domain.State{"n": "1"}, time.Minute)
			require.NoError(t, err)
			id2, err := store.Save(ctx, domain.State{"n": "2"}, 2*time.Minute)
			require.NoError(t, err)
			defer func() {
				_ = store.Delete(ctx, id1)
				_ = store.Delete(ctx, id2)
			}()

			entries, err := lister.List(ctx)
			require.NoError(t, err)

			byID := make(map[string]domain.Entry, len(entries))
			for i, e := range entries {
				byID[e.ID] = e
				if i > 0 {
					assert.Less(t, entries[i-1].ID, e.ID, "entries must be sorted by ID")
				}
			}
			require.Contains(t, byID, id1)
			require.Contains(t, byID, id2)
			assert.Equal(t, domain.State{"n": "2"}, byID[id2].State)
			assert.Equal(t, 2*time.Minute, byID[id2].TTL)
		})
	}
}
