package file_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/aretw0/filedrop/pkg/adapters/file"
	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/aretw0/filedrop/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_Contract(t *testing.T) {
	store := file.New(t.TempDir())
	ports.RunSessionStoreContract(t, store)
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	id, err := file.New(dir).Save(ctx, domain.State{"file_name": "abc.png"}, 5*time.Minute)
	require.NoError(t, err)

	reopened := file.New(dir)
	state, found, err := reopened.Load(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "abc.png", state["file_name"])

	entries, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5*time.Minute, entries[0].TTL)
}

func TestFileStore_OverwriteNeverHidesRecord(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	writer := file.New(dir)
	reader := file.New(dir)

	id, err := writer.Save(ctx, domain.State{"n": "0"}, time.Minute)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 1; i <= 200; i++ {
			if _, err := writer.Update(ctx, id, domain.State{"n": strconv.Itoa(i)}, time.Minute); err != nil {
				t.Errorf("update %d: %v", i, err)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		_, found, err := reader.Load(ctx, id)
		require.NoError(t, err)
		require.True(t, found, "record missing while being overwritten")
	}
}

func TestFileStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	store := file.New(dir)
	ctx := context.Background()

	id, err := store.Save(ctx, domain.State{"k": "v"}, time.Minute)
	require.NoError(t, err)
	_, err = store.Update(ctx, id, domain.State{"k": "w"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, store.UpdateTTL(ctx, id, time.Hour))

	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, id+".json", files[0].Name())
}

func TestFileStore_RejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	outside := filepath.Join(filepath.Dir(dir), "victim.json")
	require.NoError(t, os.WriteFile(outside, []byte(`{"state":{"x":"y"}}`), 0o644))
	t.Cleanup(func() { _ = os.Remove(outside) })

	store := file.New(dir)
	ctx := context.Background()

	for _, id := range []string{"../victim", "..", ".", "a/b"} {
		_, found, err := store.Load(ctx, id)
		assert.NoError(t, err)
		assert.False(t, found, "id %q must not resolve outside the store", id)
		assert.NoError(t, store.Delete(ctx, id))

		_, err = store.Update(ctx, id, domain.State{}, time.Minute)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	}

	_, err := os.Stat(outside)
	assert.NoError(t, err, "delete must not have reached outside the base path")
}

func TestFileStore_ListMissingDirectory(t *testing.T) {
	store := file.New(filepath.Join(t.TempDir(), "not-created-yet"))
	entries, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}
