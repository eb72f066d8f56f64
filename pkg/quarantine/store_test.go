package quarantine_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/uploadguard/pkg/quarantine"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, opts ...quarantine.Option) (*quarantine.Store, string) {
	t.Helper()

	root := t.TempDir()
	store, err := quarantine.New(quarantine.Config{
		Root:     root,
		MaxBytes: 1 << 20,
	}, testLogger(), opts...)
	require.NoError(t, err)

	return store, root
}

// markClean walks a freshly stored artifact through scanning to clean so it
// becomes eligible for promotion.
func markClean(t *testing.T, store *quarantine.Store, token *quarantine.Token) {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, store.Transition(ctx, token, quarantine.StatePending, quarantine.StateScanning, nil))
	require.NoError(t, store.Transition(ctx, token, quarantine.StateScanning, quarantine.StateClean, nil))
}

// countFiles returns the number of regular files under root.
func countFiles(t *testing.T, root string) int {
	t.Helper()

	count := 0
	err := filepath.WalkDir(root, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	require.NoError(t, err)
	return count
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("missing root", func(t *testing.T) {
		t.Parallel()

		_, err := quarantine.New(quarantine.Config{MaxBytes: 1024}, testLogger())
		assert.ErrorIs(t, err, quarantine.ErrInvalidConfig)
	})

	t.Run("non-positive max bytes", func(t *testing.T) {
		t.Parallel()

		_, err := quarantine.New(quarantine.Config{Root: t.TempDir()}, testLogger())
		assert.ErrorIs(t, err, quarantine.ErrInvalidConfig)
	})
}

func TestStore_Put(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("stores content with both sidecar families", func(t *testing.T) {
		t.Parallel()

		store, root := newTestStore(t)
		content := []byte("quarantined payload")

		token, err := store.Put(ctx, content, quarantine.PutOptions{Profile: "avatar"})
		require.NoError(t, err)
		require.NotEmpty(t, token.Identifier)
		assert.NotEmpty(t, token.CorrelationID)
		assert.Equal(t, "avatar", token.Profile)

		stored, err := os.ReadFile(token.Path())
		require.NoError(t, err)
		assert.Equal(t, content, stored)

		// artifact + hash sidecar + metadata sidecar
		assert.Equal(t, 3, countFiles(t, root))

		state, err := store.GetState(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, quarantine.StatePending, state)
	})

	t.Run("rejects empty content", func(t *testing.T) {
		t.Parallel()

		store, root := newTestStore(t)

		_, err := store.Put(ctx, nil, quarantine.PutOptions{})
		assert.ErrorIs(t, err, quarantine.ErrEmptyContent)
		assert.Equal(t, 0, countFiles(t, root))
	})

	t.Run("rejects over-limit content without persisting anything", func(t *testing.T) {
		t.Parallel()

		root := t.TempDir()
		store, err := quarantine.New(quarantine.Config{Root: root, MaxBytes: 1024}, testLogger())
		require.NoError(t, err)

		_, err = store.Put(ctx, bytes.Repeat([]byte("x"), 2048), quarantine.PutOptions{})
		assert.ErrorIs(t, err, quarantine.ErrContentTooLarge)
		assert.Equal(t, 0, countFiles(t, root))
	})

	t.Run("keeps supplied correlation id", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)

		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{CorrelationID: "req-42"})
		require.NoError(t, err)
		assert.Equal(t, "req-42", token.CorrelationID)
	})

	t.Run("rejects too deeply nested extra metadata", func(t *testing.T) {
		t.Parallel()

		store, root := newTestStore(t)

		deep := map[string]any{}
		leaf := deep
		for range 12 {
			next := map[string]any{}
			leaf["nested"] = next
			leaf = next
		}

		_, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{Extra: deep})
		assert.ErrorIs(t, err, quarantine.ErrMetadataDepthExceeded)
		assert.Equal(t, 0, countFiles(t, root))
	})
}

func TestStore_PutStream(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("rejects over-limit stream without leaving files", func(t *testing.T) {
		t.Parallel()

		root := t.TempDir()
		store, err := quarantine.New(quarantine.Config{Root: root, MaxBytes: 1024}, testLogger())
		require.NoError(t, err)

		_, err = store.PutStream(ctx, bytes.NewReader(bytes.Repeat([]byte("x"), 4096)), quarantine.PutOptions{})
		assert.ErrorIs(t, err, quarantine.ErrContentTooLarge)
		assert.Equal(t, 0, countFiles(t, root))
	})

	t.Run("rejects empty stream", func(t *testing.T) {
		t.Parallel()

		store, root := newTestStore(t)

		_, err := store.PutStream(ctx, bytes.NewReader(nil), quarantine.PutOptions{})
		assert.ErrorIs(t, err, quarantine.ErrEmptyContent)
		assert.Equal(t, 0, countFiles(t, root))
	})
}

func TestStore_Transition(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("valid edge updates persisted state", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{})
		require.NoError(t, err)

		require.NoError(t, store.Transition(ctx, token, quarantine.StatePending, quarantine.StateScanning, nil))

		state, err := store.GetState(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, quarantine.StateScanning, state)
	})

	t.Run("invalid edge is rejected", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{})
		require.NoError(t, err)

		err = store.Transition(ctx, token, quarantine.StatePending, quarantine.StatePromoted, nil)
		assert.ErrorIs(t, err, quarantine.ErrInvalidTransition)
	})

	t.Run("unknown state is rejected", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{})
		require.NoError(t, err)

		err = store.Transition(ctx, token, quarantine.State("bogus"), quarantine.StateScanning, nil)
		assert.ErrorIs(t, err, quarantine.ErrUnknownState)
	})

	t.Run("state conflict leaves metadata untouched", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{})
		require.NoError(t, err)

		err = store.Transition(ctx, token, quarantine.StateScanning, quarantine.StateClean, nil)
		require.Error(t, err)

		var conflict *quarantine.StateConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, quarantine.StateScanning, conflict.Expected)
		assert.Equal(t, quarantine.StatePending, conflict.Current)

		state, err := store.GetState(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, quarantine.StatePending, state)
	})

	t.Run("extra attributes are merged into metadata", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{})
		require.NoError(t, err)

		err = store.Transition(ctx, token, quarantine.StatePending, quarantine.StateScanning, map[string]any{"engine": "clamav"})
		require.NoError(t, err)

		meta, err := store.GetMetadata(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, "clamav", meta.Extra["engine"])
	})
}

func TestStore_Promote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("round trip preserves bytes", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		content := []byte("bytes that must survive promotion verbatim")

		token, err := store.Put(ctx, content, quarantine.PutOptions{})
		require.NoError(t, err)
		markClean(t, store, token)

		dest, err := store.Promote(ctx, token, quarantine.PromoteOptions{})
		require.NoError(t, err)

		promoted, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, content, promoted)

		// Quarantine-side file and sidecars are gone after promotion.
		_, err = os.Lstat(token.Path())
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("tampered artifact fails integrity check and stays put", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		token, err := store.Put(ctx, []byte("original"), quarantine.PutOptions{})
		require.NoError(t, err)
		markClean(t, store, token)

		require.NoError(t, os.WriteFile(token.Path(), []byte("tampered"), 0o644))

		_, err = store.Promote(ctx, token, quarantine.PromoteOptions{})
		assert.ErrorIs(t, err, quarantine.ErrIntegrity)

		// The artifact was not moved and was never recorded as promoted.
		stored, err := os.ReadFile(token.Path())
		require.NoError(t, err)
		assert.Equal(t, []byte("tampered"), stored)

		state, err := store.GetState(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, quarantine.StateClean, state)
	})

	t.Run("requires a promotable state", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		token, err := store.Put(ctx, []byte("still pending"), quarantine.PutOptions{})
		require.NoError(t, err)

		_, err = store.Promote(ctx, token, quarantine.PromoteOptions{})
		assert.ErrorIs(t, err, quarantine.ErrInvalidTransition)

		state, err := store.GetState(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, quarantine.StatePending, state)
	})

	t.Run("explicit destination override", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{})
		require.NoError(t, err)
		markClean(t, store, token)

		dest, err := store.Promote(ctx, token, quarantine.PromoteOptions{Destination: "final/report.bin"})
		require.NoError(t, err)
		assert.Equal(t, filepath.Join("final", "report.bin"), filepath.Join(filepath.Base(filepath.Dir(dest)), filepath.Base(dest)))

		promoted, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, []byte("payload"), promoted)
	})

	t.Run("existing destination is never overwritten", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)

		first, err := store.Put(ctx, []byte("first"), quarantine.PutOptions{})
		require.NoError(t, err)
		markClean(t, store, first)
		dest, err := store.Promote(ctx, first, quarantine.PromoteOptions{Destination: "final/report.bin"})
		require.NoError(t, err)

		second, err := store.Put(ctx, []byte("second"), quarantine.PutOptions{})
		require.NoError(t, err)
		markClean(t, store, second)
		_, err = store.Promote(ctx, second, quarantine.PromoteOptions{Destination: "final/report.bin"})
		assert.ErrorIs(t, err, quarantine.ErrDestinationExists)

		existing, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, []byte("first"), existing)
	})

	t.Run("traversal destination is neutralized inside the root", func(t *testing.T) {
		t.Parallel()

		store, root := newTestStore(t)
		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{})
		require.NoError(t, err)
		markClean(t, store, token)

		dest, err := store.Promote(ctx, token, quarantine.PromoteOptions{Destination: "../../escape.bin"})
		require.NoError(t, err)
		assert.Equal(t, "escape.bin", filepath.Base(dest))

		// Nothing escaped above the root.
		_, err = os.Lstat(filepath.Join(root, "..", "..", "escape.bin"))
		assert.True(t, os.IsNotExist(err))
	})
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("removes artifact and sidecars", func(t *testing.T) {
		t.Parallel()

		store, root := newTestStore(t)
		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, token))
		assert.Equal(t, 0, countFiles(t, root))
	})

	t.Run("idempotent on missing artifact", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{})
		require.NoError(t, err)

		require.NoError(t, store.Delete(ctx, token))
		require.NoError(t, store.Delete(ctx, token))
	})
}

func TestStore_ResolveToken(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("resolves a stored identifier", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)
		token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{
			CorrelationID: "req-7",
			Profile:       "document",
		})
		require.NoError(t, err)

		resolved, ok := store.ResolveToken(token.Identifier)
		require.True(t, ok)
		assert.Equal(t, token.Path(), resolved.Path())
		assert.Equal(t, "req-7", resolved.CorrelationID)
		assert.Equal(t, "document", resolved.Profile)
	})

	t.Run("rejects hostile identifiers", func(t *testing.T) {
		t.Parallel()

		store, _ := newTestStore(t)

		for _, id := range []string{
			"",
			"../outside",
			"aa/../../etc/passwd",
			"/etc/passwd",
			"aa/bb/name with spaces",
			"aa/bb/%2e%2e",
		} {
			_, ok := store.ResolveToken(id)
			assert.False(t, ok, "identifier %q must not resolve", id)
		}
	})
}

func TestStore_ConcurrentPuts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store, _ := newTestStore(t)

	const workers = 16

	var (
		mu          sync.Mutex
		identifiers = make(map[string]struct{}, workers)
		wg          sync.WaitGroup
	)

	for i := range workers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			token, err := store.Put(ctx, []byte{byte(n), 'p', 'a', 'y'}, quarantine.PutOptions{})
			assert.NoError(t, err)
			if token == nil {
				return
			}

			mu.Lock()
			identifiers[token.Identifier] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, identifiers, workers, "every put must claim a distinct path")
}

func TestStore_WithClock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fixed := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	store, _ := newTestStore(t, quarantine.WithClock(func() time.Time { return fixed }))

	token, err := store.Put(ctx, []byte("payload"), quarantine.PutOptions{})
	require.NoError(t, err)

	meta, err := store.GetMetadata(ctx, token)
	require.NoError(t, err)
	assert.True(t, meta.CreatedAt.Equal(fixed))
	assert.True(t, meta.UpdatedAt.Equal(fixed))
}
