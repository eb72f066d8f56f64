package quarantine

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PruneStale sweeps artifacts whose state-specific TTL has elapsed since
// their last update. Eligible artifacts are transitioned to expired first, so
// the terminal state is observable by concurrent readers, then deleted.
// Per-artifact failures are logged and skipped; one bad artifact never blocks
// the sweep. Returns the number of artifacts removed.
func (s *Store) PruneStale(ctx context.Context, maxAge time.Duration) (int, error) {
	count := 0

	err := filepath.WalkDir(s.resolver.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable entries are skipped, not fatal
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() || !strings.HasSuffix(path, metadataSuffix) {
			return nil
		}

		artifact := strings.TrimSuffix(path, metadataSuffix)
		meta, err := readMetadata(artifact)
		if err != nil {
			s.log.Warn("skipping unreadable metadata sidecar during prune", slog.Any("error", err))
			return nil
		}
		if meta.State.Terminal() {
			return nil
		}

		ttl := maxAge
		switch meta.State {
		case StatePending:
			if meta.PendingTTLHours > 0 {
				ttl = time.Duration(meta.PendingTTLHours) * time.Hour
			} else if s.cfg.PendingTTLHours > 0 {
				ttl = time.Duration(s.cfg.PendingTTLHours) * time.Hour
			}
		case StateFailed:
			if meta.FailedTTLHours > 0 {
				ttl = time.Duration(meta.FailedTTLHours) * time.Hour
			} else if s.cfg.FailedTTLHours > 0 {
				ttl = time.Duration(s.cfg.FailedTTLHours) * time.Hour
			}
		}

		if s.now().Sub(meta.UpdatedAt) < ttl {
			return nil
		}

		rel, relErr := s.resolver.Rel(artifact)
		if relErr != nil {
			return nil
		}
		token := &Token{
			absolutePath:  artifact,
			Identifier:    filepath.ToSlash(rel),
			CorrelationID: meta.CorrelationID,
			Profile:       meta.Profile,
		}

		if err := s.Transition(ctx, token, meta.State, StateExpired, nil); err != nil {
			s.log.Warn("failed to expire stale artifact",
				slog.String("identifier", token.Identifier),
				slog.Any("error", err))
			return nil
		}
		if err := s.Delete(ctx, token); err != nil {
			s.log.Warn("failed to delete expired artifact",
				slog.String("identifier", token.Identifier),
				slog.Any("error", err))
			return nil
		}

		count++
		return nil
	})

	return count, err
}

// CleanupOrphanedSidecars deletes hash and metadata sidecars whose primary
// artifact no longer exists. Returns the number of sidecars removed.
func (s *Store) CleanupOrphanedSidecars(ctx context.Context) (int, error) {
	count := 0

	err := filepath.WalkDir(s.resolver.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if d.IsDir() {
			return nil
		}

		var artifact string
		switch {
		case strings.HasSuffix(path, hashSuffix):
			artifact = strings.TrimSuffix(path, hashSuffix)
		case strings.HasSuffix(path, metadataSuffix):
			artifact = strings.TrimSuffix(path, metadataSuffix)
		default:
			return nil
		}

		if _, statErr := os.Lstat(artifact); !os.IsNotExist(statErr) {
			return nil
		}

		if rmErr := os.Remove(path); rmErr != nil {
			s.log.Warn("failed to remove orphaned sidecar", slog.Any("error", rmErr))
			return nil
		}

		count++
		return nil
	})

	return count, err
}
