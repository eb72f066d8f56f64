package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	debounceKeyPrefix = "uploadguard:debounce:"
	latestKeyPrefix   = "uploadguard:latest:"
)

// Debounce suppresses redundant kickoff of the same logical work using a
// short-TTL exclusive lock keyed by subject identity, plus a "remember
// latest" pointer so only the most recently produced artifact is ever
// post-processed even when several were queued.
//
// The lock only suppresses duplicate kickoff, never correctness: any Redis
// failure degrades to proceeding rather than silently dropping work.
type Debounce struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// NewDebounce creates a debounce keyed on subject identity. ttl should be
// short, on the order of a minute.
func NewDebounce(client *redis.Client, ttl time.Duration, log *slog.Logger) *Debounce {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Debounce{client: client, ttl: ttl, log: log}
}

// TryAcquire attempts to take the exclusive lock for subject. Returns false
// only when another holder provably has it; on any Redis error it returns
// true so work proceeds anyway.
func (d *Debounce) TryAcquire(ctx context.Context, subject string) bool {
	ok, err := d.client.SetNX(ctx, debounceKeyPrefix+subject, "1", d.ttl).Result()
	if err != nil {
		d.log.Warn("debounce lock unavailable, proceeding anyway",
			slog.String("subject", subject),
			slog.Any("error", err))
		return true
	}
	return ok
}

// Release drops the lock early. Best-effort; the TTL covers the failure case.
func (d *Debounce) Release(ctx context.Context, subject string) {
	if err := d.client.Del(ctx, debounceKeyPrefix+subject).Err(); err != nil {
		d.log.Warn("failed to release debounce lock",
			slog.String("subject", subject),
			slog.Any("error", err))
	}
}

// RememberLatest records artifactID as the most recent artifact for subject.
func (d *Debounce) RememberLatest(ctx context.Context, subject, artifactID string) error {
	if err := d.client.Set(ctx, latestKeyPrefix+subject, artifactID, d.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}
	return nil
}

// Latest returns the most recently remembered artifact for subject, or
// ok=false when none is recorded.
func (d *Debounce) Latest(ctx context.Context, subject string) (string, bool) {
	id, err := d.client.Get(ctx, latestKeyPrefix+subject).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			d.log.Warn("failed to read latest artifact pointer",
				slog.String("subject", subject),
				slog.Any("error", err))
		}
		return "", false
	}
	return id, true
}

// IsLatest reports whether artifactID is still the most recent artifact for
// subject. Workers draining a burst use this to skip superseded artifacts.
func (d *Debounce) IsLatest(ctx context.Context, subject, artifactID string) bool {
	latest, ok := d.Latest(ctx, subject)
	if !ok {
		return true // nothing recorded, nothing supersedes this artifact
	}
	return latest == artifactID
}
