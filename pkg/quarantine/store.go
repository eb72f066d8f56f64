package quarantine

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/uploadguard/pkg/pathsafe"
)

const (
	metadataSuffix  = ".meta.json"
	hashSuffix      = ".sha256"
	reservedSuffix  = ".reserved"
	promotedPrefix  = "promoted"
	maxPathAttempts = 5
)

// Config holds quarantine store settings, loadable via pkg/config.
type Config struct {
	// Root confines all quarantined artifacts; every path operation is
	// resolved against it.
	Root string `env:"QUARANTINE_ROOT,required"`
	// MaxBytes caps artifact size. Default 100MB.
	MaxBytes int64 `env:"QUARANTINE_MAX_BYTES" envDefault:"104857600"`
	// Default TTLs for non-terminal artifacts, overridable per artifact.
	PendingTTLHours int `env:"QUARANTINE_PENDING_TTL_HOURS" envDefault:"24"`
	FailedTTLHours  int `env:"QUARANTINE_FAILED_TTL_HOURS" envDefault:"72"`
}

// Store is a content-addressed quarantine for in-flight artifacts. Safe for
// concurrent use: different artifacts are fully independent, and path
// generation uses exclusive-create reservation markers to avoid two workers
// claiming the same generated path.
type Store struct {
	resolver *pathsafe.Resolver
	log      *slog.Logger
	now      func() time.Time
	random   io.Reader
	cfg      Config
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, used by TTL tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom overrides the randomness source for path generation.
func WithRandom(r io.Reader) Option {
	return func(s *Store) {
		if r != nil {
			s.random = r
		}
	}
}

// New creates a quarantine store rooted at cfg.Root. The root is created if
// missing and every subsequent path operation is confined to it.
func New(cfg Config, log *slog.Logger, opts ...Option) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("%w: root is required", ErrInvalidConfig)
	}
	if cfg.MaxBytes <= 0 {
		return nil, fmt.Errorf("%w: max bytes must be positive", ErrInvalidConfig)
	}
	if log == nil {
		log = slog.Default()
	}

	resolver, err := pathsafe.NewResolver(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	s := &Store{
		resolver: resolver,
		log:      log,
		now:      time.Now,
		random:   rand.Reader,
		cfg:      cfg,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// PutOptions carries per-artifact metadata supplied at ingest time.
type PutOptions struct {
	CorrelationID   string
	Profile         string
	PendingTTLHours int
	FailedTTLHours  int
	Extra           map[string]any
}

// Put stores content and returns a token for the new artifact. Empty or
// over-limit content is rejected before anything is persisted.
func (s *Store) Put(ctx context.Context, content []byte, opts PutOptions) (*Token, error) {
	if len(content) == 0 {
		return nil, ErrEmptyContent
	}
	if int64(len(content)) > s.cfg.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes over %d limit", ErrContentTooLarge, len(content), s.cfg.MaxBytes)
	}
	return s.PutStream(ctx, bytes.NewReader(content), opts)
}

// PutStream streams content into quarantine. The size limit is enforced
// during the copy, so an over-limit stream never leaves a persisted artifact
// behind.
func (s *Store) PutStream(ctx context.Context, r io.Reader, opts PutOptions) (*Token, error) {
	if err := validateDepth(opts.Extra); err != nil {
		return nil, err
	}

	rel, abs, err := s.claimPath(ctx, "")
	if err != nil {
		return nil, err
	}

	written, digest, err := s.writeArtifact(ctx, abs, r)
	if err != nil {
		s.discard(abs)
		return nil, err
	}
	if written == 0 {
		s.discard(abs)
		return nil, ErrEmptyContent
	}
	if written > s.cfg.MaxBytes {
		s.discard(abs)
		return nil, fmt.Errorf("%w: stream over %d limit", ErrContentTooLarge, s.cfg.MaxBytes)
	}

	if err := os.WriteFile(abs+hashSuffix, []byte(digest), 0o644); err != nil {
		s.discard(abs)
		return nil, fmt.Errorf("%w: %v", ErrFailedToWriteSidecar, err)
	}

	correlationID := opts.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	now := s.now()
	meta := &Metadata{
		State:           StatePending,
		CreatedAt:       now,
		UpdatedAt:       now,
		CorrelationID:   correlationID,
		Profile:         opts.Profile,
		PendingTTLHours: opts.PendingTTLHours,
		FailedTTLHours:  opts.FailedTTLHours,
	}
	meta.merge(opts.Extra)

	if err := writeMetadata(abs, meta); err != nil {
		s.discard(abs)
		return nil, err
	}

	// The reservation has served its purpose once the artifact and both
	// sidecars exist.
	_ = os.Remove(abs + reservedSuffix)

	return &Token{
		absolutePath:  abs,
		Identifier:    filepath.ToSlash(rel),
		CorrelationID: correlationID,
		Profile:       opts.Profile,
	}, nil
}

// Transition moves the artifact from one lifecycle state to another. It is
// the sole state-mutation primitive: the persisted state must equal from, and
// the from -> to edge must exist in the transition table, otherwise nothing
// is written.
func (s *Store) Transition(ctx context.Context, token *Token, from, to State, extra map[string]any) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !from.Valid() || !to.Valid() {
		return ErrUnknownState
	}
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if err := validateDepth(extra); err != nil {
		return err
	}

	meta, err := readMetadata(token.absolutePath)
	if err != nil {
		return err
	}
	if meta.State != from {
		return &StateConflictError{Expected: from, Current: meta.State}
	}

	meta.State = to
	meta.UpdatedAt = s.now()
	meta.merge(extra)

	return writeMetadata(token.absolutePath, meta)
}

// GetState returns the artifact's persisted lifecycle state.
func (s *Store) GetState(ctx context.Context, token *Token) (State, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	meta, err := readMetadata(token.absolutePath)
	if err != nil {
		return "", err
	}
	return meta.State, nil
}

// GetMetadata returns a copy of the artifact's persisted metadata record.
func (s *Store) GetMetadata(ctx context.Context, token *Token) (*Metadata, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return readMetadata(token.absolutePath)
}

// PromoteOptions configures promotion of a clean artifact out of quarantine.
type PromoteOptions struct {
	// Destination is an optional relative override for the final location.
	// When empty a fresh partitioned path is generated under the promoted
	// namespace.
	Destination string
	Extra       map[string]any
}

// Promote verifies the artifact against its integrity sidecar and performs a
// two-phase move to the final destination. The artifact must be in a state
// with an edge to promoted; the promoted state is staged into the metadata
// sidecar only immediately before the move and reverted if either rename
// fails, so a failed promotion never reads back as promoted. A crash mid-move
// leaves either the original artifact or a recoverable temporary under the
// destination directory, never a half-written destination. On success the
// quarantine-side sidecars are removed and empty ancestor directories pruned.
func (s *Store) Promote(ctx context.Context, token *Token, opts PromoteOptions) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	src := token.absolutePath
	if !s.resolver.Contains(src) {
		return "", fmt.Errorf("%w: token path outside store root", ErrArtifactNotFound)
	}
	if err := s.resolver.RejectSymlink(src); err != nil {
		return "", err
	}

	actual, err := hashFile(src)
	if err != nil {
		return "", err
	}
	recorded, err := os.ReadFile(src + hashSuffix)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFailedToReadSidecar, err)
	}
	if actual != strings.TrimSpace(string(recorded)) {
		return "", fmt.Errorf("%w: artifact mutated while quarantined", ErrIntegrity)
	}

	meta, err := readMetadata(src)
	if err != nil {
		return "", err
	}
	if !meta.State.CanTransition(StatePromoted) {
		return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, meta.State, StatePromoted)
	}

	var dest string
	if opts.Destination != "" {
		dest, err = s.resolver.Resolve(opts.Destination)
		if err != nil {
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", fmt.Errorf("%w: %v", ErrFailedToMoveArtifact, err)
		}
	} else {
		_, dest, err = s.claimPath(ctx, promotedPrefix)
		if err != nil {
			return "", err
		}
		defer func() { _ = os.Remove(dest + reservedSuffix) }()
	}

	if _, err := os.Lstat(dest); err == nil {
		return "", fmt.Errorf("%w: %s", ErrDestinationExists, filepath.Base(dest))
	}

	prev := meta.State
	meta.State = StatePromoted
	meta.UpdatedAt = s.now()
	meta.merge(opts.Extra)
	if err := writeMetadata(src, meta); err != nil {
		return "", err
	}
	revert := func() {
		meta.State = prev
		meta.UpdatedAt = s.now()
		if err := writeMetadata(src, meta); err != nil {
			s.log.Error("failed to revert state after aborted promotion",
				slog.String("correlation_id", token.CorrelationID),
				slog.Any("error", err))
		}
	}

	tmp := filepath.Join(filepath.Dir(dest), ".promote-"+filepath.Base(dest))
	if err := os.Rename(src, tmp); err != nil {
		revert()
		return "", fmt.Errorf("%w: %v", ErrFailedToMoveArtifact, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		// Best-effort restore so the artifact is not stranded under a
		// temporary name.
		if restoreErr := os.Rename(tmp, src); restoreErr != nil {
			s.log.Error("failed to restore artifact after aborted promotion",
				slog.String("correlation_id", token.CorrelationID),
				slog.Any("error", restoreErr))
		}
		revert()
		return "", fmt.Errorf("%w: %v", ErrFailedToMoveArtifact, err)
	}

	_ = os.Remove(src + hashSuffix)
	_ = os.Remove(src + metadataSuffix)
	s.pruneEmptyDirs(filepath.Dir(src))

	return dest, nil
}

// Delete removes the artifact and its sidecars. Idempotent: a missing
// artifact is not an error, and out-of-root paths are logged and ignored so a
// caller bug does not become a crash.
func (s *Store) Delete(ctx context.Context, token *Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if !s.resolver.Contains(token.absolutePath) {
		s.log.Warn("delete requested for path outside quarantine root, ignoring",
			slog.String("identifier", token.Identifier))
		return nil
	}

	for _, p := range []string{
		token.absolutePath,
		token.absolutePath + hashSuffix,
		token.absolutePath + metadataSuffix,
		token.absolutePath + reservedSuffix,
	} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", ErrFailedToMoveArtifact, err)
		}
	}

	s.pruneEmptyDirs(filepath.Dir(token.absolutePath))
	return nil
}

// ResolveToken reconstructs a token from a shareable identifier. Identifiers
// failing the strict character allowlist, containing traversal segments, or
// pointing at nothing resolvable return ok=false.
func (s *Store) ResolveToken(identifier string) (*Token, bool) {
	if !pathsafe.ValidIdentifier(identifier) {
		return nil, false
	}

	abs, err := s.resolver.Resolve(identifier)
	if err != nil {
		return nil, false
	}

	token := &Token{absolutePath: abs, Identifier: identifier}
	if meta, err := readMetadata(abs); err == nil {
		token.CorrelationID = meta.CorrelationID
		token.Profile = meta.Profile
	}

	return token, true
}

// claimPath generates an unpredictable partitioned relative path under the
// optional namespace and claims it with an exclusive-create reservation
// marker. Bounded retry with fresh randomness on collision.
func (s *Store) claimPath(ctx context.Context, namespace string) (rel, abs string, err error) {
	for range maxPathAttempts {
		select {
		case <-ctx.Done():
			return "", "", ctx.Err()
		default:
		}

		buf := make([]byte, 32)
		if _, err := io.ReadFull(s.random, buf); err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrPathGeneration, err)
		}
		name := hex.EncodeToString(buf)

		rel = filepath.Join(name[:2], name[2:4], name)
		if namespace != "" {
			rel = filepath.Join(namespace, rel)
		}

		abs, err = s.resolver.Resolve(rel)
		if err != nil {
			return "", "", err
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return "", "", fmt.Errorf("%w: %v", ErrPathGeneration, err)
		}

		marker, err := os.OpenFile(abs+reservedSuffix, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err != nil {
			if os.IsExist(err) {
				continue // another worker claimed this path, retry with fresh randomness
			}
			return "", "", fmt.Errorf("%w: %v", ErrPathGeneration, err)
		}
		_ = marker.Close()

		return rel, abs, nil
	}

	return "", "", ErrPathGeneration
}

// writeArtifact copies r into a freshly created file at abs, hashing as it
// writes. The copy checks ctx between chunks and stops one byte past the
// configured limit so oversized streams are detected without being fully
// consumed.
func (s *Store) writeArtifact(ctx context.Context, abs string, r io.Reader) (int64, string, error) {
	f, err := os.OpenFile(abs, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrFailedToWriteArtifact, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	dst := io.MultiWriter(f, h)
	limited := io.LimitReader(r, s.cfg.MaxBytes+1)

	var written int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			return written, "", ctx.Err()
		default:
		}

		n, readErr := limited.Read(buf)
		if n > 0 {
			nw, writeErr := dst.Write(buf[:n])
			if writeErr != nil {
				return written, "", fmt.Errorf("%w: %v", ErrFailedToWriteArtifact, writeErr)
			}
			written += int64(nw)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, "", fmt.Errorf("%w: %v", ErrFailedToWriteArtifact, readErr)
		}
	}

	return written, hex.EncodeToString(h.Sum(nil)), nil
}

// discard removes a partially-written artifact and all its sidecars.
func (s *Store) discard(abs string) {
	for _, p := range []string{abs, abs + hashSuffix, abs + metadataSuffix, abs + reservedSuffix} {
		_ = os.Remove(p)
	}
	s.pruneEmptyDirs(filepath.Dir(abs))
}

// pruneEmptyDirs removes now-empty ancestor directories up to the store root.
// os.Remove refuses non-empty directories, which terminates the walk.
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.resolver.Root() && s.resolver.Contains(dir) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// hashFile returns the hex SHA-256 of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %v", ErrArtifactNotFound, err)
		}
		return "", fmt.Errorf("%w: %v", ErrFailedToReadSidecar, err)
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("%w: %v", ErrFailedToReadSidecar, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
