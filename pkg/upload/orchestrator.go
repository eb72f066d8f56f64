package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/dmitrymomot/uploadguard/pkg/blobstore"
	"github.com/dmitrymomot/uploadguard/pkg/quarantine"
	"github.com/dmitrymomot/uploadguard/pkg/scanner"
	"github.com/dmitrymomot/uploadguard/pkg/validate"
)

// Status of an upload receipt.
type Status string

const (
	// StatusPromoted means the artifact was validated and promoted
	// synchronously.
	StatusPromoted Status = "promoted"
	// StatusAccepted means the artifact was quarantined and processing was
	// deferred to a background worker.
	StatusAccepted Status = "accepted"
)

// Request is the upload entrypoint consumed by the HTTP layer.
type Request struct {
	Owner            string
	Collection       string
	OriginalFilename string
	Content          io.Reader
	Profile          validate.Profile
	CorrelationID    string
	RequireScan      bool
}

// Receipt describes the outcome of an upload. For StatusAccepted only the
// correlation and quarantine identifiers are populated.
type Receipt struct {
	Status        Status
	CorrelationID string
	QuarantineID  string
	FinalPath     string
	Size          int64
	MIMEType      string
	Hash          string
}

// Orchestrator drives one artifact through quarantine, scanning, validation,
// and promotion, handling all failure transitions and cleanup.
type Orchestrator struct {
	store    *quarantine.Store
	scans    *scanner.Coordinator
	pipeline *validate.Pipeline
	durable  blobstore.Storage
	debounce *Debounce
	metrics  *Metrics
	log      *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDurableStorage promotes validated artifacts into the given collaborator
// instead of the quarantine store's promoted namespace.
func WithDurableStorage(s blobstore.Storage) Option {
	return func(o *Orchestrator) { o.durable = s }
}

// WithDebounce enables burst coalescing for trigger events.
func WithDebounce(d *Debounce) Option {
	return func(o *Orchestrator) { o.debounce = d }
}

// WithMetrics enables outcome counters.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(store *quarantine.Store, scans *scanner.Coordinator, pipeline *validate.Pipeline, log *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if store == nil || scans == nil || pipeline == nil {
		return nil, ErrNilDependency
	}
	if log == nil {
		log = slog.Default()
	}

	o := &Orchestrator{store: store, scans: scans, pipeline: pipeline, log: log}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Process runs the full pipeline synchronously: quarantine the content, scan,
// validate, and promote. Returns a StatusPromoted receipt on success.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*Receipt, error) {
	token, err := o.place(ctx, req)
	if err != nil {
		return nil, err
	}
	return o.ProcessToken(ctx, token, req)
}

// Accept quarantines the content and defers scanning and validation to a
// background worker, returning a StatusAccepted receipt immediately.
func (o *Orchestrator) Accept(ctx context.Context, req Request) (*Receipt, error) {
	token, err := o.place(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		Status:        StatusAccepted,
		CorrelationID: token.CorrelationID,
		QuarantineID:  token.Identifier,
	}, nil
}

// Resume continues processing of a previously accepted artifact by its
// quarantine identifier, typically from a background worker.
func (o *Orchestrator) Resume(ctx context.Context, quarantineID string, req Request) (*Receipt, error) {
	token, ok := o.store.ResolveToken(quarantineID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown quarantine identifier", ErrValidation)
	}
	return o.ProcessToken(ctx, token, req)
}

// ProcessToken drives an already-quarantined artifact through scanning,
// validation, and promotion. Every state change goes through the store's
// Transition primitive.
func (o *Orchestrator) ProcessToken(ctx context.Context, token *quarantine.Token, req Request) (_ *Receipt, err error) {
	if err := o.store.Transition(ctx, token, quarantine.StatePending, quarantine.StateScanning, nil); err != nil {
		o.metrics.failure("state")
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	result, err := o.scans.Scan(ctx, token.Path())
	if err != nil {
		o.failTransition(ctx, token, quarantine.StateScanning, err)
		if scanner.IsConfiguration(err) {
			o.metrics.failure("configuration")
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		o.metrics.failure("scan")
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	if result.Infected() {
		// Security-grade log: this is the alert operators page on.
		o.log.Error("malware detected in quarantined upload",
			slog.String("correlation_id", token.CorrelationID),
			slog.String("engine", result.Engine),
			slog.String("signature", result.Signature))
		o.metrics.infection()

		if terr := o.store.Transition(ctx, token, quarantine.StateScanning, quarantine.StateInfected, map[string]any{
			"engine":    result.Engine,
			"signature": result.Signature,
		}); terr != nil {
			o.log.Error("failed to record infected state", slog.Any("error", terr))
		}
		if derr := o.store.Delete(ctx, token); derr != nil {
			o.log.Error("failed to delete infected artifact", slog.Any("error", derr))
		}
		return nil, fmt.Errorf("%w: %s", ErrMalwareDetected, result.Signature)
	}

	if err := o.store.Transition(ctx, token, quarantine.StateScanning, quarantine.StateClean, nil); err != nil {
		o.metrics.failure("state")
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	artifact, err := o.pipeline.Process(ctx, token.Path(), req.OriginalFilename, req.Profile, token.CorrelationID)
	if err != nil {
		o.failTransition(ctx, token, quarantine.StateClean, err)
		switch {
		case errors.Is(err, validate.ErrConcurrentMutation):
			o.metrics.failure("integrity")
			return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
		case validate.IsPermanent(err):
			o.metrics.failure("validation")
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		default:
			o.metrics.failure("infrastructure")
			return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
		}
	}
	defer artifact.Cleanup()

	finalPath, err := o.promote(ctx, token, artifact, req)
	if err != nil {
		return nil, err
	}

	o.metrics.upload(string(StatusPromoted))
	return &Receipt{
		Status:        StatusPromoted,
		CorrelationID: token.CorrelationID,
		QuarantineID:  token.Identifier,
		FinalPath:     finalPath,
		Size:          artifact.Size,
		MIMEType:      artifact.MIMEType,
		Hash:          artifact.Hash,
	}, nil
}

// Coalesce runs fn for artifactID under the debounce lock for subject. During
// a burst of redundant trigger events only the most recently produced
// artifact is processed; superseded artifacts are skipped. Without a
// configured debounce it simply runs fn.
func (o *Orchestrator) Coalesce(ctx context.Context, subject, artifactID string, fn func(context.Context) error) error {
	if o.debounce == nil {
		return fn(ctx)
	}

	if err := o.debounce.RememberLatest(ctx, subject, artifactID); err != nil {
		o.log.Warn("failed to record latest artifact pointer",
			slog.String("subject", subject),
			slog.Any("error", err))
	}

	if !o.debounce.TryAcquire(ctx, subject) {
		// The current holder will pick up the latest pointer.
		return nil
	}
	defer o.debounce.Release(ctx, subject)

	if !o.debounce.IsLatest(ctx, subject, artifactID) {
		return nil // superseded by a newer artifact in the same burst
	}

	return fn(ctx)
}

// place short-circuits on scanner availability when the profile requires it,
// then streams the content into quarantine.
func (o *Orchestrator) place(ctx context.Context, req Request) (*quarantine.Token, error) {
	if req.Content == nil {
		return nil, ErrEmptyRequest
	}

	// Fail before creating a quarantine copy when scanning is mandatory but
	// cannot run.
	if req.RequireScan {
		if err := o.scans.AssertAvailable(ctx); err != nil {
			o.metrics.failure("configuration")
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
	}

	token, err := o.store.PutStream(ctx, req.Content, quarantine.PutOptions{
		CorrelationID: req.CorrelationID,
		Profile:       req.Profile.Name,
		Extra: map[string]any{
			"owner":    req.Owner,
			"filename": req.OriginalFilename,
		},
	})
	if err != nil {
		if errors.Is(err, quarantine.ErrEmptyContent) || errors.Is(err, quarantine.ErrContentTooLarge) {
			o.metrics.failure("validation")
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		o.metrics.failure("quarantine")
		return nil, fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	return token, nil
}

// promote hands the validated artifact to its final home. With durable
// storage configured, ownership of the normalized output transfers there and
// the quarantine copy is deleted; otherwise the quarantine store's two-phase
// promote moves the original into the promoted namespace.
func (o *Orchestrator) promote(ctx context.Context, token *quarantine.Token, artifact *validate.Artifact, req Request) (string, error) {
	meta := map[string]any{
		"mime":     artifact.MIMEType,
		"size":     artifact.Size,
		"hash":     artifact.Hash,
		"filename": artifact.OriginalFilename,
	}

	if o.durable != nil {
		key := path.Join(req.Owner, req.Collection, uuid.NewString()+strings.ToLower(filepath.Ext(artifact.OriginalFilename)))

		// Ownership transfers only on a successful move; until then the
		// deferred cleanup still owns the normalized output.
		if err := o.durable.Move(ctx, artifact.Path, key); err != nil {
			o.failTransition(ctx, token, quarantine.StateClean, err)
			o.metrics.failure("promotion")
			return "", fmt.Errorf("%w: %v", ErrInfrastructure, err)
		}
		artifact.Release()

		if terr := o.store.Transition(ctx, token, quarantine.StateClean, quarantine.StatePromoted, meta); terr != nil {
			o.log.Error("failed to record promoted state", slog.Any("error", terr))
		}
		if derr := o.store.Delete(ctx, token); derr != nil {
			o.log.Error("failed to clean up quarantine copy after promotion", slog.Any("error", derr))
		}
		return key, nil
	}

	// The store records the promoted state as part of the move itself, so a
	// failed promotion never leaves the artifact marked terminal.
	finalPath, err := o.store.Promote(ctx, token, quarantine.PromoteOptions{Extra: meta})
	if err != nil {
		if errors.Is(err, quarantine.ErrIntegrity) {
			o.log.Error("integrity failure during promotion, artifact left in quarantine",
				slog.String("correlation_id", token.CorrelationID))
			o.metrics.failure("integrity")
			o.failTransition(ctx, token, quarantine.StateClean, err)
			return "", fmt.Errorf("%w: %v", ErrIntegrity, err)
		}
		o.metrics.failure("promotion")
		o.failTransition(ctx, token, quarantine.StateClean, err)
		return "", fmt.Errorf("%w: %v", ErrInfrastructure, err)
	}

	return finalPath, nil
}

// failTransition best-effort moves the artifact to failed before the caller
// returns the original error. Never masks that error.
func (o *Orchestrator) failTransition(ctx context.Context, token *quarantine.Token, from quarantine.State, cause error) {
	extra := map[string]any{"error_class": errorClass(cause)}
	if err := o.store.Transition(ctx, token, from, quarantine.StateFailed, extra); err != nil {
		o.log.Warn("failed to transition artifact to failed state",
			slog.String("correlation_id", token.CorrelationID),
			slog.Any("error", err))
	}
}

func errorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case validate.IsPermanent(err):
		return "validation"
	case errors.Is(err, quarantine.ErrIntegrity):
		return "integrity"
	case scanner.IsConfiguration(err):
		return "configuration"
	case scanner.IsInfrastructure(err):
		return "infrastructure"
	default:
		return "infrastructure"
	}
}
