package scanner

import (
	"context"
	"log/slog"
)

// Config holds coordinator-level settings, loadable via pkg/config.
type Config struct {
	Strict bool `env:"SCANNER_STRICT" envDefault:"true"` // fail-closed on engine infrastructure failures
}

// Coordinator aggregates the configured scanners and centralizes the
// strict/non-strict safety policy. Strict mode fails closed: any engine
// infrastructure or configuration failure aborts the scan. Non-strict mode
// fails open: the failure is logged and the artifact treated as clean,
// trading safety for availability. The decision lives here, in one place, so
// operators can tune it per deployment risk appetite.
type Coordinator struct {
	scanners []Scanner
	strict   bool
	log      *slog.Logger
}

// NewCoordinator wires the configured scanners behind the shared policy.
func NewCoordinator(scanners []Scanner, strict bool, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{scanners: scanners, strict: strict, log: log}
}

// Enabled reports whether any scanner is configured. Callers use this to
// short-circuit before creating quarantine copies.
func (c *Coordinator) Enabled() bool {
	return len(c.scanners) > 0
}

// Strict reports the active failure policy.
func (c *Coordinator) Strict() bool {
	return c.strict
}

// AssertAvailable verifies every configured scanner can run. Under strict
// policy an unavailable engine is an error; otherwise it is logged and
// tolerated.
func (c *Coordinator) AssertAvailable(ctx context.Context) error {
	if !c.Enabled() {
		if c.strict {
			return ErrNoScanners
		}
		c.log.Warn("no scanners configured, proceeding without malware scanning")
		return nil
	}

	for _, s := range c.scanners {
		if err := s.Available(ctx); err != nil {
			if c.strict {
				return err
			}
			c.log.Warn("scanner unavailable, continuing under fail-open policy",
				slog.String("scanner", s.Name()),
				slog.Any("error", err))
		}
	}
	return nil
}

// Scan runs every configured scanner against the artifact. The first
// infected verdict wins. Engine failures are resolved by the policy: strict
// propagates them, non-strict logs and treats the engine as having returned
// clean.
func (c *Coordinator) Scan(ctx context.Context, path string) (Result, error) {
	if !c.Enabled() {
		if c.strict {
			return Result{}, ErrNoScanners
		}
		c.log.Warn("no scanners configured, treating artifact as clean")
		return Result{Verdict: VerdictClean}, nil
	}

	for _, s := range c.scanners {
		result, err := s.Scan(ctx, path)
		if err != nil {
			if c.strict {
				return Result{}, err
			}
			c.log.Warn("scanner failed, continuing under fail-open policy",
				slog.String("scanner", s.Name()),
				slog.Any("error", err))
			continue
		}

		if result.Infected() {
			// Logged, not fatal: an infected verdict is a normal outcome
			// for this subsystem.
			c.log.Warn("malware detected",
				slog.String("scanner", s.Name()),
				slog.String("signature", result.Signature))
			return result, nil
		}
	}

	return Result{Verdict: VerdictClean}, nil
}
