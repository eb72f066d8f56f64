package scanner

import (
	"context"
	"fmt"
	"log/slog"
)

// clamavArgs is the flag allowlist for clamscan. Integer-valued flags are
// clamped; everything else must appear verbatim.
var clamavArgs = map[string]*IntRange{
	"--no-summary":    nil,
	"--stdout":        nil,
	"--infected":      nil,
	"--max-scantime":  {Min: 1, Max: 30},
	"--max-filesize":  {Min: 1, Max: 4096},
	"--max-recursion": {Min: 1, Max: 16},
}

// ClamAV scans artifacts with the clamscan binary, feeding content over
// standard input.
type ClamAV struct {
	engine *execEngine
}

// NewClamAV builds a ClamAV scanner. Extra arguments beyond the defaults are
// sanitized against the clamscan allowlist; unknown flags fail construction.
func NewClamAV(cfg ExecConfig, extraArgs []string, log *slog.Logger) (*ClamAV, error) {
	args := append([]string{"--no-summary", "--stdout"}, extraArgs...)
	engine, err := newExecEngine("clamav", cfg, args, clamavArgs, log)
	if err != nil {
		return nil, err
	}
	return &ClamAV{engine: engine}, nil
}

func (c *ClamAV) Name() string { return c.engine.name }

// Available verifies the binary is allowlisted and runnable.
func (c *ClamAV) Available(_ context.Context) error {
	_, err := c.engine.resolveBinary()
	return err
}

// Scan runs clamscan against the artifact at path. The artifact is delivered
// over stdin ("-" target) so the engine never sees the real filename.
func (c *ClamAV) Scan(ctx context.Context, path string) (Result, error) {
	bin, err := c.engine.resolveBinary()
	if err != nil {
		return Result{}, err
	}

	f, err := c.engine.openTarget(path)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = f.Close() }()

	args := append(append([]string{}, c.engine.args...), "-")
	code, output, err := c.engine.run(ctx, bin, args, f)
	if err != nil {
		return Result{}, fmt.Errorf("clamav: %w", err)
	}

	return c.engine.interpret(code, output)
}
