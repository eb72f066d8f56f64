package scanner

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// signatureArgs is the flag allowlist for rule-file pattern engines such as
// yara.
var signatureArgs = map[string]*IntRange{
	"-w":            nil, // suppress warnings
	"-f":            nil, // fast matching
	"--timeout":     {Min: 1, Max: 30},
	"--stack-size":  {Min: 16384, Max: 65536},
	"--max-strings": {Min: 1000, Max: 100000},
}

// RuleIntegrityCheck verifies a rule file before it is handed to the engine.
// Typically compares a checksum recorded at deploy time.
type RuleIntegrityCheck func(rulesPath string) error

// SignatureScanner drives a rule-file-based pattern engine (e.g. yara). The
// rule file is copied into a freshly created, owner-only temporary file and
// integrity-checked before every invocation, so a rule file swapped under a
// running scan cannot change the outcome.
type SignatureScanner struct {
	engine    *execEngine
	rulesPath string
	integrity RuleIntegrityCheck
}

// NewSignatureScanner builds a signature scanner. The integrity check is
// required: running a pattern engine with unverified rules silently widens or
// narrows detection.
func NewSignatureScanner(cfg ExecConfig, rulesPath string, integrity RuleIntegrityCheck, extraArgs []string, log *slog.Logger) (*SignatureScanner, error) {
	if rulesPath == "" || integrity == nil {
		return nil, fmt.Errorf("%w: rules path and integrity check are required", ErrRulesUnavailable)
	}

	engine, err := newExecEngine("signature", cfg, extraArgs, signatureArgs, log)
	if err != nil {
		return nil, err
	}

	return &SignatureScanner{engine: engine, rulesPath: rulesPath, integrity: integrity}, nil
}

func (s *SignatureScanner) Name() string { return s.engine.name }

// Available verifies the binary and the rule file without scanning.
func (s *SignatureScanner) Available(_ context.Context) error {
	if _, err := s.engine.resolveBinary(); err != nil {
		return err
	}
	if _, err := os.Stat(s.rulesPath); err != nil {
		return fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}
	return nil
}

// Scan copies the rules to an exclusive temporary file, verifies their
// integrity, and runs the engine with the artifact on stdin. The temporary
// rule copy is removed on every path.
func (s *SignatureScanner) Scan(ctx context.Context, path string) (Result, error) {
	bin, err := s.engine.resolveBinary()
	if err != nil {
		return Result{}, err
	}

	f, err := s.engine.openTarget(path)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = f.Close() }()

	tmpRules, err := s.stageRules()
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = os.Remove(tmpRules) }()

	if err := s.integrity(tmpRules); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}

	args := append(append([]string{}, s.engine.args...), tmpRules, "-")
	code, output, err := s.engine.run(ctx, bin, args, f)
	if err != nil {
		return Result{}, fmt.Errorf("signature: %w", err)
	}

	return s.engine.interpret(code, output)
}

// stageRules copies the rule file into a fresh temp file restricted to owner
// read/write. os.CreateTemp opens with O_EXCL and 0600, which gives the
// exclusive ownership the engine contract requires.
func (s *SignatureScanner) stageRules() (string, error) {
	src, err := os.Open(s.rulesPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}
	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp("", "rules-*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: %v", ErrRulesUnavailable, err)
	}

	return tmp.Name(), nil
}
