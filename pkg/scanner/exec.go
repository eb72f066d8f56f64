package scanner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// stdout from an engine is diagnostic only; cap it so a misbehaving engine
// cannot balloon memory.
const maxEngineOutput = 64 * 1024

// IntRange clamps an integer-valued engine argument into a safe range
// instead of passing caller values through verbatim.
type IntRange struct {
	Min, Max int
}

// ExecConfig holds the sandboxing constraints shared by every exec-based
// engine.
type ExecConfig struct {
	// Binary is the engine executable; it must canonicalize to an entry in
	// AllowedBinaries.
	Binary          string   `env:"SCANNER_BINARY"`
	AllowedBinaries []string `env:"SCANNER_ALLOWED_BINARIES"`
	// BaseDir confines scan targets.
	BaseDir      string `env:"SCANNER_BASE_DIR"`
	MaxFileBytes int64  `env:"SCANNER_MAX_FILE_BYTES" envDefault:"104857600"`
	// Timeout is the absolute wall-clock bound per scan; IdleTimeout kills
	// the engine when its stdout goes quiet for this long.
	Timeout     time.Duration `env:"SCANNER_TIMEOUT" envDefault:"60s"`
	IdleTimeout time.Duration `env:"SCANNER_IDLE_TIMEOUT" envDefault:"10s"`
}

// execEngine is the shared template specialized by each engine: allowlisted
// binary, contained target, sanitized arguments, stdin delivery, and dual
// timeouts.
type execEngine struct {
	name string
	cfg  ExecConfig
	args []string
	log  *slog.Logger
}

func newExecEngine(name string, cfg ExecConfig, rawArgs []string, allowed map[string]*IntRange, log *slog.Logger) (*execEngine, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Second
	}

	args, err := sanitizeArgs(rawArgs, allowed)
	if err != nil {
		return nil, err
	}

	return &execEngine{name: name, cfg: cfg, args: args, log: log}, nil
}

// resolveBinary canonicalizes the configured binary and requires it to match,
// byte-for-byte, a canonicalized allowlist entry with the executable bit set.
func (e *execEngine) resolveBinary() (string, error) {
	canonical, err := filepath.EvalSymlinks(e.cfg.Binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, e.name)
	}

	allowed := false
	for _, entry := range e.cfg.AllowedBinaries {
		c, err := filepath.EvalSymlinks(entry)
		if err != nil {
			continue
		}
		if c == canonical {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotAllowed, e.name)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, e.name)
	}
	if info.Mode()&0o111 == 0 {
		return "", fmt.Errorf("%w: %s", ErrBinaryNotRunnable, e.name)
	}

	return canonical, nil
}

// openTarget validates and opens the artifact: a regular file (no symlinks,
// no devices), lexically inside the allowed base directory, under the size
// ceiling.
func (e *execEngine) openTarget(path string) (*os.File, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTargetOutsideDir, err)
	}

	base, err := filepath.Abs(e.cfg.BaseDir)
	if err != nil || base == "" {
		return nil, fmt.Errorf("%w: invalid base directory", ErrTargetOutsideDir)
	}
	if abs != base && !strings.HasPrefix(abs, base+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %s", ErrTargetOutsideDir, filepath.Base(path))
	}

	// Checks run on the held handle so the path cannot be swapped for a
	// symlink or device between check and use.
	f, err := os.OpenFile(abs, os.O_RDONLY|unix.O_NOFOLLOW, 0)
	if err != nil {
		if errors.Is(err, unix.ELOOP) {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotRegular, filepath.Base(path))
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrTargetNotRegular, filepath.Base(path))
	}
	if e.cfg.MaxFileBytes > 0 && info.Size() > e.cfg.MaxFileBytes {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrTargetTooLarge, info.Size())
	}
	return f, nil
}

// run executes the engine with artifact bytes on stdin, bounded by both the
// absolute timeout and an idle-read watchdog on stdout. Returns the exit code
// and captured output.
func (e *execEngine) run(ctx context.Context, bin string, args []string, stdin io.Reader) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdin = stdin

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}
	cmd.Stderr = io.Discard

	var lastRead atomic.Int64
	lastRead.Store(time.Now().UnixNano())
	var idleKilled atomic.Bool

	if err := cmd.Start(); err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrEngineFailure, err)
	}

	watchdogDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.cfg.IdleTimeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-watchdogDone:
				return
			case <-ticker.C:
				idle := time.Since(time.Unix(0, lastRead.Load()))
				if idle >= e.cfg.IdleTimeout {
					idleKilled.Store(true)
					_ = cmd.Process.Kill()
					return
				}
			}
		}
	}()

	var out bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, readErr := stdout.Read(buf)
		if n > 0 {
			lastRead.Store(time.Now().UnixNano())
			if out.Len() < maxEngineOutput {
				out.Write(buf[:min(n, maxEngineOutput-out.Len())])
			}
		}
		if readErr != nil {
			break
		}
	}

	waitErr := cmd.Wait()
	close(watchdogDone)

	if idleKilled.Load() {
		return 0, out.String(), fmt.Errorf("%w: no output for %s", ErrEngineTimeout, e.cfg.IdleTimeout)
	}
	if ctx.Err() != nil {
		return 0, out.String(), fmt.Errorf("%w: exceeded %s", ErrEngineTimeout, e.cfg.Timeout)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), out.String(), nil
		}
		return 0, out.String(), fmt.Errorf("%w: %v", ErrEngineFailure, waitErr)
	}

	return 0, out.String(), nil
}

// interpret maps the engine exit-code contract onto a Result.
func (e *execEngine) interpret(code int, output string) (Result, error) {
	switch code {
	case 0:
		return Result{Verdict: VerdictClean, Engine: e.name}, nil
	case 1:
		return Result{
			Verdict:   VerdictInfected,
			Engine:    e.name,
			Signature: extractSignature(output),
		}, nil
	default:
		return Result{}, fmt.Errorf("%w: exit code %d", ErrEngineFailure, code)
	}
}

// sanitizeArgs validates raw arguments of the form "--flag" or "--key=value"
// against the engine's allowlist. Integer values are clamped into their safe
// range rather than rejected.
func sanitizeArgs(raw []string, allowed map[string]*IntRange) ([]string, error) {
	args := make([]string, 0, len(raw))
	for _, arg := range raw {
		key, value, hasValue := strings.Cut(arg, "=")

		rng, ok := allowed[key]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrArgNotAllowed, key)
		}

		if rng == nil {
			if hasValue {
				return nil, fmt.Errorf("%w: %s does not take a value", ErrArgNotAllowed, key)
			}
			args = append(args, key)
			continue
		}

		if !hasValue {
			return nil, fmt.Errorf("%w: %s requires an integer value", ErrArgNotAllowed, key)
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not an integer", ErrArgNotAllowed, key)
		}
		n = max(rng.Min, min(rng.Max, n))
		args = append(args, fmt.Sprintf("%s=%d", key, n))
	}
	return args, nil
}

// extractSignature pulls the signature name out of "stream: <name> FOUND"
// style engine output. Empty when the engine did not name a signature.
func extractSignature(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		line = strings.TrimSuffix(line, " FOUND")
		if _, sig, ok := strings.Cut(line, ": "); ok {
			return sig
		}
		return line
	}
	return ""
}
