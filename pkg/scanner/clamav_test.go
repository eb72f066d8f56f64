package scanner_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/uploadguard/pkg/scanner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// writeScript creates an executable shell script standing in for a real
// engine binary.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func writeArtifact(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func engineConfig(bin, baseDir string) scanner.ExecConfig {
	return scanner.ExecConfig{
		Binary:          bin,
		AllowedBinaries: []string{bin},
		BaseDir:         baseDir,
		MaxFileBytes:    1 << 20,
		Timeout:         5 * time.Second,
		IdleTimeout:     2 * time.Second,
	}
}

func TestClamAV_Scan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("clean verdict on exit zero", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "clamscan", "cat - >/dev/null\nexit 0")
		target := writeArtifact(t, dir, "sample.bin", []byte("harmless"))

		av, err := scanner.NewClamAV(engineConfig(bin, dir), nil, testLogger())
		require.NoError(t, err)

		result, err := av.Scan(ctx, target)
		require.NoError(t, err)
		assert.Equal(t, scanner.VerdictClean, result.Verdict)
		assert.Equal(t, "clamav", result.Engine)
	})

	t.Run("infected verdict with extracted signature", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "clamscan",
			`cat - >/dev/null
echo "stream: Eicar-Test-Signature FOUND"
exit 1`)
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		av, err := scanner.NewClamAV(engineConfig(bin, dir), nil, testLogger())
		require.NoError(t, err)

		result, err := av.Scan(ctx, target)
		require.NoError(t, err)
		assert.True(t, result.Infected())
		assert.Equal(t, "Eicar-Test-Signature", result.Signature)
	})

	t.Run("artifact bytes arrive on stdin", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "clamscan",
			`if grep -q MAGICTOKEN -; then
  echo "stream: Stdin-Proof FOUND"
  exit 1
fi
exit 0`)
		target := writeArtifact(t, dir, "sample.bin", []byte("prefix MAGICTOKEN suffix"))

		av, err := scanner.NewClamAV(engineConfig(bin, dir), nil, testLogger())
		require.NoError(t, err)

		result, err := av.Scan(ctx, target)
		require.NoError(t, err)
		assert.True(t, result.Infected())
	})

	t.Run("other exit codes are engine failures", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "clamscan", "cat - >/dev/null\nexit 2")
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		av, err := scanner.NewClamAV(engineConfig(bin, dir), nil, testLogger())
		require.NoError(t, err)

		_, err = av.Scan(ctx, target)
		assert.ErrorIs(t, err, scanner.ErrEngineFailure)
		assert.True(t, scanner.IsInfrastructure(err))
	})

	t.Run("integer arguments are clamped into range", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		// Exit infected only when the clamped flag value reached the engine.
		bin := writeScript(t, dir, "clamscan",
			`cat - >/dev/null
for a in "$@"; do
  if [ "$a" = "--max-scantime=30" ]; then
    echo "stream: Clamped FOUND"
    exit 1
  fi
done
exit 0`)
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		av, err := scanner.NewClamAV(engineConfig(bin, dir), []string{"--max-scantime=500"}, testLogger())
		require.NoError(t, err)

		result, err := av.Scan(ctx, target)
		require.NoError(t, err)
		assert.True(t, result.Infected())
	})

	t.Run("unknown arguments fail construction", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "clamscan", "exit 0")

		_, err := scanner.NewClamAV(engineConfig(bin, dir), []string{"--recursive"}, testLogger())
		assert.ErrorIs(t, err, scanner.ErrArgNotAllowed)
	})

	t.Run("value on a bare flag fails construction", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "clamscan", "exit 0")

		_, err := scanner.NewClamAV(engineConfig(bin, dir), []string{"--infected=1"}, testLogger())
		assert.ErrorIs(t, err, scanner.ErrArgNotAllowed)
	})

	t.Run("non-allowlisted binary is rejected", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "clamscan", "exit 0")
		other := writeScript(t, dir, "other", "exit 0")
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		cfg := engineConfig(bin, dir)
		cfg.AllowedBinaries = []string{other}

		av, err := scanner.NewClamAV(cfg, nil, testLogger())
		require.NoError(t, err)

		_, err = av.Scan(ctx, target)
		assert.ErrorIs(t, err, scanner.ErrBinaryNotAllowed)
		assert.True(t, scanner.IsConfiguration(err))
	})

	t.Run("missing binary is rejected", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		cfg := engineConfig(filepath.Join(dir, "absent"), dir)

		av, err := scanner.NewClamAV(cfg, nil, testLogger())
		require.NoError(t, err)

		assert.ErrorIs(t, av.Available(ctx), scanner.ErrBinaryNotFound)
	})

	t.Run("non-executable binary is rejected", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := filepath.Join(dir, "clamscan")
		require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\nexit 0\n"), 0o644))
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		av, err := scanner.NewClamAV(engineConfig(bin, dir), nil, testLogger())
		require.NoError(t, err)

		_, err = av.Scan(ctx, target)
		assert.ErrorIs(t, err, scanner.ErrBinaryNotRunnable)
	})

	t.Run("allowlist match follows symlinks to the canonical binary", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		real := writeScript(t, dir, "clamscan-real", "cat - >/dev/null\nexit 0")
		link := filepath.Join(dir, "clamscan-link")
		require.NoError(t, os.Symlink(real, link))
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		// Configured through the symlink, allowlisted by the real path.
		cfg := engineConfig(link, dir)
		cfg.AllowedBinaries = []string{real}

		av, err := scanner.NewClamAV(cfg, nil, testLogger())
		require.NoError(t, err)

		result, err := av.Scan(ctx, target)
		require.NoError(t, err)
		assert.Equal(t, scanner.VerdictClean, result.Verdict)
	})

	t.Run("target outside base directory is rejected", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		outside := t.TempDir()
		bin := writeScript(t, dir, "clamscan", "exit 0")
		target := writeArtifact(t, outside, "sample.bin", []byte("sample"))

		av, err := scanner.NewClamAV(engineConfig(bin, dir), nil, testLogger())
		require.NoError(t, err)

		_, err = av.Scan(ctx, target)
		assert.ErrorIs(t, err, scanner.ErrTargetOutsideDir)
	})

	t.Run("symlinked target is rejected", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "clamscan", "exit 0")
		real := writeArtifact(t, dir, "real.bin", []byte("sample"))
		link := filepath.Join(dir, "link.bin")
		require.NoError(t, os.Symlink(real, link))

		av, err := scanner.NewClamAV(engineConfig(bin, dir), nil, testLogger())
		require.NoError(t, err)

		_, err = av.Scan(ctx, link)
		assert.ErrorIs(t, err, scanner.ErrTargetNotRegular)
	})

	t.Run("oversized target is rejected", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "clamscan", "exit 0")
		target := writeArtifact(t, dir, "sample.bin", []byte("well over the limit"))

		cfg := engineConfig(bin, dir)
		cfg.MaxFileBytes = 4

		av, err := scanner.NewClamAV(cfg, nil, testLogger())
		require.NoError(t, err)

		_, err = av.Scan(ctx, target)
		assert.ErrorIs(t, err, scanner.ErrTargetTooLarge)
	})

	t.Run("silent engine is killed by the idle watchdog", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "clamscan", "exec sleep 10")
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		cfg := engineConfig(bin, dir)
		cfg.IdleTimeout = 200 * time.Millisecond

		av, err := scanner.NewClamAV(cfg, nil, testLogger())
		require.NoError(t, err)

		start := time.Now()
		_, err = av.Scan(ctx, target)
		assert.ErrorIs(t, err, scanner.ErrEngineTimeout)
		assert.Less(t, time.Since(start), 5*time.Second)
	})
}
