package scanner_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/uploadguard/pkg/scanner"
)

func noopIntegrity(string) error { return nil }

func TestNewSignatureScanner(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bin := writeScript(t, dir, "yara", "exit 0")
	cfg := engineConfig(bin, dir)

	t.Run("requires a rules path", func(t *testing.T) {
		t.Parallel()

		_, err := scanner.NewSignatureScanner(cfg, "", noopIntegrity, nil, testLogger())
		assert.ErrorIs(t, err, scanner.ErrRulesUnavailable)
	})

	t.Run("requires an integrity check", func(t *testing.T) {
		t.Parallel()

		_, err := scanner.NewSignatureScanner(cfg, filepath.Join(dir, "rules.yar"), nil, nil, testLogger())
		assert.ErrorIs(t, err, scanner.ErrRulesUnavailable)
	})

	t.Run("unknown arguments fail construction", func(t *testing.T) {
		t.Parallel()

		_, err := scanner.NewSignatureScanner(cfg, filepath.Join(dir, "rules.yar"), noopIntegrity, []string{"--dump-strings"}, testLogger())
		assert.ErrorIs(t, err, scanner.ErrArgNotAllowed)
	})
}

func TestSignatureScanner_Scan(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("stages a private rule copy for the engine", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		// The engine sees the staged rule file as its first argument and the
		// stdin marker as the second.
		bin := writeScript(t, dir, "yara",
			`cat - >/dev/null
[ -f "$1" ] || exit 2
[ "$2" = "-" ] || exit 2
exit 0`)
		rules := writeArtifact(t, dir, "rules.yar", []byte("rule placeholder {}"))
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		var checkedPath string
		integrity := func(p string) error {
			checkedPath = p
			return nil
		}

		sig, err := scanner.NewSignatureScanner(engineConfig(bin, dir), rules, integrity, nil, testLogger())
		require.NoError(t, err)

		result, err := sig.Scan(ctx, target)
		require.NoError(t, err)
		assert.Equal(t, scanner.VerdictClean, result.Verdict)

		// Integrity ran against the staged copy, not the shared original,
		// and the copy is gone after the scan.
		require.NotEmpty(t, checkedPath)
		assert.NotEqual(t, rules, checkedPath)
		_, statErr := os.Stat(checkedPath)
		assert.True(t, os.IsNotExist(statErr))
	})

	t.Run("integrity failure aborts before the engine runs", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		marker := filepath.Join(dir, "engine-ran")
		bin := writeScript(t, dir, "yara", "touch "+marker+"\nexit 0")
		rules := writeArtifact(t, dir, "rules.yar", []byte("rule placeholder {}"))
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		integrity := func(string) error { return errors.New("checksum mismatch") }

		sig, err := scanner.NewSignatureScanner(engineConfig(bin, dir), rules, integrity, nil, testLogger())
		require.NoError(t, err)

		_, err = sig.Scan(ctx, target)
		assert.ErrorIs(t, err, scanner.ErrRulesUnavailable)

		_, statErr := os.Stat(marker)
		assert.True(t, os.IsNotExist(statErr), "engine must not run with unverified rules")
	})

	t.Run("missing rules file fails the scan", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "yara", "exit 0")
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		sig, err := scanner.NewSignatureScanner(engineConfig(bin, dir), filepath.Join(dir, "absent.yar"), noopIntegrity, nil, testLogger())
		require.NoError(t, err)

		assert.ErrorIs(t, sig.Available(ctx), scanner.ErrRulesUnavailable)

		_, err = sig.Scan(ctx, target)
		assert.ErrorIs(t, err, scanner.ErrRulesUnavailable)
	})

	t.Run("infected verdict names the matched rule", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		bin := writeScript(t, dir, "yara",
			`cat - >/dev/null
echo "stream: Suspicious_Payload FOUND"
exit 1`)
		rules := writeArtifact(t, dir, "rules.yar", []byte("rule placeholder {}"))
		target := writeArtifact(t, dir, "sample.bin", []byte("sample"))

		sig, err := scanner.NewSignatureScanner(engineConfig(bin, dir), rules, noopIntegrity, nil, testLogger())
		require.NoError(t, err)

		result, err := sig.Scan(ctx, target)
		require.NoError(t, err)
		assert.True(t, result.Infected())
		assert.Equal(t, "Suspicious_Payload", result.Signature)
		assert.Equal(t, "signature", result.Engine)
	})
}
