package validate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/sys/unix"
)

// Config holds validation pipeline settings, loadable via pkg/config.
type Config struct {
	WorkDir string `env:"VALIDATE_WORK_DIR,required"` // Directory for snapshots and normalized outputs
}

// ImageNormalizer re-encodes image content for image-specific profiles. The
// generic path copies bytes through unchanged; profiles that need stripping
// or re-encoding supply a normalizer collaborator.
type ImageNormalizer interface {
	Normalize(ctx context.Context, srcPath, dstPath string, profile Profile) error
}

// Pipeline streams artifacts through the validation steps. Safe for
// concurrent use; each Process call works on its own snapshot.
type Pipeline struct {
	workDir    string
	normalizer ImageNormalizer
	log        *slog.Logger
}

// NewPipeline creates a validation pipeline writing snapshots and outputs
// under cfg.WorkDir. normalizer may be nil, in which case image profiles fall
// back to the generic byte-copy path.
func NewPipeline(cfg Config, normalizer ImageNormalizer, log *slog.Logger) (*Pipeline, error) {
	if cfg.WorkDir == "" {
		return nil, fmt.Errorf("%w: work dir is required", ErrSnapshotFailed)
	}
	if log == nil {
		log = slog.Default()
	}

	abs, err := filepath.Abs(cfg.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}

	return &Pipeline{workDir: abs, normalizer: normalizer, log: log}, nil
}

// Process validates the artifact at sourcePath against the profile and
// produces a normalized, validated copy. All checks after the initial copy
// run against an immutable snapshot, never the original.
func (p *Pipeline) Process(ctx context.Context, sourcePath, originalFilename string, profile Profile, correlationID string) (*Artifact, error) {
	snapshot, size, err := p.snapshot(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.Remove(snapshot) }()

	if size == 0 {
		return nil, ErrEmptySource
	}
	if profile.MaxBytes > 0 && size > profile.MaxBytes {
		return nil, fmt.Errorf("%w: %d bytes over %d limit", ErrTooLarge, size, profile.MaxBytes)
	}

	mimeType, err := sniffMIME(snapshot)
	if err != nil {
		return nil, err
	}
	if len(profile.AllowedMIMETypes) > 0 && !slices.Contains(profile.AllowedMIMETypes, mimeType) {
		return nil, fmt.Errorf("%w: %s", ErrMIMENotAllowed, mimeType)
	}

	ext := strings.ToLower(filepath.Ext(originalFilename))
	if len(profile.AllowedExtensions) > 0 && !slices.Contains(profile.AllowedExtensions, ext) {
		return nil, fmt.Errorf("%w: %s", ErrExtensionNotAllowed, ext)
	}

	var width, height int
	if profile.Image {
		width, height, err = decodeDimensions(snapshot)
		if err != nil {
			return nil, err
		}
		if err := checkDimensions(width, height, profile); err != nil {
			return nil, err
		}
	}

	// Hash immediately before the content scan; any divergence afterwards
	// means the snapshot was mutated underneath us.
	preScanHash, err := hashFile(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}

	if err := p.scanContent(snapshot); err != nil {
		return nil, err
	}

	postScanHash, err := hashFile(snapshot)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	if postScanHash != preScanHash {
		p.log.Error("snapshot mutated during validation",
			slog.String("correlation_id", correlationID))
		return nil, ErrConcurrentMutation
	}

	output, err := p.normalize(ctx, snapshot, profile)
	if err != nil {
		return nil, err
	}

	if profile.Image {
		if err := checkDecompressionRatio(width, height, size, profile); err != nil {
			_ = os.Remove(output)
			return nil, err
		}
	}

	outInfo, err := os.Stat(output)
	if err != nil {
		_ = os.Remove(output)
		return nil, fmt.Errorf("%w: %v", ErrNormalizationFailed, err)
	}
	outHash, err := hashFile(output)
	if err != nil {
		_ = os.Remove(output)
		return nil, fmt.Errorf("%w: %v", ErrNormalizationFailed, err)
	}

	return &Artifact{
		Path:             output,
		Size:             outInfo.Size(),
		MIMEType:         mimeType,
		Width:            width,
		Height:           height,
		Hash:             outHash,
		OriginalFilename: sanitizeFilename(originalFilename),
	}, nil
}

// snapshot copies the source into an immutable working file under a shared
// read lock. The lock is released as soon as the copy completes, so it never
// blocks scanner execution or other readers.
func (p *Pipeline) snapshot(ctx context.Context, sourcePath string) (string, int64, error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	defer func() { _ = src.Close() }()

	if err := unix.Flock(int(src.Fd()), unix.LOCK_SH); err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	locked := true
	unlock := func() {
		if locked {
			_ = unix.Flock(int(src.Fd()), unix.LOCK_UN)
			locked = false
		}
	}
	defer unlock()

	dst, err := os.CreateTemp(p.workDir, "snapshot-*")
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	snapshotPath := dst.Name()

	var written int64
	buf := make([]byte, 32*1024)
	for {
		select {
		case <-ctx.Done():
			_ = dst.Close()
			_ = os.Remove(snapshotPath)
			return "", 0, ctx.Err()
		default:
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			nw, writeErr := dst.Write(buf[:n])
			if writeErr != nil {
				_ = dst.Close()
				_ = os.Remove(snapshotPath)
				return "", 0, fmt.Errorf("%w: %v", ErrSnapshotFailed, writeErr)
			}
			written += int64(nw)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			_ = dst.Close()
			_ = os.Remove(snapshotPath)
			return "", 0, fmt.Errorf("%w: %v", ErrSnapshotFailed, readErr)
		}
	}

	unlock()

	if err := dst.Close(); err != nil {
		_ = os.Remove(snapshotPath)
		return "", 0, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}

	return snapshotPath, written, nil
}

// scanContent runs the chunked defensive content scan over the snapshot.
func (p *Pipeline) scanContent(snapshot string) error {
	f, err := os.Open(snapshot)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	defer func() { _ = f.Close() }()

	return scanChunks(f)
}

// normalize produces the validated output file. Image profiles delegate to
// the normalizer collaborator when one is configured; everything else is a
// byte-for-byte copy.
func (p *Pipeline) normalize(ctx context.Context, snapshot string, profile Profile) (string, error) {
	out, err := os.CreateTemp(p.workDir, "validated-*")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNormalizationFailed, err)
	}
	outPath := out.Name()

	if profile.Image && p.normalizer != nil {
		_ = out.Close()
		if err := p.normalizer.Normalize(ctx, snapshot, outPath, profile); err != nil {
			_ = os.Remove(outPath)
			return "", fmt.Errorf("%w: %v", ErrNormalizationFailed, err)
		}
		return outPath, nil
	}

	src, err := os.Open(snapshot)
	if err != nil {
		_ = out.Close()
		_ = os.Remove(outPath)
		return "", fmt.Errorf("%w: %v", ErrNormalizationFailed, err)
	}
	defer func() { _ = src.Close() }()

	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		_ = os.Remove(outPath)
		return "", fmt.Errorf("%w: %v", ErrNormalizationFailed, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("%w: %v", ErrNormalizationFailed, err)
	}

	return outPath, nil
}

// checkDimensions validates pixel bounds and the megapixel ceiling.
func checkDimensions(width, height int, profile Profile) error {
	if profile.MinWidth > 0 && width < profile.MinWidth ||
		profile.MinHeight > 0 && height < profile.MinHeight {
		return fmt.Errorf("%w: %dx%d below minimum", ErrDimensionsOutOfBounds, width, height)
	}
	if profile.MaxWidth > 0 && width > profile.MaxWidth ||
		profile.MaxHeight > 0 && height > profile.MaxHeight {
		return fmt.Errorf("%w: %dx%d above maximum", ErrDimensionsOutOfBounds, width, height)
	}
	if profile.MaxMegapixels > 0 {
		megapixels := float64(width) * float64(height) / 1e6
		if megapixels > profile.MaxMegapixels {
			return fmt.Errorf("%w: %.1f megapixels", ErrMegapixelsExceeded, megapixels)
		}
	}
	return nil
}

// checkDecompressionRatio rejects images whose estimated decoded size
// (width * height * 4 bytes per pixel) exceeds the configured multiple of
// their on-disk size. Defends against tiny files claiming enormous pixel
// dimensions.
func checkDecompressionRatio(width, height int, diskSize int64, profile Profile) error {
	if diskSize <= 0 {
		return ErrEmptySource
	}

	threshold := profile.MaxDecompressionRatio
	if threshold <= 0 {
		threshold = defaultDecompressionRatio
	}

	estimated := float64(width) * float64(height) * 4
	ratio := estimated / float64(diskSize)
	if ratio > threshold {
		return fmt.Errorf("%w: ratio %.1f over %.1f", ErrDecompressionBomb, ratio, threshold)
	}
	return nil
}

// sniffMIME detects content type from the first 512 bytes, never trusting a
// client-declared type.
func sniffMIME(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}

	mimeType := http.DetectContentType(buf[:n])
	// Strip parameters like "; charset=utf-8" so profile comparisons are
	// against the bare type.
	if base, _, ok := strings.Cut(mimeType, ";"); ok {
		mimeType = strings.TrimSpace(base)
	}
	return mimeType, nil
}

// decodeDimensions reads the image header for pixel dimensions without
// decoding the full image.
func decodeDimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrSnapshotFailed, err)
	}
	defer func() { _ = f.Close() }()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	return cfg.Width, cfg.Height, nil
}

// hashFile returns the hex SHA-256 of the file at path.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// sanitizeFilename strips path components and dangerous characters so the
// original name can be stored safely. Mirrors the containment discipline of
// the quarantine store.
func sanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "\\", "/")
	filename = filepath.Base(filename)
	filename = strings.ReplaceAll(filename, "\x00", "")

	if filename == "." || filename == ".." || filename == "" || filename == "/" {
		filename = "unnamed"
	}

	return filename
}
