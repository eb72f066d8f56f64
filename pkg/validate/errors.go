package validate

import "errors"

var (
	// Permanent validation errors - caller-fixable, never retried
	ErrEmptySource           = errors.New("source is empty")
	ErrTooLarge              = errors.New("content exceeds profile size limit")
	ErrMIMENotAllowed        = errors.New("detected MIME type is not allowed by the profile")
	ErrExtensionNotAllowed   = errors.New("file extension is not allowed by the profile")
	ErrNotAnImage            = errors.New("content is not a decodable image")
	ErrDimensionsOutOfBounds = errors.New("image dimensions outside profile bounds")
	ErrMegapixelsExceeded    = errors.New("image exceeds maximum megapixel ceiling")
	ErrDangerousContent      = errors.New("content matches a dangerous signature")
	ErrDecompressionBomb     = errors.New("estimated decompressed size exceeds allowed ratio")

	// Integrity errors - permanent and alert-worthy, imply tampering or a race
	ErrConcurrentMutation = errors.New("content changed between validation and use")

	// Infrastructure errors - transient, caller may retry
	ErrSnapshotFailed      = errors.New("failed to create working snapshot")
	ErrNormalizationFailed = errors.New("failed to normalize content")
)

// IsPermanent reports whether err is a validation outcome that retrying
// cannot change.
func IsPermanent(err error) bool {
	for _, target := range []error{
		ErrEmptySource, ErrTooLarge, ErrMIMENotAllowed, ErrExtensionNotAllowed,
		ErrNotAnImage, ErrDimensionsOutOfBounds, ErrMegapixelsExceeded,
		ErrDangerousContent, ErrDecompressionBomb, ErrConcurrentMutation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
