package upload

import "errors"

var (
	// Permanent outcomes - retrying cannot change them
	ErrValidation      = errors.New("upload failed validation")
	ErrMalwareDetected = errors.New("malware detected in upload")
	ErrIntegrity       = errors.New("upload integrity check failed")

	// Transient outcomes - an external scheduler may retry
	ErrInfrastructure = errors.New("upload infrastructure failure")

	// Deployment problems - fatal under strict scanning policy
	ErrConfiguration = errors.New("upload pipeline misconfigured")

	ErrNilDependency = errors.New("orchestrator dependency is nil")
	ErrEmptyRequest  = errors.New("upload request has no content")
)

// Permanent reports whether err is a terminal outcome for this artifact.
func Permanent(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrMalwareDetected) ||
		errors.Is(err, ErrIntegrity)
}
