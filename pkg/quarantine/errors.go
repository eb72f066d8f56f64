package quarantine

import (
	"errors"
	"fmt"
)

var (
	// Content validation errors
	ErrEmptyContent    = errors.New("content is empty")
	ErrContentTooLarge = errors.New("content exceeds maximum allowed size")

	// Lifecycle errors
	ErrInvalidTransition = errors.New("transition not allowed by the state machine")
	ErrUnknownState      = errors.New("unknown quarantine state")

	// Integrity and promotion errors
	ErrIntegrity         = errors.New("artifact content does not match its integrity sidecar")
	ErrDestinationExists = errors.New("promotion destination already exists")
	ErrArtifactNotFound  = errors.New("quarantined artifact not found")

	// Metadata errors
	ErrMetadataDepthExceeded = errors.New("metadata nesting exceeds maximum depth")

	// Path errors
	ErrPathGeneration = errors.New("failed to generate a unique partitioned path")

	// I/O errors - wrapped with context for debugging
	ErrFailedToWriteArtifact = errors.New("failed to write artifact")
	ErrFailedToReadSidecar   = errors.New("failed to read sidecar")
	ErrFailedToWriteSidecar  = errors.New("failed to write sidecar")
	ErrFailedToMoveArtifact  = errors.New("failed to move artifact")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid quarantine store configuration")
)

// StateConflictError indicates the persisted state did not match the expected
// "from" state supplied to Transition. The persisted state is untouched.
type StateConflictError struct {
	Expected State
	Current  State
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict: expected %q, found %q", e.Expected, e.Current)
}

func IsStateConflict(err error) bool {
	var e *StateConflictError
	return errors.As(err, &e)
}
