package scanner

import "errors"

var (
	// Configuration errors - fatal under strict policy
	ErrBinaryNotAllowed  = errors.New("engine binary is not in the executable allowlist")
	ErrBinaryNotFound    = errors.New("engine binary not found")
	ErrBinaryNotRunnable = errors.New("engine binary is missing the executable bit")
	ErrRulesUnavailable  = errors.New("engine rule file missing or failed integrity check")
	ErrArgNotAllowed     = errors.New("engine argument is not in the allowlist")
	ErrNoScanners        = errors.New("no scanners configured")

	// Target errors
	ErrTargetNotRegular = errors.New("scan target is not a regular file")
	ErrTargetOutsideDir = errors.New("scan target is outside the allowed base directory")
	ErrTargetTooLarge   = errors.New("scan target exceeds maximum scannable size")

	// Infrastructure errors - transient, strict-policy governed
	ErrEngineFailure = errors.New("engine process failed")
	ErrEngineTimeout = errors.New("engine timed out")
)

// IsInfrastructure reports whether err represents an engine that could not
// run, as opposed to a definitive clean/infected verdict or a target problem.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrEngineFailure) || errors.Is(err, ErrEngineTimeout)
}

// IsConfiguration reports whether err represents a deployment problem such as
// a missing or non-allowlisted binary or unusable rules.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrBinaryNotAllowed) ||
		errors.Is(err, ErrBinaryNotFound) ||
		errors.Is(err, ErrBinaryNotRunnable) ||
		errors.Is(err, ErrRulesUnavailable) ||
		errors.Is(err, ErrArgNotAllowed)
}
