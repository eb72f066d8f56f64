package pathsafe

import "errors"

var (
	// Containment errors
	ErrPathEscapesRoot   = errors.New("path escapes the configured root")
	ErrInvalidIdentifier = errors.New("identifier contains disallowed characters or segments")
	ErrSymlinkRejected   = errors.New("symlinked path rejected")

	// Serving boundary errors
	ErrDecodeDepthExceeded = errors.New("too many percent-encoding layers")
	ErrEncodedTraversal    = errors.New("encoded path separator or traversal sequence")
	ErrTenantPrefixMissing = errors.New("path does not begin with tenant prefix")
	ErrPatternNotAllowed   = errors.New("path does not match any allowed pattern")

	// Configuration errors
	ErrInvalidRoot = errors.New("root directory is empty or not absolute after resolution")
)
