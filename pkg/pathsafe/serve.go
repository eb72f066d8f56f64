package pathsafe

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// maxDecodePasses bounds how many layers of percent-encoding ServeGuard will
// peel off a caller-supplied path. Anything still encoded after that many
// passes is treated as hostile.
const maxDecodePasses = 3

// ServeGuard validates caller-supplied serving paths before they are handed
// to a storage backend. It applies the same containment discipline as
// Resolver: bounded percent-decoding, traversal rejection, a required tenant
// prefix, and a pattern allowlist.
type ServeGuard struct {
	patterns []*regexp.Regexp
}

// NewServeGuard compiles the allowed path patterns. Each pattern is matched
// against the full decoded path; at least one must match for a path to pass.
func NewServeGuard(patterns []string) (*ServeGuard, error) {
	if len(patterns) == 0 {
		return nil, ErrPatternNotAllowed
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", ErrPatternNotAllowed, p, err)
		}
		compiled = append(compiled, re)
	}

	return &ServeGuard{patterns: compiled}, nil
}

// Check decodes raw, rejects traversal at every decoding layer, requires the
// tenant's canonical prefix, and matches the result against the pattern
// allowlist. On success it returns the decoded, cleaned path to delegate to
// storage.
func (g *ServeGuard) Check(raw, tenantPrefix string) (string, error) {
	decoded, err := boundedDecode(raw)
	if err != nil {
		return "", err
	}

	if containsTraversal(decoded) {
		return "", ErrEncodedTraversal
	}

	cleaned := path.Clean(decoded)
	if strings.HasPrefix(cleaned, "..") || strings.HasPrefix(cleaned, "/") {
		return "", ErrEncodedTraversal
	}

	if tenantPrefix == "" || !strings.HasPrefix(cleaned, strings.TrimSuffix(tenantPrefix, "/")+"/") {
		return "", ErrTenantPrefixMissing
	}

	for _, re := range g.patterns {
		if re.MatchString(cleaned) {
			return cleaned, nil
		}
	}

	return "", ErrPatternNotAllowed
}

// boundedDecode peels percent-encoding layers one at a time, checking for
// smuggled separators after every pass. A path that keeps changing after
// maxDecodePasses layers is rejected outright.
func boundedDecode(raw string) (string, error) {
	current := raw
	for range maxDecodePasses {
		decoded, err := url.PathUnescape(current)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrEncodedTraversal, err)
		}
		if containsTraversal(decoded) && decoded != current {
			// A separator or dot-dot only appeared after decoding: the
			// caller encoded it to sneak past upstream checks.
			return "", ErrEncodedTraversal
		}
		if decoded == current {
			return current, nil
		}
		current = decoded
	}

	if d, err := url.PathUnescape(current); err == nil && d != current {
		return "", ErrDecodeDepthExceeded
	}
	return current, nil
}

func containsTraversal(p string) bool {
	if strings.Contains(p, "\\") || strings.Contains(p, "\x00") {
		return true
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}
