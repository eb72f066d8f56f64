// Package pathsafe provides path canonicalization and containment primitives
// shared by every component that touches caller-influenced paths.
//
// The package is built around Resolver, which anchors all path operations to a
// single root directory and rejects anything that would escape it: traversal
// segments, absolute prefixes, symlinked targets, and characters outside a
// strict allowlist. The same primitives back the secure-serving boundary via
// ServeGuard, which additionally handles bounded percent-decoding and tenant
// prefix enforcement for caller-supplied URL paths.
//
// # Usage
//
//	resolver, err := pathsafe.NewResolver("/var/quarantine")
//	if err != nil {
//		return err
//	}
//
//	abs, err := resolver.Resolve("ab/cd/ef012345")
//	if errors.Is(err, pathsafe.ErrPathEscapesRoot) {
//		// caller tried to break out of the root
//	}
//
// Identifiers that will be exchanged with untrusted callers should be checked
// with ValidIdentifier before ever being joined to a filesystem path.
package pathsafe
