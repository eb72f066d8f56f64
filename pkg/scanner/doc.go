// Package scanner invokes external malware-detection engines against
// quarantined artifacts under strict sandboxing constraints.
//
// Every engine is driven through the same template: the engine binary must
// appear, byte-for-byte after canonicalization, in a configured allowlist and
// carry the executable bit; the target artifact must be a regular file inside
// an allowed base directory and under a size ceiling; engine arguments are
// sanitized against a per-engine allowlist with integer values clamped into
// safe ranges; and artifact bytes are delivered over the engine's standard
// input, never as a bare path argument, so a crafted filename cannot
// influence the engine. Execution is bounded by an absolute timeout and an
// idle-read timeout.
//
// The exit-code contract is: 0 = clean, 1 = infected, anything else is an
// engine error.
//
// Coordinator aggregates the configured engines and centralizes the
// fail-open/fail-closed policy: in strict mode infrastructure and
// configuration failures abort the scan (fail-closed); otherwise they are
// logged and the artifact is treated as clean (fail-open), trading safety for
// availability.
//
//	coord := scanner.NewCoordinator([]scanner.Scanner{clam}, true, logger)
//	result, err := coord.Scan(ctx, token.Path())
//	if err != nil {
//		return err
//	}
//	if result.Infected() {
//		// transition artifact to infected
//	}
package scanner
