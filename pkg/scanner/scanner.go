package scanner

import "context"

// Verdict is the outcome of scanning a single artifact.
type Verdict string

const (
	VerdictClean    Verdict = "clean"
	VerdictInfected Verdict = "infected"
)

// Result carries an engine's verdict plus the matched signature name when the
// artifact is infected.
type Result struct {
	Verdict   Verdict
	Signature string
	Engine    string
}

// Infected reports whether the engine flagged the artifact.
func (r Result) Infected() bool {
	return r.Verdict == VerdictInfected
}

// Scanner is the contract each detection engine implements. Scan returns a
// definitive verdict or fails with a distinguished infrastructure or
// configuration error when the engine cannot run; it never guesses.
type Scanner interface {
	// Name identifies the engine in logs and results.
	Name() string
	// Scan runs the engine against the artifact at path.
	Scan(ctx context.Context, path string) (Result, error)
	// Available verifies the engine can run without scanning anything.
	Available(ctx context.Context) error
}
