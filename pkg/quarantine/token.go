package quarantine

// Token is an opaque handle to a quarantined artifact. The absolute path is
// internal to the store; callers share artifacts by the relative Identifier,
// which carries no filesystem semantics beyond being resolvable back into a
// token via Store.ResolveToken.
type Token struct {
	absolutePath  string
	Identifier    string
	CorrelationID string
	Profile       string
}

// Path returns the artifact's absolute storage location. Intended for the
// store and its direct collaborators (scanner, validation pipeline), not for
// external callers.
func (t Token) Path() string {
	return t.absolutePath
}
