package quarantine

// State represents an artifact's position in the quarantine lifecycle.
type State string

const (
	StatePending  State = "pending"
	StateScanning State = "scanning"
	StateClean    State = "clean"
	StatePromoted State = "promoted"
	StateInfected State = "infected"
	StateFailed   State = "failed"
	StateExpired  State = "expired"
)

// transitions is the closed allowed-transition table. Failed and Expired are
// reachable from every non-terminal state; the table spells that out so the
// whole machine is visible in one place.
var transitions = map[State]map[State]bool{
	StatePending:  {StateScanning: true, StateFailed: true, StateExpired: true},
	StateScanning: {StateClean: true, StateInfected: true, StateFailed: true, StateExpired: true},
	StateClean:    {StatePromoted: true, StateFailed: true, StateExpired: true},
	StateFailed:   {StateExpired: true},
	StatePromoted: {},
	StateInfected: {},
	StateExpired:  {},
}

// Valid reports whether s is a member of the closed state set.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	targets, ok := transitions[s]
	return ok && len(targets) == 0
}

// CanTransition reports whether the state machine allows s -> to.
func (s State) CanTransition(to State) bool {
	return transitions[s][to]
}
