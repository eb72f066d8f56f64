package upload

import "time"

// DecisionKind classifies a polling decision.
type DecisionKind int

const (
	DecisionReady DecisionKind = iota
	DecisionRetryAfter
	DecisionGiveUp
)

// Decision is the outcome of one polling check. The orchestrator only
// decides; an external retry/backoff scheduler owns actual re-invocation
// timing.
type Decision struct {
	Kind DecisionKind
	Wait time.Duration // meaningful only for DecisionRetryAfter
}

// PollPolicy bounds a wait for dependent asynchronous work by a maximum
// attempt count and a maximum total elapsed time, whichever is reached first.
type PollPolicy struct {
	MaxAttempts int           `env:"UPLOAD_POLL_MAX_ATTEMPTS" envDefault:"10"`
	MaxElapsed  time.Duration `env:"UPLOAD_POLL_MAX_ELAPSED" envDefault:"2m"`
	Interval    time.Duration `env:"UPLOAD_POLL_INTERVAL" envDefault:"5s"`
}

// CheckReady is a pure decision function: given the attempt number (1-based),
// when polling started, the current time, and whether the dependent work has
// appeared, it returns Ready, RetryAfter, or GiveUp. It performs no waiting
// itself.
func (p PollPolicy) CheckReady(attempt int, started, now time.Time, ready bool) Decision {
	if ready {
		return Decision{Kind: DecisionReady}
	}
	if attempt >= p.MaxAttempts || now.Sub(started) >= p.MaxElapsed {
		return Decision{Kind: DecisionGiveUp}
	}
	return Decision{Kind: DecisionRetryAfter, Wait: p.Interval}
}
