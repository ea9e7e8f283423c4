package supervisor

import (
	"time"

	"github.com/cenkalti/backoff"

	"github.com/chainmon/substrate-exporter/config"
)

// State is a state of the Supervisor.
type State int

const (
	Idle State = iota
	Connecting
	Running
	Backoff
	ShuttingDown
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Running:
		return "running"
	case Backoff:
		return "backoff"
	case ShuttingDown:
		return "shutting_down"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// RetryState schedules reconnection attempts with capped exponential
// backoff. It never gives up.
type RetryState struct {
	// Failed attempts since the last successful connection.
	Attempts int
	// Delay before the scheduled attempt.
	Interval time.Duration
	// Time of the scheduled attempt.
	NextRetry time.Time

	backoff *backoff.ExponentialBackOff
}

// NewRetryState returns a RetryState with the policy of cfg.
func NewRetryState(cfg *config.RetryConfig) *RetryState {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.Multiplier = cfg.Multiplier
	b.MaxInterval = cfg.MaxInterval
	b.RandomizationFactor = cfg.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return &RetryState{backoff: b}
}

// Next records a failed attempt at now and returns the delay before the
// next one.
func (r *RetryState) Next(now time.Time) time.Duration {
	// jitter is applied after the backoff's own cap
	d := min(r.backoff.NextBackOff(), r.backoff.MaxInterval)
	r.Attempts++
	r.Interval = d
	r.NextRetry = now.Add(d)
	return d
}

// Reset starts over from the initial interval after a successful
// connection.
func (r *RetryState) Reset() {
	r.backoff.Reset()
	r.Attempts = 0
	r.Interval = 0
	r.NextRetry = time.Time{}
}
