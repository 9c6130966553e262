package governor

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/pubsub"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	}
	return "unknown"
}

func fromBreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	}
	return StateClosed
}

// CircuitEvent describes one breaker transition.
type CircuitEvent struct {
	Platform model.Platform
	From     State
	To       State
	// Failures is the consecutive failure count that tripped the circuit,
	// zero for other transitions.
	Failures int
	At       time.Time
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	// outcomeNeutral is a call that says nothing about platform health,
	// such as an auth failure or a caller cancellation.
	outcomeNeutral
)

// The breaker only sees these two errors: every governed call result is
// reduced to an outcome before it is reported.
var (
	errFailure = errors.New("platform failure")
	errNeutral = errors.New("neutral outcome")
)

func (o outcome) report() error {
	switch o {
	case outcomeFailure:
		return errFailure
	case outcomeNeutral:
		return errNeutral
	}
	return nil
}

// newBreaker builds the per-platform circuit. It trips after threshold
// consecutive failures, stays open for coolDown, then admits a single
// trial call. Neutral outcomes are excluded from the counts and release the
// trial slot.
func (g *Governor) newBreaker(threshold int, coolDown time.Duration) *gobreaker.TwoStepCircuitBreaker[struct{}] {
	return gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        string(g.platform),
		MaxRequests: 1,
		Timeout:     coolDown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures < uint32(threshold) {
				return false
			}
			g.tripFailures.Store(int64(c.ConsecutiveFailures))
			return true
		},
		IsExcluded: func(err error) bool { return errors.Is(err, errNeutral) },
		OnStateChange: func(_ string, from, to gobreaker.State) {
			g.transition(fromBreaker(from), fromBreaker(to))
		},
	})
}

func eventType(s State) pubsub.EventType {
	switch s {
	case StateOpen:
		return pubsub.CircuitOpened
	case StateHalfOpen:
		return pubsub.CircuitHalfOpened
	}
	return pubsub.CircuitClosed
}
