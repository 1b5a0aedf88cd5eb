// Package observer owns DOM change observation for one document: the
// mutation subscription, the URL polling fallback, and the debounce policy
// that turns a storm of low-level change events into at most one injection
// pass per settle period.
package observer

import "fmt"

// State is the coordinator's scan state for one document.
type State int

const (
	// StateIdle means no scan is armed or running.
	StateIdle State = iota

	// StatePending means the debounce timer is armed; further triggers
	// reset it.
	StatePending

	// StateScanning means an injection pass is running. Triggers arriving
	// now coalesce into a single re-arm once the pass finishes.
	StateScanning
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateScanning:
		return "scanning"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// stateTransitions is the authoritative transition table. A Pending->Pending
// entry models the debounce timer reset on repeated triggers.
var stateTransitions = map[State][]State{
	StateIdle:     {StatePending},
	StatePending:  {StatePending, StateScanning},
	StateScanning: {StateIdle},
}

// transition validates and applies a state change. It is the only place
// coordinator state is mutated; callers must hold the coordinator lock.
func (c *Coordinator) transition(next State) error {
	for _, allowed := range stateTransitions[c.state] {
		if allowed == next {
			c.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid coordinator transition %s -> %s", c.state, next)
}
