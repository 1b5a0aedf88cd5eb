// Package tracker owns the set of injected controls.
//
// The in-memory registry is the authoritative store; the DOM is a rendering
// surface that is reconciled against it, never the other way around.
package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/engine/locator"
)

const (
	// MarkerClass tags every injected control node in the DOM so layered
	// lookups can find controls the registry has lost track of.
	MarkerClass = "reviewpilot-control"

	// ControlKeyAttr stores the associated input key on the control node.
	ControlKeyAttr = "data-reviewpilot-for"
)

// ControlState is the lifecycle state of an injected control. It drives
// visual presentation only and does not gate re-use.
type ControlState int

const (
	StateIdle ControlState = iota
	StateBusy
	StateSuccess
	StateError
)

func (s ControlState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateSuccess:
		return "success"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// validTransitions is the authoritative transition table:
// idle -> busy -> (success | error) -> idle.
var validTransitions = map[ControlState][]ControlState{
	StateIdle:    {StateBusy},
	StateBusy:    {StateSuccess, StateError},
	StateSuccess: {StateIdle},
	StateError:   {StateIdle},
}

// Control is one injected control and the input it serves.
type Control struct {
	// Key is the stable identifier of the associated input.
	Key string

	// Node is the injected control's DOM node, owned exclusively by the
	// registry once registered.
	Node browser.Element

	// Input is the reply input the control serves.
	Input browser.Element

	// Kind records how text is written back to the input.
	Kind locator.InputKind

	// CreatedAt is when the control was injected.
	CreatedAt time.Time

	mu    sync.Mutex
	state ControlState
}

// NewControl creates an idle control record.
func NewControl(key string, node, input browser.Element, kind locator.InputKind) *Control {
	return &Control{
		Key:       key,
		Node:      node,
		Input:     input,
		Kind:      kind,
		CreatedAt: time.Now(),
		state:     StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Control) State() ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// TransitionTo moves the control to the next state. Invalid transitions
// (including busy -> busy) return an error and leave the state unchanged.
// This is the single authority on state changes; callers never set state
// directly.
func (c *Control) TransitionTo(next ControlState) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, allowed := range validTransitions[c.state] {
		if allowed == next {
			c.state = next
			return nil
		}
	}
	return fmt.Errorf("invalid control transition %s -> %s", c.state, next)
}
