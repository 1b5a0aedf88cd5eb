package tracker

import (
	"fmt"
	"sync"
	"time"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
)

// semanticContainerSelector is the nearest ancestor worth scanning for a
// stray control marker: the form/dialog/list-item the input lives in.
const semanticContainerSelector = `form, [role="dialog"], .modal, li`

// ancestorScanDepth bounds the fallback ancestor walk.
const ancestorScanDepth = 3

// Registry tracks all live injected controls for one document.
//
// Invariant: at most one live control per input key.
type Registry struct {
	mu        sync.Mutex
	controls  map[string]*Control
	staleness time.Duration
	now       func() time.Time
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the registry's time source (used in tests).
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a registry that purges controls older than staleness.
func NewRegistry(staleness time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		controls:  make(map[string]*Control),
		staleness: staleness,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register records a newly injected control. Registering a second control
// for the same input key is an error.
func (r *Registry) Register(control *Control) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.controls[control.Key]; exists {
		return fmt.Errorf("control already registered for input key %q", control.Key)
	}
	r.controls[control.Key] = control
	return nil
}

// Get returns the tracked control for an input key.
func (r *Registry) Get(key string) (*Control, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	control, ok := r.controls[key]
	return control, ok
}

// Len returns the number of tracked controls.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controls)
}

// Keys returns the tracked input keys.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.controls))
	for key := range r.controls {
		keys = append(keys, key)
	}
	return keys
}

// Clear drops every tracked control without touching the DOM. Used on
// teardown when the document itself is going away.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controls = make(map[string]*Control)
}

// Teardown purges every tracked control, removing its node from the DOM on
// a best-effort basis. Used on a content swap where the frame survives:
// dropping entries without removing the nodes would leave stray buttons
// that block re-injection but answer to no tracked key.
func (r *Registry) Teardown() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	purged := len(r.controls)
	for key, control := range r.controls {
		r.purgeLocked(key, control)
	}
	return purged
}

// HasControlFor reports whether a control already exists for the input.
//
// The lookup is layered for resilience against DOM restructuring between
// passes:
//  1. the registry's own live entry for the key;
//  2. a marker-class scan inside the input's nearest semantic container;
//  3. a marker-class scan up to three ancestor levels above the input.
//
// Layers 2 and 3 catch controls the platform has re-parented out from
// under the registry's node handle.
func (r *Registry) HasControlFor(input browser.Element, key string) bool {
	r.mu.Lock()
	_, tracked := r.controls[key]
	r.mu.Unlock()
	if tracked {
		return true
	}

	if container, err := input.Closest(semanticContainerSelector); err == nil && container != nil {
		if marker, err := container.QuerySelector("." + MarkerClass); err == nil && marker != nil {
			return true
		}
	}

	ancestor := input
	for depth := 0; depth < ancestorScanDepth; depth++ {
		parent, err := ancestor.Parent()
		if err != nil || parent == nil {
			break
		}
		if marker, err := parent.QuerySelector("." + MarkerClass); err == nil && marker != nil {
			return true
		}
		ancestor = parent
	}

	return false
}

// ReconcileStats summarizes one reconciliation pass.
type ReconcileStats struct {
	// Orphaned counts controls purged because their input no longer
	// resolves to a live, attached element with the same key.
	Orphaned int

	// Stale counts controls purged on age alone.
	Stale int

	// RemovedKeys lists the input keys purged this pass.
	RemovedKeys []string
}

// Reconcile compares tracked state against the live DOM and purges stale
// entries. It runs before every injection pass.
//
// Two independent policies apply: a control whose input is gone (or whose
// identifying key the platform silently replaced) is orphaned; a control
// older than the staleness threshold is purged even if its input is alive,
// bounding accumulation on long-lived pages. Purged control nodes are also
// removed from the DOM on a best-effort basis.
func (r *Registry) Reconcile() ReconcileStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := ReconcileStats{}
	now := r.now()

	for key, control := range r.controls {
		if now.Sub(control.CreatedAt) > r.staleness {
			r.purgeLocked(key, control)
			stats.Stale++
			stats.RemovedKeys = append(stats.RemovedKeys, key)
			continue
		}

		if !inputAlive(control, key) {
			r.purgeLocked(key, control)
			stats.Orphaned++
			stats.RemovedKeys = append(stats.RemovedKeys, key)
		}
	}

	return stats
}

func (r *Registry) purgeLocked(key string, control *Control) {
	delete(r.controls, key)
	if control.Node != nil {
		// Best effort; the node may already be gone.
		_ = control.Node.Remove()
	}
}

// inputAlive reports whether the control's input is still attached and still
// carries the key the control was registered under.
func inputAlive(control *Control, key string) bool {
	if control.Input == nil {
		return false
	}

	attached, err := control.Input.IsAttached()
	if err != nil || !attached {
		return false
	}

	// The platform may swap the identifying attribute while keeping the
	// element. Either identifying attribute still matching keeps the
	// control alive.
	for _, attr := range []string{"data-review-id", "data-reviewpilot-key"} {
		if value, err := control.Input.GetAttribute(attr); err == nil && value == key {
			return true
		}
	}
	return false
}
