package observer

import (
	"context"
	"sync"
	"time"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/logging"
)

// Config holds the coordinator's timing tunables.
type Config struct {
	// Debounce is measured from the last trigger, so continuous churn
	// keeps deferring the scan. The UI goal is "appear eventually, not
	// instantly".
	Debounce time.Duration

	// URLPollInterval is the location polling cadence. Some host
	// platforms swap content without firing a navigation event, so the
	// mutation feed alone is not enough.
	URLPollInterval time.Duration

	// SelfCheckInterval is how often the page-side subscription is
	// re-asserted.
	SelfCheckInterval time.Duration

	// ObserverLifetime is baked into the page-side script; after it the
	// observer self-disconnects and the self-check reinstalls a fresh one.
	ObserverLifetime time.Duration
}

// Hooks are the callbacks the coordinator drives.
type Hooks struct {
	// Scan runs one injection pass: reconcile, locate, inject.
	Scan func(ctx context.Context)

	// Navigated is called when the polled URL check detects a content
	// swap, before the debounced rescan. Implementations tear down
	// tracked controls whose elements are gone.
	Navigated func(oldURL, newURL string)

	// Reinstall re-injects the page-side observer script. Called by the
	// self-check when the subscription is found inactive.
	Reinstall func() error
}

// Coordinator serializes injection passes for one document.
//
// State machine: Idle -> (trigger) -> Pending -> (timer) -> Scanning ->
// Idle. A scan is never re-entered; triggers arriving mid-scan coalesce
// into one new Pending cycle instead of queueing individually.
type Coordinator struct {
	mu    sync.Mutex
	state State

	cfg    Config
	filter *InterestFilter
	hooks  Hooks
	doc    browser.Document
	log    *logging.Logger

	timer    *time.Timer
	rearm    bool
	lastURL  string
	stopCh   chan struct{}
	stopOnce sync.Once
	ctx      context.Context
}

// New creates a coordinator for one document. Start must be called before
// it does anything.
func New(doc browser.Document, cfg Config, filter *InterestFilter, hooks Hooks, log *logging.Logger) *Coordinator {
	return &Coordinator{
		state:   StateIdle,
		cfg:     cfg,
		filter:  filter,
		hooks:   hooks,
		doc:     doc,
		log:     log,
		lastURL: doc.URL(),
		stopCh:  make(chan struct{}),
	}
}

// Start launches the URL poller and the subscription self-check, then
// triggers an initial scan cycle. It returns immediately; background work
// stops when ctx is cancelled or Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	go c.pollURL(ctx)
	go c.selfCheck(ctx)

	// Initial pass for content already present at attach time.
	c.Notify(ChangeEvent{Kind: URLChanged})
}

// Stop tears down all observation: the debounce timer, pollers, and any
// pending cycle. Safe to call multiple times.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.rearm = false
}

// State returns the current scan state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Notify feeds one low-level change notification into the coordinator.
// Events failing the interest filter are dropped here, before any state
// change.
func (c *Coordinator) Notify(ev ChangeEvent) {
	if !c.filter.Interested(ev) {
		return
	}

	select {
	case <-c.stopCh:
		return
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
		if err := c.transition(StatePending); err != nil {
			c.log.Errorf("coordinator: %v", err)
			return
		}
		c.armTimerLocked()

	case StatePending:
		// Reset the debounce window; repeated triggers keep deferring.
		if err := c.transition(StatePending); err != nil {
			c.log.Errorf("coordinator: %v", err)
			return
		}
		c.armTimerLocked()

	case StateScanning:
		// Coalesce into a single new cycle once the pass finishes.
		c.rearm = true
	}
}

// armTimerLocked (re)arms the debounce timer. Caller holds the lock.
func (c *Coordinator) armTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.cfg.Debounce, c.onTimerFire)
}

// onTimerFire runs one injection pass, then returns to Idle, re-arming if
// triggers arrived mid-scan.
func (c *Coordinator) onTimerFire() {
	select {
	case <-c.stopCh:
		return
	default:
	}

	c.mu.Lock()
	if err := c.transition(StateScanning); err != nil {
		// A Stop/teardown raced the timer; drop the cycle.
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	start := time.Now()
	c.hooks.Scan(ctx)
	c.log.Debugf("scan pass completed in %v", time.Since(start))

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.transition(StateIdle); err != nil {
		c.log.Errorf("coordinator: %v", err)
		return
	}
	if c.rearm {
		c.rearm = false
		if err := c.transition(StatePending); err != nil {
			c.log.Errorf("coordinator: %v", err)
			return
		}
		c.armTimerLocked()
	}
}

// pollURL watches for location changes the mutation feed cannot see.
// A detected swap tears down stale controls immediately, then goes through
// the normal debounced rescan; the replacement input typically has not
// rendered yet, so forcing an immediate scan would find nothing.
func (c *Coordinator) pollURL(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.URLPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			current := c.doc.URL()

			c.mu.Lock()
			previous := c.lastURL
			if current != previous {
				c.lastURL = current
			}
			c.mu.Unlock()

			if current != previous {
				c.log.Infof("location changed: %s -> %s", previous, current)
				if c.hooks.Navigated != nil {
					c.hooks.Navigated(previous, current)
				}
				c.Notify(ChangeEvent{Kind: URLChanged})
			}
		}
	}
}

// selfCheck periodically re-asserts that the page-side observer is still
// installed. The platform can silently detach it (or its lifetime timer
// fired); either way it is reinstalled.
func (c *Coordinator) selfCheck(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.SelfCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			active, err := c.doc.Evaluate("() => !!window." + installedFlag)
			if err != nil {
				continue
			}
			if installed, ok := active.(bool); ok && installed {
				continue
			}
			if c.hooks.Reinstall == nil {
				continue
			}
			if err := c.hooks.Reinstall(); err != nil {
				c.log.Warnf("observer reinstall failed: %v", err)
			} else {
				c.log.Debugf("observer reinstalled")
			}
		}
	}
}
