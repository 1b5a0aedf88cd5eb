package observer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guillefidelio/reviewpilot/pkg/browser/browsertest"
	"github.com/guillefidelio/reviewpilot/pkg/logging"
)

// scanCounter records scan invocations for assertions.
type scanCounter struct {
	mu    sync.Mutex
	count int
	block chan struct{}
}

func (s *scanCounter) scan(context.Context) {
	s.mu.Lock()
	s.count++
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
}

func (s *scanCounter) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func newTestCoordinator(t *testing.T, cfg Config, scans *scanCounter) *Coordinator {
	t.Helper()
	doc := browsertest.NewFakeDocument("https://business.google.com/reviews/reply")
	log, _ := logging.NewLogger("observer-test")
	return New(doc, cfg, DefaultInterestFilter(), Hooks{Scan: scans.scan}, log)
}

func shortConfig() Config {
	return Config{
		Debounce:          20 * time.Millisecond,
		URLPollInterval:   time.Hour,
		SelfCheckInterval: time.Hour,
		ObserverLifetime:  time.Hour,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestCoordinatorDebouncesTriggerStorm(t *testing.T) {
	scans := &scanCounter{}
	c := newTestCoordinator(t, shortConfig(), scans)

	// Many triggers within one debounce window collapse to one scan.
	for i := 0; i < 20; i++ {
		c.Notify(ChangeEvent{Kind: NodeAdded, Marker: `textarea`})
	}
	assert.Equal(t, StatePending, c.State())

	waitFor(t, func() bool { return scans.total() == 1 })
	waitFor(t, func() bool { return c.State() == StateIdle })
	assert.Equal(t, 1, scans.total())

	c.Stop()
}

func TestCoordinatorDropsUninterestingEvents(t *testing.T) {
	scans := &scanCounter{}
	c := newTestCoordinator(t, shortConfig(), scans)

	c.Notify(ChangeEvent{Kind: NodeAdded, Marker: `span`})
	c.Notify(ChangeEvent{Kind: AttributeChanged, Attr: "style"})

	assert.Equal(t, StateIdle, c.State())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, scans.total())

	c.Stop()
}

func TestCoordinatorCoalescesMidScanTriggers(t *testing.T) {
	scans := &scanCounter{block: make(chan struct{})}
	c := newTestCoordinator(t, shortConfig(), scans)

	c.Notify(ChangeEvent{Kind: NodeAdded, Marker: `textarea`})
	waitFor(t, func() bool { return c.State() == StateScanning })

	// Several triggers land while the pass runs; they coalesce into exactly
	// one follow-up cycle.
	c.Notify(ChangeEvent{Kind: NodeAdded, Marker: `form`})
	c.Notify(ChangeEvent{Kind: NodeAdded, Marker: `form`})
	c.Notify(ChangeEvent{Kind: NodeAdded, Marker: `form`})
	close(scans.block)
	scans.mu.Lock()
	scans.block = nil
	scans.mu.Unlock()

	waitFor(t, func() bool { return scans.total() == 2 })
	waitFor(t, func() bool { return c.State() == StateIdle })
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, scans.total())

	c.Stop()
}

func TestCoordinatorStartTriggersInitialScan(t *testing.T) {
	scans := &scanCounter{}
	c := newTestCoordinator(t, shortConfig(), scans)

	c.Start(context.Background())
	waitFor(t, func() bool { return scans.total() == 1 })

	c.Stop()
}

func TestCoordinatorStopCancelsPendingScan(t *testing.T) {
	scans := &scanCounter{}
	c := newTestCoordinator(t, shortConfig(), scans)

	c.Notify(ChangeEvent{Kind: NodeAdded, Marker: `textarea`})
	c.Stop()

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, scans.total())

	// Stop is safe to repeat, and further triggers are inert.
	c.Stop()
	c.Notify(ChangeEvent{Kind: NodeAdded, Marker: `textarea`})
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 0, scans.total())
}

func TestCoordinatorURLPollDetectsContentSwap(t *testing.T) {
	doc := browsertest.NewFakeDocument("https://business.google.com/reviews/reply")
	log, _ := logging.NewLogger("observer-test")

	scans := &scanCounter{}
	var navMu sync.Mutex
	var navigations [][2]string

	c := New(doc, Config{
		Debounce:          10 * time.Millisecond,
		URLPollInterval:   10 * time.Millisecond,
		SelfCheckInterval: time.Hour,
		ObserverLifetime:  time.Hour,
	}, DefaultInterestFilter(), Hooks{
		Scan: scans.scan,
		Navigated: func(oldURL, newURL string) {
			navMu.Lock()
			navigations = append(navigations, [2]string{oldURL, newURL})
			navMu.Unlock()
		},
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)
	waitFor(t, func() bool { return scans.total() >= 1 })

	doc.SetURL("https://business.google.com/reviews/reply?page=2")

	waitFor(t, func() bool {
		navMu.Lock()
		defer navMu.Unlock()
		return len(navigations) == 1
	})
	navMu.Lock()
	require.Len(t, navigations, 1)
	assert.Equal(t, "https://business.google.com/reviews/reply", navigations[0][0])
	assert.Equal(t, "https://business.google.com/reviews/reply?page=2", navigations[0][1])
	navMu.Unlock()

	// The swap also queues a debounced rescan.
	waitFor(t, func() bool { return scans.total() >= 2 })
	c.Stop()
}

func TestCoordinatorSelfCheckReinstalls(t *testing.T) {
	doc := browsertest.NewFakeDocument("https://business.google.com/reviews/reply")
	// The page-side flag reads false: the observer was detached.
	doc.EvalResults["() => !!window."+installedFlag] = false
	log, _ := logging.NewLogger("observer-test")

	var reinstalls sync.WaitGroup
	reinstalls.Add(1)
	var once sync.Once

	scans := &scanCounter{}
	c := New(doc, Config{
		Debounce:          10 * time.Millisecond,
		URLPollInterval:   time.Hour,
		SelfCheckInterval: 10 * time.Millisecond,
		ObserverLifetime:  time.Hour,
	}, DefaultInterestFilter(), Hooks{
		Scan:      scans.scan,
		Reinstall: func() error { once.Do(reinstalls.Done); return nil },
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	done := make(chan struct{})
	go func() { reinstalls.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("self-check never reinstalled the observer")
	}
	c.Stop()
}

func TestCoordinatorStateStrings(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "scanning", StateScanning.String())
}
