// Package engine attaches the review-reply injection pipeline to a live
// browser session: surface detection, mutation-driven scanning, control
// injection, and activation handling, per document.
package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/config"
	"github.com/guillefidelio/reviewpilot/pkg/engine/controller"
	"github.com/guillefidelio/reviewpilot/pkg/engine/locator"
	"github.com/guillefidelio/reviewpilot/pkg/engine/observer"
	"github.com/guillefidelio/reviewpilot/pkg/engine/surface"
	"github.com/guillefidelio/reviewpilot/pkg/engine/tracker"
	"github.com/guillefidelio/reviewpilot/pkg/generate"
	"github.com/guillefidelio/reviewpilot/pkg/logging"
	"github.com/guillefidelio/reviewpilot/pkg/review"
)

// Options configures an Engine.
type Options struct {
	Tunables config.EngineTunables
	Policy   *config.Policy

	// Generator serves the privileged top-level surface directly.
	Generator generate.Generator

	// RelayedGenerator serves contained frames, routing through the
	// cross-surface relay. Falls back to Generator when nil.
	RelayedGenerator generate.Generator

	Notifier controller.Notifier
}

// docRuntime is the per-document pipeline: one coordinator, one registry,
// one controller.
type docRuntime struct {
	doc         browser.Document
	registry    *tracker.Registry
	locator     *locator.Locator
	extractor   *review.Extractor
	controller  *controller.Controller
	coordinator *observer.Coordinator
}

// Engine manages injection pipelines for every candidate document of one
// browser session.
type Engine struct {
	session    *browser.Session
	opts       Options
	classifier *surface.Classifier
	filter     *observer.InterestFilter
	log        *logging.Logger

	mu       sync.Mutex
	runtimes map[string]*docRuntime
	ctx      context.Context
	started  bool
}

// New creates an engine for the session. Attach must be called to start it.
func New(session *browser.Session, opts Options, log *logging.Logger) *Engine {
	if opts.Policy == nil {
		opts.Policy = config.DefaultPolicy()
	}
	if opts.RelayedGenerator == nil {
		opts.RelayedGenerator = opts.Generator
	}
	return &Engine{
		session:    session,
		opts:       opts,
		classifier: surface.NewClassifier(),
		filter:     observer.DefaultInterestFilter(),
		log:        log,
		runtimes:   make(map[string]*docRuntime),
	}
}

// Attach exposes the page bindings, installs the mutation observer script,
// and brings up a pipeline for every candidate document already present.
// Further documents attach themselves as their observers report changes.
func (e *Engine) Attach(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("engine already attached")
	}
	e.started = true
	e.ctx = ctx
	e.mu.Unlock()

	if err := e.session.ExposeBinding(observer.NotifyBinding, e.onNotify); err != nil {
		return err
	}
	if err := e.session.ExposeBinding(ActivateBinding, e.onActivate); err != nil {
		return err
	}

	script, err := observer.BuildScript(e.filter, e.opts.Tunables.ObserverLifetime.Milliseconds())
	if err != nil {
		return err
	}
	// The init script re-installs the observer in every frame on every
	// navigation, so late-created iframes report in on their own.
	if err := e.session.AddInitScript(script); err != nil {
		return err
	}

	for _, doc := range e.session.Documents() {
		e.maybeAttachDocument(ctx, doc)
	}
	return nil
}

// Detach stops every pipeline. Tracked controls are dropped without DOM
// cleanup; the page is assumed to be going away.
func (e *Engine) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, rt := range e.runtimes {
		rt.coordinator.Stop()
		rt.registry.Clear()
		delete(e.runtimes, key)
	}
}

// Runtimes returns the number of attached document pipelines.
func (e *Engine) Runtimes() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runtimes)
}

// maybeAttachDocument brings up a pipeline for the document if it is a
// review-reply surface. Top-level frames are judged by URL alone; contained
// frames with inconclusive URLs get the bounded content probe, since iframe
// URLs are frequently opaque.
func (e *Engine) maybeAttachDocument(ctx context.Context, doc browser.Document) *docRuntime {
	e.mu.Lock()
	if rt, ok := e.runtimes[doc.Key()]; ok {
		e.mu.Unlock()
		return rt
	}
	e.mu.Unlock()

	verdict := e.classifier.Classify(doc.URL())
	if !verdict.IsCandidateSurface {
		if doc.IsTop() {
			return nil
		}
		if !surface.ProbeContent(ctx, doc, e.opts.Tunables.ProbeMaxAttempts, e.opts.Tunables.ProbeDelay) {
			return nil
		}
		e.log.Infof("contained frame accepted by content probe: %s", doc.URL())
	} else {
		e.log.Infof("candidate surface (%s): %s", verdict.Matched, doc.URL())
	}

	rt := e.buildRuntime(doc)

	e.mu.Lock()
	if existing, ok := e.runtimes[doc.Key()]; ok {
		// Another notification raced us; keep the first pipeline.
		e.mu.Unlock()
		rt.coordinator.Stop()
		return existing
	}
	e.runtimes[doc.Key()] = rt
	e.mu.Unlock()

	rt.coordinator.Start(ctx)
	return rt
}

func (e *Engine) buildRuntime(doc browser.Document) *docRuntime {
	tun := e.opts.Tunables

	gen := e.opts.Generator
	source := generate.SourceDirect
	if !doc.IsTop() {
		gen = e.opts.RelayedGenerator
		source = generate.SourceRelayed
	}

	rt := &docRuntime{
		doc:       doc,
		registry:  tracker.NewRegistry(tun.ControlStaleness),
		locator:   locator.New(e.opts.Policy.ReplyKeywords),
		extractor: review.NewExtractor(e.opts.Policy.Sentiment, tun.ContextCacheTTL),
	}

	rt.controller = controller.New(doc, controller.Config{
		Generator:    gen,
		Registry:     rt.registry,
		Extractor:    rt.extractor,
		Notifier:     e.opts.Notifier,
		DisplayDelay: tun.DisplayDelay,
		GenTimeout:   tun.GenerationTimeout,
		Source:       source,
	}, e.log)

	rt.coordinator = observer.New(doc, observer.Config{
		Debounce:          tun.DebounceWindow,
		URLPollInterval:   tun.URLPollInterval,
		SelfCheckInterval: tun.SelfCheckInterval,
		ObserverLifetime:  tun.ObserverLifetime,
	}, e.filter, observer.Hooks{
		Scan:      func(ctx context.Context) { e.scan(ctx, rt) },
		Navigated: func(oldURL, newURL string) { e.onNavigated(rt, oldURL, newURL) },
		Reinstall: func() error { return e.reinstallObserver(doc) },
	}, e.log)

	return rt
}

// scan runs one injection pass: reconcile the registry against the DOM,
// then locate inputs and inject controls for any not yet covered.
func (e *Engine) scan(_ context.Context, rt *docRuntime) {
	stats := rt.registry.Reconcile()
	if len(stats.RemovedKeys) > 0 {
		e.log.Debugf("reconciled: %d orphaned, %d stale", stats.Orphaned, stats.Stale)
		// Purged controls usually mean the review card re-rendered;
		// cached extractions for it are no longer trustworthy.
		rt.extractor.Invalidate()
	}

	inputs, err := rt.locator.FindEligibleInputs(rt.doc)
	if err != nil {
		e.log.Warnf("input scan failed: %v", err)
		return
	}

	for _, input := range inputs {
		if rt.registry.HasControlFor(input.Element, input.Key) {
			continue
		}

		point, ok := locator.FindInsertionPoint(input)
		if !ok {
			// No usable anchor this pass; the next mutation retries.
			e.log.Debugf("no insertion point for input %q", input.Key)
			continue
		}

		node, err := injectControl(input, point)
		if err != nil {
			e.log.Warnf("injection failed for %q: %v", input.Key, err)
			continue
		}

		control := tracker.NewControl(input.Key, node, input.Element, input.Kind)
		if err := rt.registry.Register(control); err != nil {
			// Raced with another pass; remove the duplicate node.
			_ = node.Remove()
			continue
		}
		e.log.Infof("control injected for input %q", input.Key)
	}
}

// onNavigated tears down controls stranded by a content swap, removing
// their nodes so surviving containers do not carry stray buttons that
// suppress re-injection. The debounced rescan that follows re-injects for
// whatever the new content holds.
func (e *Engine) onNavigated(rt *docRuntime, oldURL, newURL string) {
	purged := rt.registry.Teardown()
	rt.extractor.Invalidate()
	e.log.Infof("document swapped content, %d controls torn down: %s -> %s", purged, oldURL, newURL)
}

func (e *Engine) reinstallObserver(doc browser.Document) error {
	script, err := observer.BuildScript(e.filter, e.opts.Tunables.ObserverLifetime.Milliseconds())
	if err != nil {
		return err
	}
	_, err = doc.Evaluate(script)
	return err
}

// onNotify receives filtered change summaries from the page-side observer.
// Documents without a pipeline get one attached on first report, which is
// how dynamically created iframes join.
func (e *Engine) onNotify(doc browser.Document, args ...interface{}) interface{} {
	e.mu.Lock()
	ctx := e.ctx
	rt := e.runtimes[doc.Key()]
	e.mu.Unlock()

	if ctx == nil {
		return nil
	}

	ev := parseChangeEvent(args)

	if rt == nil {
		// Attachment probes can block; keep the binding callback fast.
		go func() {
			if rt := e.maybeAttachDocument(ctx, doc); rt != nil {
				rt.coordinator.Notify(ev)
			}
		}()
		return nil
	}

	rt.coordinator.Notify(ev)
	return nil
}

// onActivate handles a control click. Generation runs off the binding
// goroutine so the page-side call returns immediately.
func (e *Engine) onActivate(doc browser.Document, args ...interface{}) interface{} {
	if len(args) == 0 {
		return nil
	}
	key, ok := args[0].(string)
	if !ok || key == "" {
		return nil
	}

	e.mu.Lock()
	ctx := e.ctx
	rt := e.runtimes[doc.Key()]
	e.mu.Unlock()

	if rt == nil || ctx == nil {
		e.log.Warnf("activation from unattached document %s ignored", doc.URL())
		return nil
	}

	go rt.controller.Activate(ctx, key)
	return nil
}

// parseChangeEvent decodes the observer script's change summary. Malformed
// payloads degrade to a node-addition for the broadest rescan trigger.
func parseChangeEvent(args []interface{}) observer.ChangeEvent {
	if len(args) == 0 {
		return observer.ChangeEvent{Kind: observer.URLChanged}
	}
	payload, ok := args[0].(map[string]interface{})
	if !ok {
		return observer.ChangeEvent{Kind: observer.URLChanged}
	}

	ev := observer.ChangeEvent{}
	if kind, ok := payload["kind"].(string); ok {
		ev.Kind = observer.ChangeKind(kind)
	}
	if marker, ok := payload["marker"].(string); ok {
		ev.Marker = marker
	}
	if attr, ok := payload["attr"].(string); ok {
		ev.Attr = attr
	}
	if ev.Kind == "" {
		ev.Kind = observer.URLChanged
	}
	return ev
}
