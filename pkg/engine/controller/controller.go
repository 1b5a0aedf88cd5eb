// Package controller wires an injected control's activation to a full
// generation cycle: extract, generate, write back, present the outcome.
package controller

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/atotto/clipboard"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/engine/locator"
	"github.com/guillefidelio/reviewpilot/pkg/engine/tracker"
	"github.com/guillefidelio/reviewpilot/pkg/generate"
	"github.com/guillefidelio/reviewpilot/pkg/logging"
	"github.com/guillefidelio/reviewpilot/pkg/review"
)

// Control labels per lifecycle state.
const (
	LabelIdle    = "Generate reply"
	LabelBusy    = "Generating..."
	LabelSuccess = "Reply inserted"
	LabelError   = "Generation failed"
)

// Notifier surfaces transient, auto-dismissing notifications on the page.
type Notifier interface {
	Notify(doc browser.Document, message string, success bool)
}

// Config holds the controller's tunables and collaborators.
type Config struct {
	Generator    generate.Generator
	Registry     *tracker.Registry
	Extractor    *review.Extractor
	Notifier     Notifier
	DisplayDelay time.Duration
	GenTimeout   time.Duration

	// Source tags requests from this document: generate.SourceDirect for
	// the privileged surface, generate.SourceRelayed for contained ones.
	Source string

	// Clipboard overrides the success-path clipboard write (tests).
	// Defaults to the system clipboard.
	Clipboard func(text string) error
}

// Controller drives generation cycles for one document's controls.
type Controller struct {
	cfg Config
	doc browser.Document
	log *logging.Logger

	// inFlight is the document-wide generation flag. It is deliberately
	// coarse: one reply form is normally active at a time, and two
	// controls generating concurrently for the same logical review is
	// always wrong.
	inFlight atomic.Bool
}

// New creates a controller for one document.
func New(doc browser.Document, cfg Config, log *logging.Logger) *Controller {
	if cfg.Clipboard == nil {
		cfg.Clipboard = clipboard.WriteAll
	}
	if cfg.Source == "" {
		cfg.Source = generate.SourceDirect
	}
	return &Controller{cfg: cfg, doc: doc, log: log}
}

// InFlight reports whether a generation cycle is currently running.
func (c *Controller) InFlight() bool {
	return c.inFlight.Load()
}

// Activate runs one generation cycle for the control with the given input
// key. Activations while a cycle is in flight, or for a control that is
// not idle, are ignored (not errors): the click simply does nothing.
//
// The in-flight flag is always cleared on exit, and a control that entered
// busy always leaves it within the display delay, whatever the response
// did.
func (c *Controller) Activate(ctx context.Context, key string) {
	control, ok := c.cfg.Registry.Get(key)
	if !ok {
		c.log.Warnf("activation for untracked input key %q ignored", key)
		return
	}

	if !c.inFlight.CompareAndSwap(false, true) {
		c.log.Debugf("activation ignored: generation already in flight")
		return
	}
	defer c.inFlight.Store(false)

	if err := control.TransitionTo(tracker.StateBusy); err != nil {
		// Not idle (e.g. still showing a previous outcome); ignore.
		c.log.Debugf("activation ignored: %v", err)
		return
	}

	// A malformed response must never disable the control permanently:
	// reset visible state best-effort before logging the failure.
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("panic during generation handling: %v", r)
			if control.State() == tracker.StateBusy {
				_ = control.TransitionTo(tracker.StateError)
			}
			c.render(control)
			c.scheduleRevert(control)
		}
	}()

	c.render(control)

	rc, err := c.cfg.Extractor.Extract(c.doc, key, control.Input)
	if err != nil {
		c.finishError(control, generate.ClassNetwork.UserMessage())
		return
	}

	genCtx, cancel := context.WithTimeout(ctx, c.cfg.GenTimeout)
	defer cancel()

	result, err := c.cfg.Generator.Generate(genCtx, &generate.Request{
		Review:   *rc,
		InputKey: key,
		Source:   c.cfg.Source,
	})
	if err != nil {
		c.finishError(control, generate.ClassifyError(err).UserMessage())
		return
	}

	if !result.Success {
		c.log.Warnf("generation failed (%s): %s", result.ErrorClass, result.Error)
		c.finishError(control, result.ErrorClass.UserMessage())
		return
	}

	// The user may have navigated mid-request; a result for a control we
	// no longer track is discarded, not written.
	if _, still := c.cfg.Registry.Get(key); !still {
		c.log.Infof("discarding result for purged control %q", key)
		return
	}

	c.finishSuccess(control, result.AIResponse)
}

// finishSuccess writes the reply into the input and presents success.
func (c *Controller) finishSuccess(control *tracker.Control, text string) {
	if err := c.writeBack(control, text); err != nil {
		c.log.Warnf("write-back failed: %v", err)
		c.finishError(control, generate.ClassServer.UserMessage())
		return
	}

	if err := control.TransitionTo(tracker.StateSuccess); err != nil {
		c.log.Errorf("controller: %v", err)
	}
	c.render(control)

	// Clipboard copy is a convenience; failure is invisible.
	if text != "" {
		if err := c.cfg.Clipboard(text); err != nil {
			c.log.Debugf("clipboard copy failed: %v", err)
		}
	}

	if c.cfg.Notifier != nil {
		c.cfg.Notifier.Notify(c.doc, "Reply generated and inserted.", true)
	}
	c.scheduleRevert(control)
}

// finishError presents a classified failure.
func (c *Controller) finishError(control *tracker.Control, message string) {
	if err := control.TransitionTo(tracker.StateError); err != nil {
		c.log.Errorf("controller: %v", err)
	}
	c.render(control)

	if c.cfg.Notifier != nil {
		c.cfg.Notifier.Notify(c.doc, message, false)
	}
	c.scheduleRevert(control)
}

// scheduleRevert returns the control to idle after the display delay.
func (c *Controller) scheduleRevert(control *tracker.Control) {
	time.AfterFunc(c.cfg.DisplayDelay, func() {
		state := control.State()
		if state == tracker.StateSuccess || state == tracker.StateError {
			if err := control.TransitionTo(tracker.StateIdle); err != nil {
				c.log.Errorf("controller: %v", err)
				return
			}
			c.render(control)
		}
	})
}

// writeBack writes the generated text into the input using the mechanism
// its type needs, and synthesizes the input/change events the host page's
// own listeners require to notice the programmatic update.
//
// Writing an empty result over a non-empty input is a no-op: user-entered
// or previously generated text is never clobbered by a degenerate response.
func (c *Controller) writeBack(control *tracker.Control, text string) error {
	if strings.TrimSpace(text) == "" {
		current, err := c.inputText(control)
		if err == nil && strings.TrimSpace(current) != "" {
			c.log.Infof("empty generation result; keeping existing input text")
			return nil
		}
	}

	var script string
	if control.Kind == locator.KindEditable {
		script = `(el, text) => {
			el.textContent = text;
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
		}`
	} else {
		script = `(el, text) => {
			el.value = text;
			el.dispatchEvent(new Event('input', { bubbles: true }));
			el.dispatchEvent(new Event('change', { bubbles: true }));
		}`
	}

	_, err := control.Input.EvalWithArg(script, text)
	return err
}

func (c *Controller) inputText(control *tracker.Control) (string, error) {
	var script string
	if control.Kind == locator.KindEditable {
		script = `el => el.textContent || ''`
	} else {
		script = `el => el.value || ''`
	}

	result, err := control.Input.Eval(script)
	if err != nil {
		return "", err
	}
	text, _ := result.(string)
	return text, nil
}

// render reflects the control's lifecycle state onto its DOM node.
func (c *Controller) render(control *tracker.Control) {
	state := control.State()
	label := LabelIdle
	switch state {
	case tracker.StateBusy:
		label = LabelBusy
	case tracker.StateSuccess:
		label = LabelSuccess
	case tracker.StateError:
		label = LabelError
	}

	_, err := control.Node.EvalWithArg(`(el, s) => {
		el.textContent = s.label;
		el.setAttribute('data-state', s.state);
		el.disabled = s.state === 'busy';
	}`, map[string]interface{}{"label": label, "state": state.String()})
	if err != nil {
		// Node likely removed mid-cycle; reconciliation will purge it.
		c.log.Debugf("control render failed: %v", err)
	}
}
