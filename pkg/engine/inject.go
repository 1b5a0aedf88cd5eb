package engine

import (
	"fmt"
	"strings"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/engine/controller"
	"github.com/guillefidelio/reviewpilot/pkg/engine/locator"
	"github.com/guillefidelio/reviewpilot/pkg/engine/tracker"
)

// ActivateBinding is the page-global function an injected control calls on
// click, carrying the control's input key.
const ActivateBinding = "__reviewpilotActivate"

// injectScript builds the control button in page context and attaches it at
// the resolved position. The click handler routes through the activation
// binding; generation never runs in page context. Returns false when a
// control for the key already exists under the target.
const injectScript = `(target, opts) => {
	const sel = '[' + opts.keyAttr + '="' + opts.key + '"]';
	const scope = opts.position === 'after' ? (target.parentElement || target) : target;
	if (scope.querySelector(sel)) {
		return false;
	}
	const btn = document.createElement('button');
	btn.type = 'button';
	btn.className = opts.markerClass;
	btn.setAttribute(opts.keyAttr, opts.key);
	btn.setAttribute('data-state', 'idle');
	btn.textContent = opts.label;
	btn.style.cssText = 'margin:4px;padding:6px 12px;border:1px solid #1a73e8;' +
		'border-radius:16px;background:#fff;color:#1a73e8;cursor:pointer;' +
		'font:13px system-ui,sans-serif';
	btn.addEventListener('click', (ev) => {
		ev.preventDefault();
		ev.stopPropagation();
		window.` + ActivateBinding + `(opts.key);
	});
	switch (opts.position) {
	case 'first':
		target.insertBefore(btn, target.firstChild);
		break;
	case 'after':
		target.insertAdjacentElement('afterend', btn);
		break;
	default:
		target.appendChild(btn);
	}
	return true;
}`

// injectControl attaches a control button for the input at the insertion
// point and returns the created node.
func injectControl(input locator.InputHandle, point *locator.InsertionPoint) (browser.Element, error) {
	opts := map[string]interface{}{
		"key":         input.Key,
		"keyAttr":     tracker.ControlKeyAttr,
		"markerClass": tracker.MarkerClass,
		"label":       controller.LabelIdle,
	}

	// The eval target carries the handle the position is relative to:
	// after-reference inserts run on the reference node itself.
	target := point.Container
	switch point.Position {
	case locator.PositionFirstChild:
		opts["position"] = "first"
	case locator.PositionAfterReference:
		opts["position"] = "after"
		if point.Reference != nil {
			target = point.Reference
		}
	default:
		opts["position"] = "append"
	}

	if _, err := target.EvalWithArg(injectScript, opts); err != nil {
		return nil, fmt.Errorf("control injection failed: %w", err)
	}

	selector := fmt.Sprintf(`[%s=%q]`, tracker.ControlKeyAttr, escapeKey(input.Key))
	node, err := findInScope(target, point.Container, selector)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("injected control for %q not found", input.Key)
	}
	return node, nil
}

// findInScope looks for the node under the container first, falling back to
// the reference's parent for after-reference inserts.
func findInScope(target, container browser.Element, selector string) (browser.Element, error) {
	if node, err := container.QuerySelector(selector); err == nil && node != nil {
		return node, nil
	}
	parent, err := target.Parent()
	if err != nil || parent == nil {
		return nil, err
	}
	return parent.QuerySelector(selector)
}

func escapeKey(key string) string {
	return strings.NewReplacer(`"`, ``, `\`, ``).Replace(key)
}
