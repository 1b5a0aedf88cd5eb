package controller

import (
	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/logging"
)

// toastScript renders a transient corner notification that removes itself.
const toastScript = `(opts) => {
	const id = 'reviewpilot-toast';
	document.getElementById(id)?.remove();
	const el = document.createElement('div');
	el.id = id;
	el.textContent = opts.message;
	el.style.cssText = 'position:fixed;bottom:16px;right:16px;z-index:2147483647;' +
		'padding:10px 14px;border-radius:6px;font:13px system-ui,sans-serif;' +
		'color:#fff;box-shadow:0 2px 8px rgba(0,0,0,.25);' +
		'background:' + (opts.success ? '#1a7f37' : '#cf222e');
	document.body.appendChild(el);
	setTimeout(() => el.remove(), opts.durationMs);
}`

// PageNotifier shows transient toast notifications inside the page itself,
// so the user sees outcomes next to the control they clicked.
type PageNotifier struct {
	log        *logging.Logger
	durationMs int
}

// NewPageNotifier creates a notifier with the given toast duration.
func NewPageNotifier(log *logging.Logger, durationMs int) *PageNotifier {
	if durationMs <= 0 {
		durationMs = 4000
	}
	return &PageNotifier{log: log, durationMs: durationMs}
}

func (n *PageNotifier) Notify(doc browser.Document, message string, success bool) {
	_, err := doc.Evaluate(toastScript, map[string]interface{}{
		"message":    message,
		"success":    success,
		"durationMs": n.durationMs,
	})
	if err != nil {
		n.log.Debugf("notification render failed: %v", err)
	}
}
