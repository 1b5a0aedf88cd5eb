package observer

import (
	"fmt"
)

const (
	// NotifyBinding is the page-exposed function the observer script calls
	// with filtered change summaries.
	NotifyBinding = "__reviewpilotNotify"

	// installedFlag marks a document whose observer script is active.
	installedFlag = "__reviewpilotObserver"
)

// BuildScript renders the page-side observer script with the interest
// filter table and the observer lifetime baked in.
//
// The script installs a single MutationObserver on the document root. It
// summarizes mutations down to {kind, marker, attr} tuples and forwards
// only those matching the filter table; everything else dies on the page
// side, bounding hot-path work on pages that churn their DOM for unrelated
// reasons. The observer self-disconnects after lifetimeMs; the
// coordinator's self-check reinstalls it.
func BuildScript(filter *InterestFilter, lifetimeMs int64) (string, error) {
	table, err := filter.MarshalScript()
	if err != nil {
		return "", fmt.Errorf("failed to serialize interest filter: %w", err)
	}

	return fmt.Sprintf(observerScriptTemplate,
		installedFlag, installedFlag, table,
		NotifyBinding, NotifyBinding,
		installedFlag, lifetimeMs), nil
}

// observerScriptTemplate expects: installed flag (x2), filter JSON, notify
// binding (x2), installed flag, lifetime ms.
const observerScriptTemplate = `(() => {
  if (window.%s) { return; }
  window.%s = true;

  const FILTER = %s;
  const notify = (summary) => {
    if (typeof window.%s === 'function') {
      window.%s(summary).catch(() => {});
    }
  };

  const matchMarker = (node) => {
    if (!node || node.nodeType !== 1) { return null; }
    for (const marker of FILTER.nodeMarkers) {
      try {
        if (node.matches(marker) || node.querySelector(marker)) { return marker; }
      } catch (e) { /* invalid selector on exotic nodes */ }
    }
    return null;
  };

  const observer = new MutationObserver((mutations) => {
    for (const m of mutations) {
      if (m.type === 'attributes') {
        if (FILTER.attrs.includes(m.attributeName)) {
          notify({ kind: 'attributes', attr: m.attributeName });
        }
        continue;
      }
      for (const node of m.addedNodes) {
        const marker = matchMarker(node);
        if (marker) { notify({ kind: 'added', marker: marker }); break; }
      }
      for (const node of m.removedNodes) {
        const marker = matchMarker(node);
        if (marker) { notify({ kind: 'removed', marker: marker }); break; }
      }
    }
  });

  observer.observe(document.documentElement, {
    childList: true,
    subtree: true,
    attributes: true,
    attributeFilter: FILTER.attrs,
  });

  const teardown = () => {
    observer.disconnect();
    window.%s = false;
  };

  setTimeout(teardown, %d);
  window.addEventListener('pagehide', teardown, { once: true });
})();`
