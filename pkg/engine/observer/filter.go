package observer

import "encoding/json"

// ChangeKind classifies a low-level DOM change notification.
type ChangeKind string

const (
	// NodeAdded means a node matching an interest marker was inserted.
	NodeAdded ChangeKind = "added"

	// NodeRemoved means a node matching an interest marker was removed.
	NodeRemoved ChangeKind = "removed"

	// AttributeChanged means a watched attribute changed on a matched node.
	AttributeChanged ChangeKind = "attributes"

	// URLChanged means the polled location check detected a new URL.
	URLChanged ChangeKind = "url"
)

// ChangeEvent is one filtered DOM change notification.
type ChangeEvent struct {
	Kind ChangeKind

	// Marker is the interest marker the changed node matched (for node
	// changes).
	Marker string

	// Attr is the changed attribute name (for attribute changes).
	Attr string
}

// InterestFilter is the data-driven table of "what changed" -> "worth a
// rescan". The same table is compiled into the page-side observer script
// and re-checked here, so a hostile page cannot flood the Go side by
// calling the notification binding directly.
type InterestFilter struct {
	// NodeMarkers are CSS selectors; an added/removed node must match one
	// (or contain a match) to be interesting.
	NodeMarkers []string `json:"nodeMarkers"`

	// Attrs are the attribute names watched on matched nodes.
	Attrs []string `json:"attrs"`
}

// DefaultInterestFilter covers the reply input's platform attribute, the
// structural containers reply forms render into, and the attributes whose
// change can flip an input's eligibility.
func DefaultInterestFilter() *InterestFilter {
	return &InterestFilter{
		NodeMarkers: []string{
			`[data-review-id]`,
			`textarea`,
			`[contenteditable="true"]`,
			`form`,
			`[role="dialog"]`,
			`[data-reply-box]`,
		},
		Attrs: []string{
			"data-review-id",
			"placeholder",
			"aria-label",
			"contenteditable",
		},
	}
}

// Interested reports whether a change event warrants a rescan. URL changes
// are always interesting.
func (f *InterestFilter) Interested(ev ChangeEvent) bool {
	switch ev.Kind {
	case URLChanged:
		return true
	case NodeAdded, NodeRemoved:
		for _, marker := range f.NodeMarkers {
			if marker == ev.Marker {
				return true
			}
		}
		return false
	case AttributeChanged:
		for _, attr := range f.Attrs {
			if attr == ev.Attr {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// MarshalScript serializes the filter table for embedding into the
// page-side observer script.
func (f *InterestFilter) MarshalScript() (string, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
