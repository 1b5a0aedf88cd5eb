// Package locator finds reply inputs and control insertion points in a
// hostile, frequently-restructured third-party DOM.
//
// Both lookups use a layered strategy: a precise platform-specific selector
// first, then progressively more generic structural fallbacks. Precision
// degrades gracefully as the platform's markup drifts.
package locator

import (
	"strings"

	"github.com/google/uuid"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
)

const (
	// PlatformInputAttr is the platform-assigned attribute carrying a
	// stable review identifier on the reply input.
	PlatformInputAttr = "data-review-id"

	// SpecificInputSelector targets reply inputs via the platform
	// attribute. Most precise, least stable across platform redesigns.
	SpecificInputSelector = `textarea[data-review-id], [contenteditable="true"][data-review-id]`

	// FallbackInputSelector matches any text-entry or editable-content
	// element; results are filtered through the eligibility predicate.
	FallbackInputSelector = `textarea, input[type="text"], [contenteditable="true"]`

	// SyntheticKeyAttr stores a generated key on inputs that carry no
	// platform identifier, so the key stays stable across scan passes.
	SyntheticKeyAttr = "data-reviewpilot-key"

	// platformActionContainerSelector is the platform's own button row
	// next to the reply input.
	platformActionContainerSelector = `[data-reply-actions], div[role="toolbar"]`

	// platformActionButtonSelector is the platform's send/submit button
	// inside that row; the control anchors after it when present.
	platformActionButtonSelector = `button[data-reply-submit], button[type="submit"]`

	// formActionContainerSelector is a form's dedicated action area.
	formActionContainerSelector = `.form-actions, [class*="action-buttons"], footer`
)

// InputKind distinguishes how text is written back to an input.
type InputKind int

const (
	// KindTextEntry covers textarea and input elements (value assignment).
	KindTextEntry InputKind = iota

	// KindEditable covers contenteditable elements (text-content
	// assignment).
	KindEditable
)

// InputHandle is an eligible reply input with its stable key.
type InputHandle struct {
	Element browser.Element
	Key     string
	Kind    InputKind
}

// Position describes where the control goes relative to the insertion point.
type Position int

const (
	// PositionFirstChild inserts the control as the container's first child.
	PositionFirstChild Position = iota

	// PositionAfterReference inserts the control immediately after the
	// reference node.
	PositionAfterReference

	// PositionAppend appends the control as the container's last child.
	PositionAppend
)

// InsertionPoint is a resolved location for attaching a control.
type InsertionPoint struct {
	Container browser.Element
	Reference browser.Element
	Position  Position
}

// Locator finds eligible inputs and insertion points in one document.
type Locator struct {
	replyKeywords []string
}

// New creates a locator with the given reply keyword policy.
func New(replyKeywords []string) *Locator {
	return &Locator{replyKeywords: replyKeywords}
}

// FindEligibleInputs scans the document for reply inputs.
//
// Strategy, first success wins per element: the specific platform selector,
// then the generic fallback filtered through the eligibility predicate.
// Results are deduplicated by input key.
func (l *Locator) FindEligibleInputs(doc browser.Document) ([]InputHandle, error) {
	seen := make(map[string]bool)
	var handles []InputHandle

	specific, err := doc.QuerySelectorAll(SpecificInputSelector)
	if err == nil {
		for _, el := range specific {
			handle, ok := l.toHandle(el)
			if ok && !seen[handle.Key] {
				seen[handle.Key] = true
				handles = append(handles, handle)
			}
		}
	}

	generic, err := doc.QuerySelectorAll(FallbackInputSelector)
	if err != nil {
		// Specific results alone are still usable.
		return handles, nil
	}

	for _, el := range generic {
		if !l.IsEligible(el) {
			continue
		}
		handle, ok := l.toHandle(el)
		if ok && !seen[handle.Key] {
			seen[handle.Key] = true
			handles = append(handles, handle)
		}
	}

	return handles, nil
}

// IsEligible reports whether an element qualifies as a reply input.
//
// The predicate is intentionally inclusive: the element must be a text-entry
// or editable-content element AND carry the platform attribute, OR match a
// reply keyword in its placeholder/label, OR simply sit inside a form.
// "Inside a form" alone is a weak signal, accepted for robustness against
// markup drift.
func (l *Locator) IsEligible(el browser.Element) bool {
	if !isTextInput(el) {
		return false
	}

	if attr, err := el.GetAttribute(PlatformInputAttr); err == nil && attr != "" {
		return true
	}

	if l.matchesReplyKeyword(el) {
		return true
	}

	if form, err := el.Closest("form"); err == nil && form != nil {
		return true
	}

	return false
}

func isTextInput(el browser.Element) bool {
	tag, err := el.TagName()
	if err != nil {
		return false
	}
	switch tag {
	case "textarea":
		return true
	case "input":
		inputType, err := el.GetAttribute("type")
		if err != nil {
			return false
		}
		return inputType == "" || inputType == "text"
	default:
		editable, err := el.GetAttribute("contenteditable")
		return err == nil && editable == "true"
	}
}

func (l *Locator) matchesReplyKeyword(el browser.Element) bool {
	for _, attr := range []string{"placeholder", "aria-label", "title"} {
		value, err := el.GetAttribute(attr)
		if err != nil || value == "" {
			continue
		}
		lowered := strings.ToLower(value)
		for _, keyword := range l.replyKeywords {
			if strings.Contains(lowered, strings.ToLower(keyword)) {
				return true
			}
		}
	}
	return false
}

// toHandle resolves the element's stable key: the platform attribute value
// when present, else a synthetic key persisted on the element itself.
func (l *Locator) toHandle(el browser.Element) (InputHandle, bool) {
	kind := KindTextEntry
	if tag, err := el.TagName(); err == nil && tag != "textarea" && tag != "input" {
		kind = KindEditable
	}

	if key, err := el.GetAttribute(PlatformInputAttr); err == nil && key != "" {
		return InputHandle{Element: el, Key: key, Kind: kind}, true
	}

	if key, err := el.GetAttribute(SyntheticKeyAttr); err == nil && key != "" {
		return InputHandle{Element: el, Key: key, Kind: kind}, true
	}

	key := "gen-" + uuid.New().String()
	if err := el.SetAttribute(SyntheticKeyAttr, key); err != nil {
		// Node vanished mid-pass; skip it this round.
		return InputHandle{}, false
	}
	return InputHandle{Element: el, Key: key, Kind: kind}, true
}

// FindInsertionPoint resolves where a control for the input should attach.
//
// Tried in order: the platform's own action container (anchored after its
// submit button when present, else as first child), the nearest form's
// action sub-container, then the input's own parent immediately after the
// input. Returns ok=false only when the input has no parent at all; callers
// skip the input this pass and retry on the next one.
func FindInsertionPoint(input InputHandle) (*InsertionPoint, bool) {
	if container, err := input.Element.Closest(platformActionContainerSelector); err == nil && container != nil {
		if button, err := container.QuerySelector(platformActionButtonSelector); err == nil && button != nil {
			return &InsertionPoint{Container: container, Reference: button, Position: PositionAfterReference}, true
		}
		return &InsertionPoint{Container: container, Position: PositionFirstChild}, true
	}

	if form, err := input.Element.Closest("form"); err == nil && form != nil {
		if actions, err := form.QuerySelector(formActionContainerSelector); err == nil && actions != nil {
			return &InsertionPoint{Container: actions, Position: PositionAppend}, true
		}
	}

	parent, err := input.Element.Parent()
	if err != nil || parent == nil {
		return nil, false
	}
	return &InsertionPoint{Container: parent, Reference: input.Element, Position: PositionAfterReference}, true
}
