// Package browser provides the live-DOM access layer for the injection
// engine, built on Playwright.
//
// The engine never talks to Playwright directly. It consumes the narrow
// Document and Element interfaces defined here, which a Playwright adapter
// implements for real pages and tests implement with in-memory fakes.
package browser

// Element is a handle to a live DOM node.
//
// Methods return an error when the underlying node has been destroyed or the
// frame navigated away. Callers in the engine treat any error as "node gone,
// skip and rescan later" rather than a failure.
type Element interface {
	// TagName returns the lower-cased tag name.
	TagName() (string, error)

	// GetAttribute returns the attribute value, or "" if absent.
	GetAttribute(name string) (string, error)

	// SetAttribute sets an attribute on the node.
	SetAttribute(name, value string) error

	// TextContent returns the node's text content.
	TextContent() (string, error)

	// InnerHTML returns the node's inner HTML.
	InnerHTML() (string, error)

	// QuerySelector finds the first descendant matching the selector,
	// or nil if none match.
	QuerySelector(selector string) (Element, error)

	// QuerySelectorAll finds all descendants matching the selector.
	QuerySelectorAll(selector string) ([]Element, error)

	// Parent returns the parent element, or nil at the document root.
	Parent() (Element, error)

	// Closest returns the nearest ancestor (or self) matching the
	// selector, or nil if none match.
	Closest(selector string) (Element, error)

	// IsAttached reports whether the node is still connected to its
	// document.
	IsAttached() (bool, error)

	// Eval runs a JavaScript function of the form `el => ...` with the
	// node bound as its argument and returns the JSON-serializable result.
	Eval(expression string) (interface{}, error)

	// EvalWithArg runs a JavaScript function of the form
	// `(el, arg) => ...` with the node and one argument.
	EvalWithArg(expression string, arg interface{}) (interface{}, error)

	// Remove detaches the node from the document.
	Remove() error
}

// Document is one frame's DOM surface: the top-level page or a contained
// iframe.
type Document interface {
	// Key returns a stable identifier for the frame, constant across
	// navigations within the frame's lifetime.
	Key() string

	// URL returns the frame's current location.
	URL() string

	// IsTop reports whether this is the top-level frame.
	IsTop() bool

	// QuerySelector finds the first element matching the selector, or nil.
	QuerySelector(selector string) (Element, error)

	// QuerySelectorAll finds all elements matching the selector.
	QuerySelectorAll(selector string) ([]Element, error)

	// Evaluate runs JavaScript in the frame and returns the
	// JSON-serializable result. An optional single argument is passed
	// through to the function.
	Evaluate(expression string, args ...interface{}) (interface{}, error)
}
