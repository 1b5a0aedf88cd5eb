// Package browsertest provides in-memory fakes for the browser DOM
// interfaces, used by engine unit tests instead of a live browser.
package browsertest

import (
	"sync"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
)

// FakeDocument implements browser.Document with preloaded query results.
type FakeDocument struct {
	ID  string
	Top bool

	// urlMu guards PageURL; tests swap it while pollers read it.
	urlMu   sync.Mutex
	PageURL string

	// Results maps a selector to the elements QuerySelectorAll returns
	// for it. QuerySelector returns the first entry.
	Results map[string][]browser.Element

	// EvalResults maps an expression to the value Evaluate returns.
	EvalResults map[string]interface{}

	// EvalCalls records every expression passed to Evaluate.
	EvalCalls []string
}

// NewFakeDocument creates an empty fake document for the given URL.
func NewFakeDocument(url string) *FakeDocument {
	return &FakeDocument{
		ID:          url,
		PageURL:     url,
		Top:         true,
		Results:     make(map[string][]browser.Element),
		EvalResults: make(map[string]interface{}),
	}
}

func (d *FakeDocument) Key() string { return d.ID }

func (d *FakeDocument) URL() string {
	d.urlMu.Lock()
	defer d.urlMu.Unlock()
	return d.PageURL
}

// SetURL swaps the reported location, simulating a content swap.
func (d *FakeDocument) SetURL(url string) {
	d.urlMu.Lock()
	defer d.urlMu.Unlock()
	d.PageURL = url
}
func (d *FakeDocument) IsTop() bool { return d.Top }

func (d *FakeDocument) QuerySelector(selector string) (browser.Element, error) {
	elements := d.Results[selector]
	if len(elements) == 0 {
		return nil, nil
	}
	return elements[0], nil
}

func (d *FakeDocument) QuerySelectorAll(selector string) ([]browser.Element, error) {
	return d.Results[selector], nil
}

func (d *FakeDocument) Evaluate(expression string, args ...interface{}) (interface{}, error) {
	d.EvalCalls = append(d.EvalCalls, expression)
	return d.EvalResults[expression], nil
}

// FakeElement implements browser.Element with settable state.
type FakeElement struct {
	Tag      string
	Attrs    map[string]string
	Text     string
	HTML     string
	Attached bool

	// ParentEl is returned by Parent.
	ParentEl browser.Element

	// Results maps selectors to descendant query results.
	Results map[string][]browser.Element

	// ClosestMap maps selectors to the ancestor Closest returns.
	ClosestMap map[string]browser.Element

	// EvalResults maps expressions to Eval/EvalWithArg results.
	EvalResults map[string]interface{}

	// EvalCalls records every evaluated expression.
	EvalCalls []string

	// Removed is set when Remove is called.
	Removed bool
}

// NewFakeElement creates an attached fake element with the given tag.
func NewFakeElement(tag string) *FakeElement {
	return &FakeElement{
		Tag:         tag,
		Attrs:       make(map[string]string),
		Attached:    true,
		Results:     make(map[string][]browser.Element),
		ClosestMap:  make(map[string]browser.Element),
		EvalResults: make(map[string]interface{}),
	}
}

// WithAttr sets an attribute and returns the element for chaining.
func (e *FakeElement) WithAttr(name, value string) *FakeElement {
	e.Attrs[name] = value
	return e
}

func (e *FakeElement) TagName() (string, error) { return e.Tag, nil }

func (e *FakeElement) GetAttribute(name string) (string, error) {
	return e.Attrs[name], nil
}

func (e *FakeElement) SetAttribute(name, value string) error {
	e.Attrs[name] = value
	return nil
}

func (e *FakeElement) TextContent() (string, error) { return e.Text, nil }
func (e *FakeElement) InnerHTML() (string, error)   { return e.HTML, nil }

func (e *FakeElement) QuerySelector(selector string) (browser.Element, error) {
	elements := e.Results[selector]
	if len(elements) == 0 {
		return nil, nil
	}
	return elements[0], nil
}

func (e *FakeElement) QuerySelectorAll(selector string) ([]browser.Element, error) {
	return e.Results[selector], nil
}

func (e *FakeElement) Parent() (browser.Element, error) {
	if e.ParentEl == nil {
		return nil, nil
	}
	return e.ParentEl, nil
}

func (e *FakeElement) Closest(selector string) (browser.Element, error) {
	ancestor, ok := e.ClosestMap[selector]
	if !ok {
		return nil, nil
	}
	return ancestor, nil
}

func (e *FakeElement) IsAttached() (bool, error) { return e.Attached, nil }

func (e *FakeElement) Eval(expression string) (interface{}, error) {
	e.EvalCalls = append(e.EvalCalls, expression)
	return e.EvalResults[expression], nil
}

func (e *FakeElement) EvalWithArg(expression string, arg interface{}) (interface{}, error) {
	e.EvalCalls = append(e.EvalCalls, expression)
	return e.EvalResults[expression], nil
}

func (e *FakeElement) Remove() error {
	e.Removed = true
	e.Attached = false
	return nil
}
