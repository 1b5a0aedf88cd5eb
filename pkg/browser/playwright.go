package browser

import (
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// frameDocument adapts a Playwright frame to the Document interface.
type frameDocument struct {
	frame playwright.Frame
}

// NewDocument wraps a Playwright frame as a Document.
func NewDocument(frame playwright.Frame) Document {
	return &frameDocument{frame: frame}
}

func (d *frameDocument) Key() string {
	// The frame object is stable for the frame's lifetime even as its
	// location changes.
	return fmt.Sprintf("frame-%p", d.frame)
}

func (d *frameDocument) URL() string {
	return d.frame.URL()
}

func (d *frameDocument) IsTop() bool {
	return d.frame.ParentFrame() == nil
}

func (d *frameDocument) QuerySelector(selector string) (Element, error) {
	handle, err := d.frame.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	if handle == nil {
		return nil, nil
	}
	return &handleElement{handle: handle}, nil
}

func (d *frameDocument) QuerySelectorAll(selector string) ([]Element, error) {
	handles, err := d.frame.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	elements := make([]Element, 0, len(handles))
	for _, handle := range handles {
		elements = append(elements, &handleElement{handle: handle})
	}
	return elements, nil
}

func (d *frameDocument) Evaluate(expression string, args ...interface{}) (interface{}, error) {
	var result interface{}
	var err error
	if len(args) > 0 {
		result, err = d.frame.Evaluate(expression, args[0])
	} else {
		result, err = d.frame.Evaluate(expression)
	}
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

// handleElement adapts a Playwright element handle to the Element interface.
type handleElement struct {
	handle playwright.ElementHandle
}

// WrapElement wraps a Playwright element handle as an Element.
func WrapElement(handle playwright.ElementHandle) Element {
	return &handleElement{handle: handle}
}

func (e *handleElement) TagName() (string, error) {
	result, err := e.handle.Evaluate("el => el.tagName.toLowerCase()")
	if err != nil {
		return "", fmt.Errorf("tag name lookup failed: %w", err)
	}
	tag, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("unexpected tag name result type %T", result)
	}
	return tag, nil
}

func (e *handleElement) GetAttribute(name string) (string, error) {
	value, err := e.handle.GetAttribute(name)
	if err != nil {
		return "", fmt.Errorf("attribute %q lookup failed: %w", name, err)
	}
	return value, nil
}

func (e *handleElement) SetAttribute(name, value string) error {
	_, err := e.handle.Evaluate(
		"(el, kv) => el.setAttribute(kv.name, kv.value)",
		map[string]interface{}{"name": name, "value": value},
	)
	if err != nil {
		return fmt.Errorf("setting attribute %q failed: %w", name, err)
	}
	return nil
}

func (e *handleElement) TextContent() (string, error) {
	text, err := e.handle.TextContent()
	if err != nil {
		return "", fmt.Errorf("text content lookup failed: %w", err)
	}
	return text, nil
}

func (e *handleElement) InnerHTML() (string, error) {
	html, err := e.handle.InnerHTML()
	if err != nil {
		return "", fmt.Errorf("inner HTML lookup failed: %w", err)
	}
	return html, nil
}

func (e *handleElement) QuerySelector(selector string) (Element, error) {
	handle, err := e.handle.QuerySelector(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	if handle == nil {
		return nil, nil
	}
	return &handleElement{handle: handle}, nil
}

func (e *handleElement) QuerySelectorAll(selector string) ([]Element, error) {
	handles, err := e.handle.QuerySelectorAll(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q failed: %w", selector, err)
	}
	elements := make([]Element, 0, len(handles))
	for _, handle := range handles {
		elements = append(elements, &handleElement{handle: handle})
	}
	return elements, nil
}

func (e *handleElement) Parent() (Element, error) {
	return e.evalToElement("el => el.parentElement", nil)
}

func (e *handleElement) Closest(selector string) (Element, error) {
	return e.evalToElement("(el, sel) => el.closest(sel)", selector)
}

// evalToElement runs an expression expected to return a DOM node and wraps
// the resulting handle. A null result maps to a nil Element.
func (e *handleElement) evalToElement(expression string, arg interface{}) (Element, error) {
	var jsHandle playwright.JSHandle
	var err error
	if arg != nil {
		jsHandle, err = e.handle.EvaluateHandle(expression, arg)
	} else {
		jsHandle, err = e.handle.EvaluateHandle(expression)
	}
	if err != nil {
		return nil, fmt.Errorf("element evaluation failed: %w", err)
	}
	element := jsHandle.AsElement()
	if element == nil {
		return nil, nil
	}
	return &handleElement{handle: element}, nil
}

func (e *handleElement) IsAttached() (bool, error) {
	result, err := e.handle.Evaluate("el => el.isConnected")
	if err != nil {
		// An evaluation failure on a destroyed handle means the node
		// is gone.
		return false, nil
	}
	attached, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("unexpected isConnected result type %T", result)
	}
	return attached, nil
}

func (e *handleElement) Eval(expression string) (interface{}, error) {
	result, err := e.handle.Evaluate(expression)
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

func (e *handleElement) EvalWithArg(expression string, arg interface{}) (interface{}, error) {
	result, err := e.handle.Evaluate(expression, arg)
	if err != nil {
		return nil, fmt.Errorf("evaluate failed: %w", err)
	}
	return result, nil
}

func (e *handleElement) Remove() error {
	if _, err := e.handle.Evaluate("el => el.remove()"); err != nil {
		return fmt.Errorf("remove failed: %w", err)
	}
	return nil
}
