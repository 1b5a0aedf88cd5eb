package browser

import (
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// UpdateLastUsed updates the LastUsedAt timestamp to the current time.
func (s *Session) UpdateLastUsed() {
	s.LastUsedAt = time.Now()
}

// Navigate navigates the session's page to the specified URL.
func (s *Session) Navigate(url string, opts NavigateOptions) error {
	s.UpdateLastUsed()

	playwrightOpts := playwright.PageGotoOptions{}

	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		playwrightOpts.WaitUntil = &waitUntil
	}

	if opts.Timeout > 0 {
		playwrightOpts.Timeout = &opts.Timeout
	}

	_, err := s.Page.Goto(url, playwrightOpts)
	if err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}

	s.CurrentURL = s.Page.URL()
	return nil
}

// MainDocument returns the top-level frame as a Document.
func (s *Session) MainDocument() Document {
	return NewDocument(s.Page.MainFrame())
}

// Documents returns all frames of the page as Documents, the top-level
// frame first.
func (s *Session) Documents() []Document {
	frames := s.Page.Frames()
	docs := make([]Document, 0, len(frames))
	for _, frame := range frames {
		docs = append(docs, NewDocument(frame))
	}
	return docs
}

// ExposeBinding registers a function callable from any frame of the page as
// window.<name>(...). The handler receives the originating frame as a
// Document.
func (s *Session) ExposeBinding(name string, handler BindingHandler) error {
	err := s.Page.ExposeBinding(name, func(source *playwright.BindingSource, args ...interface{}) interface{} {
		return handler(NewDocument(source.Frame), args...)
	})
	if err != nil {
		return fmt.Errorf("failed to expose binding %q: %w", name, err)
	}
	return nil
}

// AddInitScript registers a script evaluated in every frame before any page
// script runs, surviving navigations.
func (s *Session) AddInitScript(script string) error {
	err := s.Page.AddInitScript(playwright.Script{Content: playwright.String(script)})
	if err != nil {
		return fmt.Errorf("failed to add init script: %w", err)
	}
	return nil
}

// URL returns the page's current top-level URL.
func (s *Session) URL() string {
	return s.Page.URL()
}
