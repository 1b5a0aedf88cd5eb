package surface

import (
	"context"
	"strings"
	"time"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
)

// probeSelector matches generic reply-form candidates: native text areas,
// ARIA textboxes, and editable regions.
const probeSelector = `textarea, [role="textbox"], [contenteditable="true"]`

// structuralMarkerSelector matches platform-specific review structures that
// identify a reply surface even before its input renders.
const structuralMarkerSelector = `[data-review-id], [data-reply-box], form[action*="reply"]`

// probeKeywords are placeholder/aria-label fragments that mark a reply box,
// across supported languages.
var probeKeywords = []string{
	"reply", "respond", "response", "answer",
	"responder", "respuesta", "contestar",
}

// ProbeContent runs a bounded retry loop checking the document for generic
// reply-form indicators. It is used when URL classification is inconclusive
// and the document is not the top-level frame.
//
// It commits to true on the first positive hit and gives up permanently
// after attempts are exhausted. This is the only detection path that
// retries; everything else relies on mutation-driven rescans.
func ProbeContent(ctx context.Context, doc browser.Document, attempts int, delay time.Duration) bool {
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}

		if probeOnce(doc) {
			return true
		}
	}
	return false
}

func probeOnce(doc browser.Document) bool {
	// Structural markers identify the surface even with no input present.
	if marker, err := doc.QuerySelector(structuralMarkerSelector); err == nil && marker != nil {
		return true
	}

	candidates, err := doc.QuerySelectorAll(probeSelector)
	if err != nil {
		return false
	}

	for _, candidate := range candidates {
		if matchesReplyKeyword(candidate) {
			return true
		}
	}
	return false
}

func matchesReplyKeyword(el browser.Element) bool {
	for _, attr := range []string{"placeholder", "aria-label"} {
		value, err := el.GetAttribute(attr)
		if err != nil {
			continue
		}
		lowered := strings.ToLower(value)
		for _, keyword := range probeKeywords {
			if strings.Contains(lowered, keyword) {
				return true
			}
		}
	}
	return false
}
