// Package review extracts the structured context a generation request
// needs from a review-reply surface.
package review

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/config"
)

const (
	// EmptyTextSentinel replaces an empty review text so downstream
	// consumers can tell "no text" from "extraction failed". A raw empty
	// string is never sent for generation.
	EmptyTextSentinel = "No review text provided"

	// UnknownReviewer is the sentinel for an undiscoverable reviewer name.
	UnknownReviewer = "unknown"

	// NeutralRating is the default when no rating signal exists at all.
	NeutralRating = 3
)

// Extraction selectors, most specific first.
const (
	reviewerSelector = `[data-reviewer-name], .review-author, [class*="reviewer"], [itemprop="author"]`
	ratingSelector   = `[data-rating], [aria-label*="star"], [aria-label*="estrella"], [itemprop="ratingValue"]`
	textSelector     = `[data-review-text], .review-text, [itemprop="reviewBody"], blockquote`
	cardSelector     = `[data-review-id], .review-card, [itemprop="review"]`
	businessSelector = `[data-business-name], [itemprop="name"], h1`
	categorySelector = `[data-business-category], [itemprop="category"]`
)

// Context is the extracted review context for one generation cycle.
type Context struct {
	// ReviewerName is the reviewer's display name, or "unknown".
	ReviewerName string `json:"reviewerName"`

	// Rating is always populated: extracted, sentiment-inferred, or
	// defaulted to neutral. Integer 1-5.
	Rating int `json:"rating"`

	// Text is the review text, or EmptyTextSentinel.
	Text string `json:"text"`

	// BusinessName is a best-effort business identifier.
	BusinessName string `json:"businessName"`

	// BusinessCategory is a best-effort product/category hint.
	BusinessCategory string `json:"businessCategory"`

	// ExtractedAt is when this context was computed.
	ExtractedAt time.Time `json:"extractedAt"`
}

// Extractor computes review contexts with a short-TTL cache, avoiding
// redundant DOM walks when several UI events fire in quick succession.
type Extractor struct {
	policy config.SentimentPolicy
	ttl    time.Duration

	mu        sync.Mutex
	cachedKey string
	cached    *Context
	cachedAt  time.Time
	now       func() time.Time
}

// NewExtractor creates an extractor with the given sentiment policy and
// cache TTL.
func NewExtractor(policy config.SentimentPolicy, ttl time.Duration) *Extractor {
	return &Extractor{
		policy: policy,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Extract computes (or returns the cached) review context for the input
// with the given key. When the input sits inside a review card, selector
// queries are scoped to that card so a list page with several reviews
// yields the card the input actually serves, not the first card on the
// page. A nil input falls back to document-wide queries.
func (e *Extractor) Extract(doc browser.Document, inputKey string, input browser.Element) (*Context, error) {
	e.mu.Lock()
	if e.cached != nil && e.cachedKey == inputKey && e.now().Sub(e.cachedAt) < e.ttl {
		cached := e.cached
		e.mu.Unlock()
		return cached, nil
	}
	e.mu.Unlock()

	extracted := e.extract(doc, input)

	e.mu.Lock()
	e.cached = extracted
	e.cachedKey = inputKey
	e.cachedAt = e.now()
	e.mu.Unlock()

	return extracted, nil
}

// Invalidate drops the cache. Called when a reconciliation pass detects the
// active input key changed.
func (e *Extractor) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cached = nil
	e.cachedKey = ""
}

// queryScope is the DOM subtree selector queries run against: the input's
// review-card ancestor when one exists, the whole document otherwise.
type queryScope interface {
	QuerySelector(selector string) (browser.Element, error)
}

func (e *Extractor) extract(doc browser.Document, input browser.Element) *Context {
	ctx := &Context{
		ReviewerName: UnknownReviewer,
		ExtractedAt:  e.now(),
	}

	card := cardAncestor(input)
	var scope queryScope = doc
	if card != nil {
		scope = card
	}

	if name := firstText(scope, reviewerSelector); name != "" {
		ctx.ReviewerName = name
	}

	ctx.Text = e.extractText(scope, card)

	// Business identity is page-level, not card-level.
	ctx.BusinessName = firstText(doc, businessSelector)
	ctx.BusinessCategory = firstText(doc, categorySelector)

	// Rating is always populated: extracted, inferred from review text
	// sentiment, inferred from the business-category context, or neutral.
	if rating, ok := extractRating(scope); ok {
		ctx.Rating = rating
	} else if ctx.Text != EmptyTextSentinel {
		ctx.Rating = InferRating(ctx.Text, e.policy)
	} else {
		ctx.Rating = InferRating(ctx.BusinessCategory, e.policy)
	}

	return ctx
}

// cardAncestor resolves the review card the input belongs to, if any.
func cardAncestor(input browser.Element) browser.Element {
	if input == nil {
		return nil
	}
	card, err := input.Closest(cardSelector)
	if err != nil {
		return nil
	}
	return card
}

// extractText pulls the review text via selectors, then falls back to
// parsing the raw review-card HTML. An empty result maps to the sentinel.
func (e *Extractor) extractText(scope queryScope, card browser.Element) string {
	if text := firstText(scope, textSelector); text != "" {
		return text
	}

	// Selector drift fallback: parse the card's markup directly.
	if card == nil {
		if found, err := scope.QuerySelector(cardSelector); err == nil && found != nil {
			card = found
		}
	}
	if card != nil {
		if html, err := card.InnerHTML(); err == nil && html != "" {
			if snippet, err := ParseSnippet(html); err == nil && snippet.Text != "" {
				return snippet.Text
			}
		}
	}

	return EmptyTextSentinel
}

func firstText(scope queryScope, selector string) string {
	el, err := scope.QuerySelector(selector)
	if err != nil || el == nil {
		return ""
	}
	text, err := el.TextContent()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

var ratingPattern = regexp.MustCompile(`[1-5]`)

// extractRating reads an explicit rating from the page: a numeric data
// attribute or the first 1-5 digit in a star widget's label.
func extractRating(scope queryScope) (int, bool) {
	el, err := scope.QuerySelector(ratingSelector)
	if err != nil || el == nil {
		return 0, false
	}

	for _, attr := range []string{"data-rating", "aria-label", "content"} {
		value, err := el.GetAttribute(attr)
		if err != nil || value == "" {
			continue
		}
		if match := ratingPattern.FindString(value); match != "" {
			rating, err := strconv.Atoi(match)
			if err == nil && rating >= 1 && rating <= 5 {
				return rating, true
			}
		}
	}

	if text, err := el.TextContent(); err == nil {
		if match := ratingPattern.FindString(text); match != "" {
			rating, err := strconv.Atoi(match)
			if err == nil && rating >= 1 && rating <= 5 {
				return rating, true
			}
		}
	}

	return 0, false
}
