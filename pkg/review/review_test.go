package review

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guillefidelio/reviewpilot/pkg/browser"
	"github.com/guillefidelio/reviewpilot/pkg/browser/browsertest"
	"github.com/guillefidelio/reviewpilot/pkg/config"
)

func testPolicy() config.SentimentPolicy {
	return config.DefaultPolicy().Sentiment
}

func reviewDoc() *browsertest.FakeDocument {
	return browsertest.NewFakeDocument("https://business.google.com/reviews/reply")
}

func textEl(text string) *browsertest.FakeElement {
	el := browsertest.NewFakeElement("div")
	el.Text = text
	return el
}

func TestExtractFullReview(t *testing.T) {
	doc := reviewDoc()
	doc.Results[reviewerSelector] = []browser.Element{textEl("  Maria Lopez  ")}
	doc.Results[textSelector] = []browser.Element{textEl("Great service, highly recommend!")}
	doc.Results[ratingSelector] = []browser.Element{
		browsertest.NewFakeElement("span").WithAttr("data-rating", "5"),
	}
	doc.Results[businessSelector] = []browser.Element{textEl("Cafe Central")}

	e := NewExtractor(testPolicy(), time.Second)
	rc, err := e.Extract(doc, "r-1", nil)
	require.NoError(t, err)

	assert.Equal(t, "Maria Lopez", rc.ReviewerName)
	assert.Equal(t, 5, rc.Rating)
	assert.Equal(t, "Great service, highly recommend!", rc.Text)
	assert.Equal(t, "Cafe Central", rc.BusinessName)
}

func TestExtractDefaultsToSentinels(t *testing.T) {
	doc := reviewDoc()

	e := NewExtractor(testPolicy(), time.Second)
	rc, err := e.Extract(doc, "r-1", nil)
	require.NoError(t, err)

	assert.Equal(t, UnknownReviewer, rc.ReviewerName)
	assert.Equal(t, EmptyTextSentinel, rc.Text)
	assert.Equal(t, NeutralRating, rc.Rating)
	assert.False(t, rc.ExtractedAt.IsZero())
}

func TestExtractRatingFromAriaLabel(t *testing.T) {
	doc := reviewDoc()
	doc.Results[ratingSelector] = []browser.Element{
		browsertest.NewFakeElement("span").WithAttr("aria-label", "Rated 4 out of 5 stars"),
	}

	e := NewExtractor(testPolicy(), time.Second)
	rc, err := e.Extract(doc, "r-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rc.Rating)
}

func TestExtractRatingInferredFromSentiment(t *testing.T) {
	doc := reviewDoc()
	doc.Results[textSelector] = []browser.Element{textEl("Terrible experience, awful food")}

	e := NewExtractor(testPolicy(), time.Second)
	rc, err := e.Extract(doc, "r-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rc.Rating)
}

func TestExtractTextFallsBackToCardMarkup(t *testing.T) {
	doc := reviewDoc()
	card := browsertest.NewFakeElement("div").WithAttr("data-review-id", "r-1")
	card.HTML = `<div><script>track()</script><p>Came back twice, loved it</p></div>`
	doc.Results[cardSelector] = []browser.Element{card}

	e := NewExtractor(testPolicy(), time.Second)
	rc, err := e.Extract(doc, "r-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "Came back twice, loved it", rc.Text)
}

func TestExtractScopesToInputCardAncestor(t *testing.T) {
	doc := reviewDoc()

	// Two review cards on the page; the document-level queries would see
	// the first card's content.
	doc.Results[reviewerSelector] = []browser.Element{textEl("First Reviewer")}
	doc.Results[textSelector] = []browser.Element{textEl("First card text")}
	doc.Results[ratingSelector] = []browser.Element{
		browsertest.NewFakeElement("span").WithAttr("data-rating", "5"),
	}

	secondCard := browsertest.NewFakeElement("div").WithAttr("data-review-id", "r-2")
	secondCard.Results[reviewerSelector] = []browser.Element{textEl("Second Reviewer")}
	secondCard.Results[textSelector] = []browser.Element{textEl("Second card text")}
	secondCard.Results[ratingSelector] = []browser.Element{
		browsertest.NewFakeElement("span").WithAttr("data-rating", "1"),
	}

	input := browsertest.NewFakeElement("textarea")
	input.ClosestMap[cardSelector] = secondCard

	e := NewExtractor(testPolicy(), time.Second)
	rc, err := e.Extract(doc, "r-2", input)
	require.NoError(t, err)

	assert.Equal(t, "Second Reviewer", rc.ReviewerName)
	assert.Equal(t, "Second card text", rc.Text)
	assert.Equal(t, 1, rc.Rating)
}

func TestExtractWithoutCardAncestorFallsBackToDocument(t *testing.T) {
	doc := reviewDoc()
	doc.Results[textSelector] = []browser.Element{textEl("Only card text")}

	// The input has no review-card ancestor.
	input := browsertest.NewFakeElement("textarea")

	e := NewExtractor(testPolicy(), time.Second)
	rc, err := e.Extract(doc, "r-1", input)
	require.NoError(t, err)
	assert.Equal(t, "Only card text", rc.Text)
}

func TestExtractCachesWithinTTL(t *testing.T) {
	doc := reviewDoc()
	doc.Results[textSelector] = []browser.Element{textEl("first extraction")}

	e := NewExtractor(testPolicy(), time.Minute)

	first, err := e.Extract(doc, "r-1", nil)
	require.NoError(t, err)

	// The DOM changes, but the cache still serves the same key.
	doc.Results[textSelector] = []browser.Element{textEl("second extraction")}
	second, err := e.Extract(doc, "r-1", nil)
	require.NoError(t, err)
	assert.Same(t, first, second)

	// A different key bypasses the cache.
	third, err := e.Extract(doc, "r-2", nil)
	require.NoError(t, err)
	assert.Equal(t, "second extraction", third.Text)
}

func TestInvalidateDropsCache(t *testing.T) {
	doc := reviewDoc()
	doc.Results[textSelector] = []browser.Element{textEl("first extraction")}

	e := NewExtractor(testPolicy(), time.Minute)
	_, err := e.Extract(doc, "r-1", nil)
	require.NoError(t, err)

	e.Invalidate()
	doc.Results[textSelector] = []browser.Element{textEl("fresh extraction")}

	rc, err := e.Extract(doc, "r-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "fresh extraction", rc.Text)
}
