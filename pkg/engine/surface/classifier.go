// Package surface decides whether a document is a candidate review-reply
// surface.
//
// The classifier is deliberately permissive: a false positive only costs a
// scan pass that finds no inputs, while a false negative silently disables
// the feature on a page where it should work.
package surface

import (
	"net/url"
	"strings"

	"github.com/gobwas/glob"
)

// Result is the classification outcome for one URL.
type Result struct {
	// IsCandidateSurface reports whether any heuristic matched.
	IsCandidateSurface bool

	// Matched names the heuristic that fired, for logging. Empty when no
	// heuristic matched.
	Matched string
}

// replyPathFragments are path fragments associated with reply/response
// flows. Any single match is sufficient. Matching is case-insensitive
// substring via glob.
var replyPathFragments = []string{
	"reviews/reply",
	"respond-to-reviews",
	"reviewreply",
	"reply-to-review",
	"respondreview",
}

// customerSegments mark customer-facing areas of the host platform.
var customerSegments = []string{"customers", "clients", "clientes"}

// reviewSegments mark review/reply product areas.
var reviewSegments = []string{"review", "reply", "resenas", "reseñas"}

// platformDomains are the host platform's known domains.
var platformDomains = []string{"google.com", "google."}

// productAreaSegments are platform product areas that can embed reply
// surfaces.
var productAreaSegments = []string{"/maps", "/business", "/local", "/contributor"}

// Classifier classifies URLs as candidate review-reply surfaces.
type Classifier struct {
	fragments []glob.Glob
}

// NewClassifier builds a classifier with the curated fragment list.
func NewClassifier() *Classifier {
	c := &Classifier{}
	for _, fragment := range replyPathFragments {
		c.fragments = append(c.fragments, glob.MustCompile("*"+fragment+"*"))
	}
	return c
}

// Classify decides whether the URL looks like a review-reply surface.
//
// The decision is a disjunction of three independent heuristics; any one is
// sufficient. An empty URL always yields false.
func (c *Classifier) Classify(rawURL string) Result {
	if rawURL == "" {
		return Result{}
	}

	lowered := strings.ToLower(rawURL)

	// Heuristic 1: curated reply-flow path fragments.
	for _, pattern := range c.fragments {
		if pattern.Match(lowered) {
			return Result{IsCandidateSurface: true, Matched: "reply-fragment"}
		}
	}

	// Heuristic 2: customer-facing segment together with a review/reply
	// segment.
	if containsAny(lowered, customerSegments) && containsAny(lowered, reviewSegments) {
		return Result{IsCandidateSurface: true, Matched: "customer-review"}
	}

	// Heuristic 3: known platform domain together with a product-area
	// segment.
	if onPlatformDomain(hostOf(lowered)) {
		if containsAny(lowered, productAreaSegments) {
			return Result{IsCandidateSurface: true, Matched: "platform-product-area"}
		}
	}

	return Result{}
}

// MatchesPlatformDomain reports whether the URL's host belongs to the host
// platform, regardless of product area. Weaker than Classify; used as a
// routing fallback.
func MatchesPlatformDomain(rawURL string) bool {
	return onPlatformDomain(hostOf(strings.ToLower(rawURL)))
}

// onPlatformDomain matches the host against the platform domain list on
// label boundaries. A bare substring check would let lookalike hosts such
// as notgoogle.evil.com through, and this feeds relay result targeting.
func onPlatformDomain(host string) bool {
	host = strings.Split(host, ":")[0]
	if host == "" {
		return false
	}
	labels := strings.Split(host, ".")

	for _, domain := range platformDomains {
		if strings.HasSuffix(domain, ".") {
			// Prefix-style entry ("google."): the platform name as a whole
			// label followed by one or two suffix labels (google.es,
			// google.co.uk). Longer tails mean a foreign parent domain.
			name := strings.TrimSuffix(domain, ".")
			for i, label := range labels {
				tail := len(labels) - i - 1
				if label == name && tail >= 1 && tail <= 2 {
					return true
				}
			}
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func containsAny(s string, fragments []string) bool {
	for _, fragment := range fragments {
		if strings.Contains(s, fragment) {
			return true
		}
	}
	return false
}

// hostOf extracts the host portion of a URL, tolerating malformed input.
func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return ""
	}
	return parsed.Host
}
