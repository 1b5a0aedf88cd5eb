package review

import (
	"strings"

	"github.com/guillefidelio/reviewpilot/pkg/config"
)

// InferRating estimates a star rating from keyword sentiment when the page
// exposes no explicit rating.
//
// This is a coarse heuristic: it counts positive vs negative keyword hits
// and maps the balance onto the rating scale. Sarcastic or mixed reviews
// will be misread; the keyword lists are a replaceable policy, not a
// contract.
func InferRating(text string, policy config.SentimentPolicy) int {
	if text == "" {
		return NeutralRating
	}

	lowered := strings.ToLower(text)

	positive := countHits(lowered, policy.Positive)
	negative := countHits(lowered, policy.Negative)

	switch {
	case positive > negative:
		return 4
	case negative > positive:
		return 2
	default:
		return NeutralRating
	}
}

func countHits(text string, keywords []string) int {
	hits := 0
	for _, keyword := range keywords {
		if strings.Contains(text, strings.ToLower(keyword)) {
			hits++
		}
	}
	return hits
}
