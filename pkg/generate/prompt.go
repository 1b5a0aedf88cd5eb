package generate

import (
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/guillefidelio/reviewpilot/pkg/review"
)

const (
	// promptEncoding is the tokenizer used to budget review text.
	promptEncoding = "cl100k_base"

	// maxReviewTokens bounds how much review text goes into a prompt.
	// Reviews are occasionally pasted walls of text; everything past the
	// budget adds cost without improving the reply.
	maxReviewTokens = 1500
)

// systemPrompt frames the model as the business owner replying publicly.
const systemPrompt = `You write replies to customer reviews on behalf of a business owner. ` +
	`Reply in the same language as the review. Be professional, warm, and concise (2-4 sentences). ` +
	`Thank the reviewer by name when a name is given. For negative reviews, acknowledge the problem ` +
	`and offer to make it right without being defensive. Do not invent details about the business. ` +
	`Return only the reply text.`

// BuildPrompt renders the user message for a review context, truncating
// over-long review text to the token budget.
func BuildPrompt(rc *review.Context) string {
	text := TruncateToTokens(rc.Text, maxReviewTokens)

	var b strings.Builder
	fmt.Fprintf(&b, "Reviewer: %s\n", rc.ReviewerName)
	fmt.Fprintf(&b, "Rating: %d out of 5\n", rc.Rating)
	if rc.BusinessName != "" {
		fmt.Fprintf(&b, "Business: %s\n", rc.BusinessName)
	}
	if rc.BusinessCategory != "" {
		fmt.Fprintf(&b, "Category: %s\n", rc.BusinessCategory)
	}
	fmt.Fprintf(&b, "Review: %s\n", text)
	b.WriteString("\nWrite the reply.")
	return b.String()
}

// TruncateToTokens trims text to at most maxTokens tokens. On tokenizer
// failure it falls back to a conservative character bound.
func TruncateToTokens(text string, maxTokens int) string {
	encoder, err := tiktoken.GetEncoding(promptEncoding)
	if err != nil {
		// ~4 chars per token is a safe overestimate for latin scripts.
		limit := maxTokens * 4
		if len(text) > limit {
			return text[:limit]
		}
		return text
	}

	tokens := encoder.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return encoder.Decode(tokens[:maxTokens])
}
