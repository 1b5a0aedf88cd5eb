package review

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSnippetConcatenatesTextNodes(t *testing.T) {
	snippet, err := ParseSnippet(`<div><p>First line.</p><p>Second line.</p></div>`)
	require.NoError(t, err)
	assert.Equal(t, "First line. Second line.", snippet.Text)
}

func TestParseSnippetSkipsNonContentElements(t *testing.T) {
	fragment := `<div>
		<script>window.track();</script>
		<style>.a { color: red }</style>
		<svg><title>stars</title></svg>
		<p>Visible review text</p>
	</div>`

	snippet, err := ParseSnippet(fragment)
	require.NoError(t, err)
	assert.Equal(t, "Visible review text", snippet.Text)
}

func TestParseSnippetCollectsAriaLabels(t *testing.T) {
	fragment := `<div><span aria-label="4 out of 5 stars"></span><p>Nice place</p></div>`

	snippet, err := ParseSnippet(fragment)
	require.NoError(t, err)
	assert.Equal(t, "Nice place", snippet.Text)
	assert.Equal(t, []string{"4 out of 5 stars"}, snippet.Labels)
}

func TestParseSnippetBoundsLength(t *testing.T) {
	fragment := "<p>" + strings.Repeat("x", snippetMaxLength+500) + "</p>"

	snippet, err := ParseSnippet(fragment)
	require.NoError(t, err)
	assert.Len(t, snippet.Text, snippetMaxLength)
}

func TestInferRating(t *testing.T) {
	policy := testPolicy()

	tests := []struct {
		name string
		text string
		want int
	}{
		{"positive dominant", "great food, friendly staff, highly recommend", 4},
		{"negative dominant", "terrible service and dirty tables", 2},
		{"no signal", "we visited on a tuesday", NeutralRating},
		{"balanced", "great food but terrible service", NeutralRating},
		{"empty text", "", NeutralRating},
		{"spanish positive", "Excelente lugar, lo recomiendo", 4},
		{"case insensitive", "TERRIBLE experience, AWFUL", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferRating(tt.text, policy))
		})
	}
}
