package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Policy holds the replaceable keyword heuristics the engine matches against
// page text. These are deliberately not part of the JSON settings store: they
// ship with working defaults and are only overridden wholesale from a YAML
// file, typically for a new language or a platform copy change.
type Policy struct {
	// Sentiment keywords used to infer a star rating from review text
	// when the page exposes no explicit rating.
	Sentiment SentimentPolicy `yaml:"sentiment"`

	// ReplyKeywords are placeholder/label fragments that mark an input as
	// a reply box. Matching is case-insensitive substring.
	ReplyKeywords []string `yaml:"reply_keywords"`
}

// SentimentPolicy is a naive keyword-polarity table. It is a coarse
// heuristic and known to misread sarcastic or mixed reviews.
type SentimentPolicy struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
}

// DefaultPolicy returns the built-in keyword policy (English + Spanish).
func DefaultPolicy() *Policy {
	return &Policy{
		Sentiment: SentimentPolicy{
			Positive: []string{
				"great", "excellent", "amazing", "wonderful", "fantastic",
				"love", "loved", "best", "perfect", "awesome", "friendly",
				"recommend", "delicious", "excelente", "increíble", "genial",
				"encantó", "recomiendo", "perfecto",
			},
			Negative: []string{
				"bad", "terrible", "awful", "horrible", "worst", "rude",
				"disappointed", "disappointing", "dirty", "slow", "never again",
				"malo", "terrible", "horrible", "pésimo", "sucio", "decepcionado",
			},
		},
		ReplyKeywords: []string{
			"reply", "respond", "response", "comment", "answer",
			"responder", "respuesta", "comentario", "contestar",
		},
	}
}

// LoadPolicy reads a policy override from a YAML file. An empty path returns
// the default policy. Lists present in the file replace the default lists;
// absent lists keep their defaults.
func LoadPolicy(path string) (*Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var override Policy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	if len(override.Sentiment.Positive) > 0 {
		policy.Sentiment.Positive = override.Sentiment.Positive
	}
	if len(override.Sentiment.Negative) > 0 {
		policy.Sentiment.Negative = override.Sentiment.Negative
	}
	if len(override.ReplyKeywords) > 0 {
		policy.ReplyKeywords = override.ReplyKeywords
	}

	return policy, nil
}
