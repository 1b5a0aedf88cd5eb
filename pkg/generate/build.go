package generate

import (
	"os"

	"github.com/guillefidelio/reviewpilot/pkg/config"
)

// BuildProvider resolves provider settings with flag > environment >
// config-file precedence and constructs the provider.
//
// cliModel/cliBaseURL/cliAPIKey come from command-line flags and win when
// non-empty. Environment variables (OPENAI_API_KEY, OPENAI_BASE_URL) are
// consulted next, then the persisted LLM config section.
func BuildProvider(cliModel, cliBaseURL, cliAPIKey string, llm *config.LLMSection) (*Provider, error) {
	apiKey := cliAPIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" && llm != nil {
		apiKey = llm.GetAPIKey()
	}

	model := cliModel
	if model == "" && llm != nil {
		model = llm.GetModel()
	}
	if model == "" {
		model = DefaultModel
	}

	baseURL := cliBaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_BASE_URL")
	}
	if baseURL == "" && llm != nil {
		baseURL = llm.GetBaseURL()
	}

	opts := []ProviderOption{WithModel(model)}
	if baseURL != "" {
		opts = append(opts, WithBaseURL(baseURL))
	}
	return NewProvider(apiKey, opts...)
}
