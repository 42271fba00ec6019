package providers

import (
	"fmt"
	"strings"

	"github.com/edgy-raven/helper-chatbot/pkg/config"
)

const (
	defaultOpenRouterAPIBase = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel   = "openai/gpt-5.2"
)

func init() {
	RegisterFactory(ProviderOpenRouter, newOpenRouterProviderFromConfig, validateOpenRouterConfig)
}

func validateOpenRouterConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Providers.OpenRouter.APIKey) == "" {
		return fmt.Errorf("OpenRouter API key is required (set providers.openrouter.api_key or HELPERBOT_PROVIDERS_OPENROUTER_API_KEY)")
	}
	return nil
}

func newOpenRouterProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	if err := validateOpenRouterConfig(cfg); err != nil {
		return nil, err
	}

	apiBase := strings.TrimSpace(cfg.Providers.OpenRouter.APIBase)
	if apiBase == "" {
		apiBase = defaultOpenRouterAPIBase
	}
	model := strings.TrimSpace(cfg.Agents.Defaults.Model)
	if model == "" {
		model = defaultOpenRouterModel
	}
	return newChatCompletionsProvider(
		ProviderOpenRouter,
		apiBase,
		model,
		cfg.Providers.OpenRouter.APIKey,
		strings.TrimSpace(cfg.Providers.OpenRouter.Proxy),
		nil,
	)
}
