package providers

import (
	"fmt"
	"strings"

	"github.com/edgy-raven/helper-chatbot/pkg/config"
)

const (
	defaultOpenAIAPIBase = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-5-mini"
)

func init() {
	RegisterFactory(ProviderOpenAI, newOpenAIProviderFromConfig, validateOpenAIConfig)
}

func validateOpenAIConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if strings.TrimSpace(cfg.Providers.OpenAI.APIKey) == "" {
		return fmt.Errorf("OpenAI API key is required (set providers.openai.api_key or HELPERBOT_PROVIDERS_OPENAI_API_KEY)")
	}
	return nil
}

func newOpenAIProviderFromConfig(cfg *config.Config) (LLMProvider, error) {
	if err := validateOpenAIConfig(cfg); err != nil {
		return nil, err
	}

	apiBase := strings.TrimSpace(cfg.Providers.OpenAI.APIBase)
	if apiBase == "" {
		apiBase = defaultOpenAIAPIBase
	}
	extraHeaders := map[string]string{}
	if org := strings.TrimSpace(cfg.Providers.OpenAI.Organization); org != "" {
		extraHeaders["OpenAI-Organization"] = org
	}
	if project := strings.TrimSpace(cfg.Providers.OpenAI.Project); project != "" {
		extraHeaders["OpenAI-Project"] = project
	}

	model := strings.TrimSpace(cfg.Agents.Defaults.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	return newChatCompletionsProvider(
		ProviderOpenAI,
		apiBase,
		model,
		cfg.Providers.OpenAI.APIKey,
		strings.TrimSpace(cfg.Providers.OpenAI.Proxy),
		extraHeaders,
	)
}
