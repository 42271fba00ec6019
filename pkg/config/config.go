package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agents    AgentsConfig    `json:"agents"`
	Channels  ChannelsConfig  `json:"channels"`
	Providers ProvidersConfig `json:"providers"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Store     StoreConfig     `json:"store"`
	Reminder  ReminderConfig  `json:"reminder"`
	mu        sync.RWMutex
}

type AgentsConfig struct {
	Defaults AgentDefaults `json:"defaults"`
}

type AgentDefaults struct {
	Provider    string  `json:"provider" env:"HELPERBOT_AGENTS_DEFAULTS_PROVIDER"`
	Model       string  `json:"model" env:"HELPERBOT_AGENTS_DEFAULTS_MODEL"`
	Temperature float64 `json:"temperature" env:"HELPERBOT_AGENTS_DEFAULTS_TEMPERATURE"`
	// Persona replaces the built-in character prompt when set.
	Persona          string `json:"persona,omitempty" env:"HELPERBOT_AGENTS_DEFAULTS_PERSONA"`
	SummaryRevisions int    `json:"summary_revisions" env:"HELPERBOT_AGENTS_DEFAULTS_SUMMARY_REVISIONS"`
	PersonaRevisions int    `json:"persona_revisions" env:"HELPERBOT_AGENTS_DEFAULTS_PERSONA_REVISIONS"`
}

type ChannelsConfig struct {
	Discord DiscordConfig `json:"discord"`
}

type DiscordConfig struct {
	Token          string              `json:"token" env:"HELPERBOT_CHANNELS_DISCORD_TOKEN"`
	AllowFrom      FlexibleStringSlice `json:"allow_from" env:"HELPERBOT_CHANNELS_DISCORD_ALLOW_FROM"`
	HistoryLimit   int                 `json:"history_limit" env:"HELPERBOT_CHANNELS_DISCORD_HISTORY_LIMIT"`
	ReplyChainHops int                 `json:"reply_chain_hops" env:"HELPERBOT_CHANNELS_DISCORD_REPLY_CHAIN_HOPS"`
	MaxReplyChars  int                 `json:"max_reply_chars" env:"HELPERBOT_CHANNELS_DISCORD_MAX_REPLY_CHARS"`
}

type ProvidersConfig struct {
	OpenRouter OpenRouterConfig `json:"openrouter"`
	OpenAI     OpenAIConfig     `json:"openai"`
}

type OpenRouterConfig struct {
	APIKey  string `json:"api_key" env:"HELPERBOT_PROVIDERS_OPENROUTER_API_KEY"`
	APIBase string `json:"api_base" env:"HELPERBOT_PROVIDERS_OPENROUTER_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"HELPERBOT_PROVIDERS_OPENROUTER_PROXY"`
}

type OpenAIConfig struct {
	APIKey       string `json:"api_key" env:"HELPERBOT_PROVIDERS_OPENAI_API_KEY"`
	APIBase      string `json:"api_base" env:"HELPERBOT_PROVIDERS_OPENAI_API_BASE"`
	Proxy        string `json:"proxy,omitempty" env:"HELPERBOT_PROVIDERS_OPENAI_PROXY"`
	Organization string `json:"organization,omitempty" env:"HELPERBOT_PROVIDERS_OPENAI_ORGANIZATION"`
	Project      string `json:"project,omitempty" env:"HELPERBOT_PROVIDERS_OPENAI_PROJECT"`
}

type RetrievalConfig struct {
	CachePath      string `json:"cache_path" env:"HELPERBOT_RETRIEVAL_CACHE_PATH"`
	FetchTimeoutMS int    `json:"fetch_timeout_ms" env:"HELPERBOT_RETRIEVAL_FETCH_TIMEOUT_MS"`
}

type StoreConfig struct {
	Path string `json:"path" env:"HELPERBOT_STORE_PATH"`
}

type ReminderConfig struct {
	Enabled  bool   `json:"enabled" env:"HELPERBOT_REMINDER_ENABLED"`
	Schedule string `json:"schedule" env:"HELPERBOT_REMINDER_SCHEDULE"`
}

func DefaultConfig() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Provider:         "openrouter",
				Model:            "openai/gpt-5.2",
				Temperature:      0.4,
				SummaryRevisions: 3,
				PersonaRevisions: 5,
			},
		},
		Channels: ChannelsConfig{
			Discord: DiscordConfig{
				Token:          "",
				AllowFrom:      FlexibleStringSlice{},
				HistoryLimit:   10,
				ReplyChainHops: 5,
				MaxReplyChars:  1900,
			},
		},
		Providers: ProvidersConfig{
			OpenRouter: OpenRouterConfig{},
			OpenAI:     OpenAIConfig{},
		},
		Retrieval: RetrievalConfig{
			CachePath:      "~/.helperbot/lyrics_cache.json",
			FetchTimeoutMS: 10000,
		},
		Store: StoreConfig{
			Path: "~/.helperbot/helperbot.db",
		},
		Reminder: ReminderConfig{
			Enabled:  true,
			Schedule: "0 9 * * *",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) StorePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Store.Path)
}

func (c *Config) LyricsCachePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Retrieval.CachePath)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
