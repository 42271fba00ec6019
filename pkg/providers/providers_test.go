package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/edgy-raven/helper-chatbot/pkg/config"
)

func TestCreateProvider_OpenRouter_DefaultSelection(t *testing.T) {
	var seenAuth string
	var seenPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenPath = r.URL.Path
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if got := req["model"]; got != defaultOpenRouterModel {
			t.Fatalf("expected default model %q, got %v", defaultOpenRouterModel, got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Providers.OpenRouter.APIBase = server.URL
	cfg.Agents.Defaults.Provider = ""

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	resp, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, ToolChoice{}, "", nil)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "ok" {
		t.Fatalf("expected response content ok, got %q", resp.Content)
	}
	if seenAuth != "Bearer or-key" {
		t.Fatalf("expected openrouter auth bearer, got %q", seenAuth)
	}
	if seenPath != "/chat/completions" {
		t.Fatalf("expected /chat/completions path, got %q", seenPath)
	}
}

func TestCreateProvider_ConfiguredModelOverridesDefault(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Providers.OpenRouter.APIKey = "or-key"
	cfg.Agents.Defaults.Model = "anthropic/claude-sonnet"

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if got := provider.GetDefaultModel(); got != "anthropic/claude-sonnet" {
		t.Fatalf("expected configured model, got %q", got)
	}

	cfg.Agents.Defaults.Model = ""
	provider, err = CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	if got := provider.GetDefaultModel(); got != defaultOpenRouterModel {
		t.Fatalf("expected fallback model %q, got %q", defaultOpenRouterModel, got)
	}
}

func TestCreateProvider_OpenAI_ForcedToolChoice(t *testing.T) {
	var seenAuth string
	var seenOrg string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenAuth = r.Header.Get("Authorization")
		seenOrg = r.Header.Get("OpenAI-Organization")

		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if got := req["model"]; got != "gpt-5" {
			t.Fatalf("expected model override gpt-5, got %v", got)
		}
		if _, ok := req["tools"]; !ok {
			t.Fatalf("expected tools in request")
		}
		choice, ok := req["tool_choice"].(map[string]interface{})
		if !ok {
			t.Fatalf("expected forced tool_choice object, got %v", req["tool_choice"])
		}
		fn, _ := choice["function"].(map[string]interface{})
		if fn["name"] != "add_task" {
			t.Fatalf("expected forced function add_task, got %v", fn["name"])
		}
		if got := req["max_tokens"]; got != float64(128) {
			t.Fatalf("expected max_tokens 128, got %v", got)
		}
		if got := req["temperature"]; got != 0.3 {
			t.Fatalf("expected temperature 0.3, got %v", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {
							"name": "add_task",
							"arguments": "{\"description\":\"practice scales\"}"
						}
					}]
				},
				"finish_reason": "tool_calls"
			}]
		}`))
	}))
	defer server.Close()

	cfg := config.DefaultConfig()
	cfg.Agents.Defaults.Provider = ProviderOpenAI
	cfg.Providers.OpenAI.APIKey = "sk-openai"
	cfg.Providers.OpenAI.APIBase = server.URL
	cfg.Providers.OpenAI.Organization = "org_123"

	provider, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}

	resp, err := provider.Chat(context.Background(), []Message{{Role: "user", Content: "remind me"}}, []ToolDefinition{{
		Type: "function",
		Function: ToolFunctionDefinition{
			Name:       "add_task",
			Parameters: map[string]interface{}{"type": "object"},
		},
	}}, ToolChoiceFunction("add_task"), "gpt-5", map[string]interface{}{"max_tokens": 128, "temperature": 0.3})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %d", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Function == nil || resp.ToolCalls[0].Function.Name != "add_task" {
		t.Fatalf("unexpected tool call: %+v", resp.ToolCalls[0])
	}
	if resp.FinishReason != "tool_calls" {
		t.Fatalf("expected finish_reason tool_calls, got %q", resp.FinishReason)
	}
	if seenAuth != "Bearer sk-openai" {
		t.Fatalf("expected openai auth bearer, got %q", seenAuth)
	}
	if seenOrg != "org_123" {
		t.Fatalf("expected organization header, got %q", seenOrg)
	}
}

func TestChat_ErrorBodyExtraction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"rate_limit"}}`))
	}))
	defer server.Close()

	provider, err := newChatCompletionsProvider("openrouter", server.URL, "m", "key", "", nil)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	_, err = provider.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, ToolChoice{}, "", nil)
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	if !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("expected extracted API error message, got %v", err)
	}
	if !strings.Contains(err.Error(), "status=429") {
		t.Fatalf("expected status code in error, got %v", err)
	}
}

func TestToolChoiceRequestValue(t *testing.T) {
	if got := (ToolChoice{}).requestValue(); got != nil {
		t.Fatalf("expected nil for zero tool choice, got %v", got)
	}
	if got := ToolChoiceRequired().requestValue(); got != "required" {
		t.Fatalf("expected required, got %v", got)
	}
	forced, ok := ToolChoiceFunction("lookup").requestValue().(map[string]interface{})
	if !ok {
		t.Fatalf("expected map for forced function choice")
	}
	fn, _ := forced["function"].(map[string]interface{})
	if fn["name"] != "lookup" {
		t.Fatalf("expected forced function lookup, got %v", fn["name"])
	}
}

func TestFlattenMessageContent_Parts(t *testing.T) {
	parts := []interface{}{
		map[string]interface{}{"type": "text", "text": "hello "},
		map[string]interface{}{"type": "text", "text": "world"},
		"ignored",
	}
	if got := flattenMessageContent(parts); got != "hello world" {
		t.Fatalf("expected joined parts, got %q", got)
	}
	if got := flattenMessageContent("plain"); got != "plain" {
		t.Fatalf("expected passthrough string, got %q", got)
	}
	if got := flattenMessageContent(nil); got != "" {
		t.Fatalf("expected empty for nil content, got %q", got)
	}
}
