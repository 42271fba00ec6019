package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/edgy-raven/helper-chatbot/pkg/providers"
)

// scriptedProvider returns its canned responses in order and records every
// request it sees.
type scriptedProvider struct {
	responses []*providers.LLMResponse
	err       error
	calls     int
	seen      []chatRequest
}

type chatRequest struct {
	messages   []providers.Message
	tools      []providers.ToolDefinition
	toolChoice providers.ToolChoice
	options    map[string]interface{}
}

func (s *scriptedProvider) Chat(_ context.Context, messages []providers.Message, tools []providers.ToolDefinition, toolChoice providers.ToolChoice, _ string, options map[string]interface{}) (*providers.LLMResponse, error) {
	s.seen = append(s.seen, chatRequest{messages: messages, tools: tools, toolChoice: toolChoice, options: options})
	if s.err != nil {
		return nil, s.err
	}
	idx := s.calls
	s.calls++
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	return s.responses[idx], nil
}

func (s *scriptedProvider) GetDefaultModel() string { return "test-model" }

func toolCall(name, args string) providers.ToolCall {
	return providers.ToolCall{
		ID:       "call_1",
		Type:     "function",
		Function: &providers.FunctionCall{Name: name, Arguments: args},
	}
}

func TestRun_FreeTextFirstBudget(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "hello there", FinishReason: "stop"},
	}}
	q := &Querier{Instructions: "Reply briefly.", Temperature: 0.4}

	result, err := q.Run(context.Background(), provider, "hi", nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Response != "hello there" {
		t.Fatalf("expected free text response, got %+v", result)
	}
	if provider.calls != 1 {
		t.Fatalf("expected single call, got %d", provider.calls)
	}
	if got := provider.seen[0].options["max_tokens"]; got != 200 {
		t.Fatalf("expected first budget 200, got %v", got)
	}
}

func TestRun_EscalatesBudgetOnMissingToolCall(t *testing.T) {
	tool := &providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionDefinition{
			Name:       "extract_titles",
			Parameters: map[string]interface{}{"type": "object"},
		},
	}
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "no tool call here", FinishReason: "stop"},
		{ToolCalls: []providers.ToolCall{toolCall("extract_titles", `{"titles":["blinding lights"]}`)}, FinishReason: "tool_calls"},
	}}
	q := &Querier{Instructions: "Extract titles.", Tool: tool, Temperature: 0.4}

	result, err := q.Run(context.Background(), provider, "corpus", nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("expected escalation to second budget, got %d calls", provider.calls)
	}
	if got := provider.seen[1].options["max_tokens"]; got != 320 {
		t.Fatalf("expected second budget 320, got %v", got)
	}
	titles, ok := result.Arguments["titles"].([]interface{})
	if !ok || len(titles) != 1 {
		t.Fatalf("expected parsed arguments, got %+v", result.Arguments)
	}
}

func TestRun_ToolCallMissingAfterAllBudgets(t *testing.T) {
	tool := &providers.ToolDefinition{
		Type:     "function",
		Function: providers.ToolFunctionDefinition{Name: "verify_title"},
	}
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "still chatting", FinishReason: "stop"},
	}}
	q := &Querier{Instructions: "Verify.", Tool: tool}

	_, err := q.Run(context.Background(), provider, "x", nil, nil)
	if !errors.Is(err, ErrToolCallMissing) {
		t.Fatalf("expected ErrToolCallMissing, got %v", err)
	}
	if provider.calls != len(DefaultTokenBudgets) {
		t.Fatalf("expected %d attempts, got %d", len(DefaultTokenBudgets), provider.calls)
	}
}

func TestRun_NonObjectArgumentsTreatedAsFailure(t *testing.T) {
	tool := &providers.ToolDefinition{
		Type:     "function",
		Function: providers.ToolFunctionDefinition{Name: "extract_titles"},
	}
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{toolCall("extract_titles", `["not","an","object"]`)}},
		{ToolCalls: []providers.ToolCall{toolCall("extract_titles", `{"titles":[]}`)}},
	}}
	q := &Querier{Instructions: "Extract.", Tool: tool}

	result, err := q.Run(context.Background(), provider, "x", nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if provider.calls != 2 {
		t.Fatalf("expected array arguments to force escalation, got %d calls", provider.calls)
	}
	if result.Arguments == nil {
		t.Fatalf("expected object arguments on second attempt")
	}
}

func TestRun_EmptyContentReturnsEmptyString(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "", FinishReason: "stop"},
	}}
	q := &Querier{Instructions: "Reply."}

	result, err := q.Run(context.Background(), provider, "x", nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Response != "" {
		t.Fatalf("expected empty response, got %q", result.Response)
	}
	if provider.calls != len(DefaultTokenBudgets) {
		t.Fatalf("expected every budget tried, got %d", provider.calls)
	}
}

func TestRun_TransportErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("connection reset")}
	q := &Querier{Instructions: "Reply."}

	_, err := q.Run(context.Background(), provider, "x", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "connection reset") {
		t.Fatalf("expected transport error to propagate, got %v", err)
	}
	if provider.calls != 0 && len(provider.seen) != 1 {
		t.Fatalf("expected no retry after transport error, saw %d requests", len(provider.seen))
	}
}

func TestRun_SystemMessageEmbedsBackground(t *testing.T) {
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "ok"},
	}}
	q := &Querier{Instructions: "Answer in character.", Persona: "a sardonic musician"}

	_, err := q.Run(context.Background(), provider, "hi", map[string]interface{}{"conversation_summary": "they met yesterday"}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	system := provider.seen[0].messages[0]
	if system.Role != "system" {
		t.Fatalf("expected system message first, got role %q", system.Role)
	}
	for _, want := range []string{
		"<background_information>",
		`"persona":"a sardonic musician"`,
		`"conversation_summary":"they met yesterday"`,
		"<instructions>",
		"Follow the persona provided in background_information.",
	} {
		if !strings.Contains(system.Content, want) {
			t.Fatalf("system message missing %q:\n%s", want, system.Content)
		}
	}
	if user := provider.seen[0].messages[1]; user.Role != "user" || user.Content != "hi" {
		t.Fatalf("unexpected user message: %+v", user)
	}
}

func TestRunRequiredToolCall(t *testing.T) {
	tools := []providers.ToolDefinition{{
		Type:     "function",
		Function: providers.ToolFunctionDefinition{Name: "respond_normally"},
	}}
	provider := &scriptedProvider{responses: []*providers.LLMResponse{
		{Content: "no call"},
		{ToolCalls: []providers.ToolCall{toolCall("respond_normally", `{"message":"hey"}`)}},
	}}

	calls, err := RunRequiredToolCall(context.Background(), provider, []providers.Message{{Role: "user", Content: "hi"}}, tools, 0.4, nil)
	if err != nil {
		t.Fatalf("run required tool call: %v", err)
	}
	if len(calls) != 1 || calls[0].Function.Name != "respond_normally" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	if !provider.seen[0].toolChoice.Required() {
		t.Fatalf("expected required tool choice")
	}
}
