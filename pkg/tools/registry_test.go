package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/edgy-raven/helper-chatbot/pkg/providers"
	"github.com/edgy-raven/helper-chatbot/pkg/query"
)

type fakeTurn struct {
	identity string
}

func stubTool(name string, result string, calls *int) Tool[*fakeTurn] {
	return Tool[*fakeTurn]{
		Name:        name,
		Description: "stub tool",
		Parameters:  map[string]interface{}{"type": "object"},
		Handler: func(_ context.Context, _ *fakeTurn, _ map[string]interface{}) (string, error) {
			if calls != nil {
				*calls++
			}
			return result, nil
		},
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	registry := NewRegistry[*fakeTurn]()
	if err := registry.Register(stubTool("add_task", "ok", nil)); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	err := registry.Register(stubTool("add_task", "other", nil))
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
	if registry.Count() != 1 {
		t.Fatalf("expected single registration, got %d", registry.Count())
	}
}

func TestRegistry_DefinitionsSortedByName(t *testing.T) {
	registry := NewRegistry[*fakeTurn]()
	registry.MustRegister(stubTool("update_progress", "ok", nil))
	registry.MustRegister(stubTool("add_task", "ok", nil))
	registry.MustRegister(stubTool("respond_normally", "ok", nil))

	defs := registry.Definitions()
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Function.Name)
	}
	want := []string{"add_task", "respond_normally", "update_progress"}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("expected sorted definitions %v, got %v", want, names)
		}
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	registry := NewRegistry[*fakeTurn]()
	if _, err := registry.Execute(context.Background(), "ghost", &fakeTurn{}, nil); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestSanitizeToolArgs(t *testing.T) {
	args := map[string]interface{}{
		"description": "water the plants",
		"api_key":     "sk-very-secret",
		"nested": map[string]interface{}{
			"password": "hunter2",
			"note":     "fine",
		},
	}
	sanitized := sanitizeToolArgs(args)
	if sanitized["api_key"] != "<redacted>" {
		t.Fatalf("expected api_key redacted, got %v", sanitized["api_key"])
	}
	nested := sanitized["nested"].(map[string]interface{})
	if nested["password"] != "<redacted>" {
		t.Fatalf("expected nested password redacted, got %v", nested["password"])
	}
	if nested["note"] != "fine" {
		t.Fatalf("expected benign value untouched, got %v", nested["note"])
	}
	if sanitized["description"] != "water the plants" {
		t.Fatalf("expected description untouched, got %v", sanitized["description"])
	}
}

// dispatchProvider forces a scripted sequence of tool calls.
type dispatchProvider struct {
	calls []providers.ToolCall
	noise bool
	seen  int
}

func (p *dispatchProvider) Chat(_ context.Context, _ []providers.Message, _ []providers.ToolDefinition, choice providers.ToolChoice, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	p.seen++
	if !choice.Required() {
		return nil, errors.New("dispatch must require a tool choice")
	}
	if p.noise && p.seen == 1 {
		return &providers.LLMResponse{Content: "chatty non-answer"}, nil
	}
	return &providers.LLMResponse{ToolCalls: p.calls, FinishReason: "tool_calls"}, nil
}

func (p *dispatchProvider) GetDefaultModel() string { return "test-model" }

func TestDispatch_SingleToolInvocation(t *testing.T) {
	registry := NewRegistry[*fakeTurn]()
	handlerCalls := 0
	registry.MustRegister(Tool[*fakeTurn]{
		Name:        "add_task",
		Description: "Add a task for the user.",
		Parameters:  map[string]interface{}{"type": "object"},
		Handler: func(_ context.Context, turn *fakeTurn, args map[string]interface{}) (string, error) {
			handlerCalls++
			if args["task_type"] != "daily" || args["description"] != "stretch" {
				t.Fatalf("unexpected args: %+v", args)
			}
			return "Added daily task: stretch", nil
		},
	})

	provider := &dispatchProvider{calls: []providers.ToolCall{{
		ID:       "call_1",
		Type:     "function",
		Function: &providers.FunctionCall{Name: "add_task", Arguments: `{"task_type":"daily","description":"stretch"}`},
	}}}
	d := &Dispatcher[*fakeTurn]{Registry: registry, Provider: provider}

	result, err := d.Dispatch(context.Background(), &fakeTurn{identity: "42"}, map[string]interface{}{"input_text": "remind me to stretch"}, "remind me to stretch")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if handlerCalls != 1 {
		t.Fatalf("expected exactly one handler invocation, got %d", handlerCalls)
	}
	if result == "" {
		t.Fatal("expected non-empty confirmation string")
	}
}

func TestDispatch_MultipleCallsJoinedInOrder(t *testing.T) {
	registry := NewRegistry[*fakeTurn]()
	registry.MustRegister(stubTool("first", "one", nil))
	registry.MustRegister(stubTool("second", "two", nil))

	provider := &dispatchProvider{calls: []providers.ToolCall{
		{ID: "a", Type: "function", Function: &providers.FunctionCall{Name: "first", Arguments: `{}`}},
		{ID: "b", Type: "function", Function: &providers.FunctionCall{Name: "second", Arguments: `{}`}},
	}}
	d := &Dispatcher[*fakeTurn]{Registry: registry, Provider: provider}

	result, err := d.Dispatch(context.Background(), &fakeTurn{}, nil, "go")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result != "one\ntwo" {
		t.Fatalf("expected results joined with newlines in order, got %q", result)
	}
}

func TestDispatch_MissingToolCallIsFatal(t *testing.T) {
	registry := NewRegistry[*fakeTurn]()
	registry.MustRegister(stubTool("respond_normally", "hi", nil))

	provider := &dispatchProvider{noise: true, calls: nil}
	provider.calls = []providers.ToolCall{}
	d := &Dispatcher[*fakeTurn]{Registry: registry, Provider: provider}

	_, err := d.Dispatch(context.Background(), &fakeTurn{}, nil, "go")
	if !errors.Is(err, query.ErrToolCallMissing) {
		t.Fatalf("expected ErrToolCallMissing, got %v", err)
	}
}
