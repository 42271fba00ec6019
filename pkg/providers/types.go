package providers

import "context"

// Message is one entry in the conversation sent to the model.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCall struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Function *FunctionCall `json:"function,omitempty"`
}

type ToolFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type ToolDefinition struct {
	Type     string                 `json:"type"`
	Function ToolFunctionDefinition `json:"function"`
}

// ToolChoice controls how the model may use the supplied tools.
// The zero value lets the model decide freely.
type ToolChoice struct {
	required bool
	function string
}

// ToolChoiceRequired forces the model to call some registered tool.
func ToolChoiceRequired() ToolChoice {
	return ToolChoice{required: true}
}

// ToolChoiceFunction forces the model to call the named tool.
func ToolChoiceFunction(name string) ToolChoice {
	return ToolChoice{function: name}
}

// Required reports whether the choice forces some tool call.
func (tc ToolChoice) Required() bool {
	return tc.required || tc.function != ""
}

func (tc ToolChoice) requestValue() interface{} {
	if tc.function != "" {
		return map[string]interface{}{
			"type":     "function",
			"function": map[string]interface{}{"name": tc.function},
		}
	}
	if tc.required {
		return "required"
	}
	return nil
}

type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// LLMProvider is the single abstraction over the generative service.
// Implementations never retry after a transport error; callers own any
// retry policy (output-length budget escalation lives in pkg/query).
type LLMProvider interface {
	Chat(ctx context.Context, messages []Message, tools []ToolDefinition, toolChoice ToolChoice, model string, options map[string]interface{}) (*LLMResponse, error)
	GetDefaultModel() string
}
