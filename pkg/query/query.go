// Package query issues single structured prompts against the LLM provider.
// Callers get either free text or parsed tool arguments, with output-length
// budgets escalated on failure.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/edgy-raven/helper-chatbot/pkg/logger"
	"github.com/edgy-raven/helper-chatbot/pkg/providers"
)

// ErrToolCallMissing is returned when a tool call was required but the model
// never produced one after every length budget was tried. Fatal to the turn.
var ErrToolCallMissing = errors.New("expected tool call but model did not return one")

// DefaultTokenBudgets is the escalation ladder used when a querier does not
// set its own.
var DefaultTokenBudgets = []int{200, 320}

// Result holds exactly one of Arguments (forced tool call) or Response
// (free text).
type Result struct {
	Arguments map[string]interface{}
	Response  string
}

// Querier is a reusable prompt: fixed instructions, optional persona and
// forced tool, run against varying inputs.
type Querier struct {
	Instructions string
	Persona      string
	Tool         *providers.ToolDefinition
	Temperature  float64
	TokenBudgets []int
	Model        string
}

func (q *Querier) effectiveInstructions() string {
	if q.Persona != "" {
		return q.Instructions + "\nFollow the persona provided in background_information."
	}
	return q.Instructions
}

func (q *Querier) systemMessage(systemContext map[string]interface{}) (string, error) {
	var parts []string
	if q.Persona != "" || systemContext != nil {
		background := map[string]interface{}{}
		if q.Persona != "" {
			background["persona"] = q.Persona
		}
		if systemContext != nil {
			background["system_context"] = systemContext
		}
		encoded, err := json.Marshal(background)
		if err != nil {
			return "", fmt.Errorf("marshal background information: %w", err)
		}
		parts = append(parts,
			"<background_information>",
			string(encoded),
			"</background_information>",
		)
	}
	parts = append(parts,
		"<instructions>",
		q.effectiveInstructions(),
		"</instructions>",
		"## Tool guidance",
		"Use the given tool when appropriate; if a tool is configured, call it.",
		"## Output description",
		"Return a concise reply or required tool arguments.",
	)
	return strings.Join(parts, "\n"), nil
}

// Run issues the prompt, escalating through the token budgets. With a tool
// configured the first budget yielding JSON-object arguments wins; without
// one the first budget yielding non-empty text wins. Transport errors
// propagate immediately and are never retried.
func (q *Querier) Run(ctx context.Context, provider providers.LLMProvider, input string, systemContext map[string]interface{}, tokenBudgets []int) (*Result, error) {
	system, err := q.systemMessage(systemContext)
	if err != nil {
		return nil, err
	}
	messages := []providers.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: input},
	}

	var tools []providers.ToolDefinition
	toolChoice := providers.ToolChoice{}
	if q.Tool != nil {
		tools = []providers.ToolDefinition{*q.Tool}
		toolChoice = providers.ToolChoiceFunction(q.Tool.Function.Name)
	}

	budgets := tokenBudgets
	if len(budgets) == 0 {
		budgets = q.TokenBudgets
	}
	if len(budgets) == 0 {
		budgets = DefaultTokenBudgets
	}

	for i, maxTokens := range budgets {
		if i > 0 {
			logger.DebugCF("query", "escalating token budget", map[string]interface{}{
				"attempt":    i + 1,
				"max_tokens": maxTokens,
			})
		}
		resp, err := provider.Chat(ctx, messages, tools, toolChoice, q.Model, map[string]interface{}{
			"temperature": q.Temperature,
			"max_tokens":  maxTokens,
		})
		if err != nil {
			return nil, err
		}

		if len(resp.ToolCalls) > 0 {
			args, ok := parseObjectArguments(resp.ToolCalls[0])
			if ok {
				return &Result{Arguments: args}, nil
			}
			continue
		}
		if q.Tool == nil && strings.TrimSpace(resp.Content) != "" {
			return &Result{Response: resp.Content}, nil
		}
	}

	if q.Tool != nil {
		return nil, fmt.Errorf("querier %q: %w", q.Tool.Function.Name, ErrToolCallMissing)
	}
	return &Result{Response: ""}, nil
}

// RunRequiredToolCall forces the model to pick some tool from the supplied
// set, escalating budgets the same way Run does. Used by the dispatch
// orchestrator where any registered tool is acceptable.
func RunRequiredToolCall(ctx context.Context, provider providers.LLMProvider, messages []providers.Message, tools []providers.ToolDefinition, temperature float64, tokenBudgets []int) ([]providers.ToolCall, error) {
	budgets := tokenBudgets
	if len(budgets) == 0 {
		budgets = DefaultTokenBudgets
	}
	for _, maxTokens := range budgets {
		resp, err := provider.Chat(ctx, messages, tools, providers.ToolChoiceRequired(), "", map[string]interface{}{
			"temperature": temperature,
			"max_tokens":  maxTokens,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.ToolCalls) > 0 {
			return resp.ToolCalls, nil
		}
	}
	return nil, ErrToolCallMissing
}

// parseObjectArguments accepts only a JSON object; scalars and arrays are
// treated as a failed attempt so the caller escalates.
func parseObjectArguments(call providers.ToolCall) (map[string]interface{}, bool) {
	if call.Function == nil {
		return nil, false
	}
	raw := strings.TrimSpace(call.Function.Arguments)
	if raw == "" {
		raw = "{}"
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, false
	}
	if args == nil {
		args = map[string]interface{}{}
	}
	return args, true
}
