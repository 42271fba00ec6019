package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/edgy-raven/helper-chatbot/pkg/logger"
	"github.com/edgy-raven/helper-chatbot/pkg/providers"
	"github.com/edgy-raven/helper-chatbot/pkg/query"
)

const dispatchTemperature = 0.4

// Dispatcher forces the model to select registered actions for a turn and
// runs them. The caller guarantees a fallback free-form reply tool is
// registered, so a selection always exists.
type Dispatcher[T any] struct {
	Registry *Registry[T]
	Provider providers.LLMProvider
}

// Dispatch assembles the turn context as background JSON, forces a tool
// selection, executes every returned call in order, and joins the textual
// results with newlines. A missing required call propagates as
// query.ErrToolCallMissing, fatal to the turn.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, turn T, systemContext map[string]interface{}, input string) (string, error) {
	contextJSON, err := json.MarshalIndent(systemContext, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal turn context: %w", err)
	}
	logger.DebugCF("dispatch", "dispatching turn", map[string]interface{}{
		"tools": d.Registry.List(),
	})

	messages := []providers.Message{
		{
			Role: "system",
			Content: "Context JSON: " + string(contextJSON) + "\n\n" +
				"Use registered tools when they apply to the user's request. " +
				"If no tool applies, call the respond_normally tool." +
				"You MUST call a tool.",
		},
		{Role: "user", Content: input},
	}

	calls, err := query.RunRequiredToolCall(ctx, d.Provider, messages, d.Registry.Definitions(), dispatchTemperature, nil)
	if err != nil {
		return "", err
	}

	actions := make([]string, 0, len(calls))
	for _, call := range calls {
		if call.Function == nil {
			continue
		}
		args, err := decodeCallArguments(call)
		if err != nil {
			return "", fmt.Errorf("tool %q: %w", call.Function.Name, err)
		}
		result, err := d.Registry.Execute(ctx, call.Function.Name, turn, args)
		if err != nil {
			return "", err
		}
		actions = append(actions, result)
	}
	return strings.Join(actions, "\n"), nil
}

func decodeCallArguments(call providers.ToolCall) (map[string]interface{}, error) {
	raw := strings.TrimSpace(call.Function.Arguments)
	if raw == "" {
		raw = "{}"
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	return args, nil
}
