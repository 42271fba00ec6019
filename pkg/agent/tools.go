package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/edgy-raven/helper-chatbot/pkg/judge"
	"github.com/edgy-raven/helper-chatbot/pkg/providers"
	"github.com/edgy-raven/helper-chatbot/pkg/query"
	"github.com/edgy-raven/helper-chatbot/pkg/store"
	"github.com/edgy-raven/helper-chatbot/pkg/tools"
)

const respondNormallyInstructions = "Respond naturally to the user's latest message.\n" +
	"Use recent_messages, user.conversation_summary, and global_memory when relevant.\n" +
	"When retrieved_context contains directly relevant retrieved evidence, treat it as the factual source " +
	"and prioritize it over stale summary/global_memory if they conflict.\n" +
	"Base claims on concrete retrieved evidence when possible.\n" +
	"Avoid repeating things from the conversation or global_memory when possible. \n" +
	"Make the conversation feel natural in the context provided."

func respondNormallyQuerier(opts Options) *query.Querier {
	persona := strings.TrimSpace(opts.Persona)
	if persona == "" {
		persona = judge.Persona
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = 0.4
	}
	return &query.Querier{
		Instructions: respondNormallyInstructions,
		Persona:      persona,
		Temperature:  temperature,
	}
}

// RegisterDefaultTools wires the built-in actions into the registry:
// the free-form reply fallback and the task management handlers.
func RegisterDefaultTools(registry *tools.Registry[*TurnContext], st *store.Store, provider providers.LLMProvider, opts Options) error {
	replyQuerier := respondNormallyQuerier(opts)
	toolset := []tools.Tool[*TurnContext]{
		{
			Name:        "respond_normally",
			Description: "Return a natural language reply when no tool action is needed.",
			Parameters: map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
				"required":   []string{},
			},
			Handler: func(ctx context.Context, turn *TurnContext, _ map[string]interface{}) (string, error) {
				result, err := replyQuerier.Run(ctx, provider, turn.InputText, turn.SystemContext(), nil)
				if err != nil {
					return "", err
				}
				return strings.TrimSpace(result.Response), nil
			},
		},
		{
			Name:        "add_task",
			Description: "Add a task for the user.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_type": map[string]interface{}{
						"type": "string",
						"enum": []string{"goal", "daily", "one_off"},
					},
					"description": map[string]interface{}{"type": "string"},
					"due_text":    map[string]interface{}{"type": "string"},
				},
				"required": []string{"task_type", "description"},
			},
			Handler: func(ctx context.Context, turn *TurnContext, args map[string]interface{}) (string, error) {
				taskType, _ := args["task_type"].(string)
				description, _ := args["description"].(string)
				dueText, _ := args["due_text"].(string)
				switch taskType {
				case "goal", "daily", "one_off":
				default:
					return fmt.Sprintf("I can only track goal, daily, or one_off tasks, not %q.", taskType), nil
				}
				if _, err := st.AddTask(ctx, turn.Identity, taskType, description, dueText); err != nil {
					return "", err
				}
				return fmt.Sprintf("Added %s task: %s", taskType, description), nil
			},
		},
		{
			Name:        "update_progress",
			Description: "Update progress for a task. If the progress indicates completion, mark the task as completed.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"task_id":           map[string]interface{}{"type": "integer"},
					"progress":          map[string]interface{}{"type": "string"},
					"is_task_completed": map[string]interface{}{"type": "boolean"},
				},
				"required": []string{"task_id", "progress", "is_task_completed"},
			},
			Handler: func(ctx context.Context, turn *TurnContext, args map[string]interface{}) (string, error) {
				taskID := int64Arg(args, "task_id")
				progress, _ := args["progress"].(string)
				completed, _ := args["is_task_completed"].(bool)
				updated, err := st.UpdateTaskProgress(ctx, turn.Identity, taskID, progress, completed)
				if err != nil {
					return "", err
				}
				if !updated {
					return fmt.Sprintf("Task %d not found for this user.", taskID), nil
				}
				suffix := ""
				if completed {
					suffix = " and marked complete"
				}
				return fmt.Sprintf("Updated task %d: %s%s", taskID, progress, suffix), nil
			},
		},
	}
	for _, tool := range toolset {
		if err := registry.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

func int64Arg(args map[string]interface{}, key string) int64 {
	switch v := args[key].(type) {
	case float64:
		return int64(v)
	case int:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}
