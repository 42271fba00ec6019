// Package tools holds the action registry and the dispatch orchestrator
// that forces the model to select exactly one registered action per turn.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/edgy-raven/helper-chatbot/pkg/logger"
	"github.com/edgy-raven/helper-chatbot/pkg/providers"
)

// ErrDuplicateTool is returned when two tools are registered under the same
// name. Registration happens once at startup, so this is a programming
// error worth failing loudly on.
var ErrDuplicateTool = errors.New("tool already registered")

// Handler executes one action against the current turn. A handler that
// cannot locate required state must return a user-facing explanatory string
// rather than an error; errors are reserved for faults that should fail the
// turn.
type Handler[T any] func(ctx context.Context, turn T, args map[string]interface{}) (string, error)

// Tool couples the schema the model sees with the handler that runs.
type Tool[T any] struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     Handler[T]
}

// Registry is the process-wide name-to-handler table. Populated at startup,
// read-only afterward.
type Registry[T any] struct {
	mu    sync.RWMutex
	tools map[string]Tool[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{tools: make(map[string]Tool[T])}
}

func (r *Registry[T]) Register(tool Tool[T]) error {
	if strings.TrimSpace(tool.Name) == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %q: handler is required", tool.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %q: %w", tool.Name, ErrDuplicateTool)
	}
	r.tools[tool.Name] = tool
	return nil
}

// MustRegister panics on registration failure. Intended for the fixed
// startup wiring where a duplicate name is a bug.
func (r *Registry[T]) MustRegister(tool Tool[T]) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

func (r *Registry[T]) Get(name string) (Tool[T], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// List returns all registered tool names, sorted.
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns the provider-format schemas for every registered
// tool, in name order so request payloads are stable.
func (r *Registry[T]) Definitions() []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	definitions := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		tool := r.tools[name]
		definitions = append(definitions, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}
	return definitions
}

// Execute runs the named tool. Arguments are sanitized before logging so
// secrets never reach the log stream.
func (r *Registry[T]) Execute(ctx context.Context, name string, turn T, args map[string]interface{}) (string, error) {
	logger.InfoCF("tool", "tool execution started", map[string]interface{}{
		"tool": name,
		"args": sanitizeToolArgs(args),
	})
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("tool %q not found", name)
	}
	result, err := tool.Handler(ctx, turn, args)
	if err != nil {
		logger.ErrorCF("tool", "tool execution failed", map[string]interface{}{
			"tool":  name,
			"error": err.Error(),
		})
		return "", err
	}
	logger.InfoCF("tool", "tool execution completed", map[string]interface{}{
		"tool":          name,
		"result_length": len(result),
	})
	return result, nil
}

var sensitiveArgKeyFragments = []string{
	"api_key",
	"apikey",
	"authorization",
	"auth",
	"bearer",
	"client_secret",
	"cookie",
	"password",
	"private",
	"secret",
	"session",
	"token",
}

func sanitizeToolArgs(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	sanitized := make(map[string]interface{}, len(args))
	for key, value := range args {
		sanitized[key] = sanitizeToolArgValue(key, value, 0)
	}
	return sanitized
}

func sanitizeToolArgValue(key string, value interface{}, depth int) interface{} {
	if depth > 6 {
		return "<omitted>"
	}
	if isSensitiveArgKey(key) {
		return "<redacted>"
	}

	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = sanitizeToolArgValue(k, v, depth+1)
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(typed))
		for _, item := range typed {
			out = append(out, sanitizeToolArgValue(key, item, depth+1))
		}
		return out
	case string:
		return truncateLogString(typed)
	default:
		return value
	}
}

func isSensitiveArgKey(key string) bool {
	normalized := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(key), "-", "_"))
	for _, fragment := range sensitiveArgKeyFragments {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

func truncateLogString(value string) string {
	const maxLen = 256
	if len(value) <= maxLen {
		return value
	}
	return value[:maxLen] + "...(truncated)"
}
