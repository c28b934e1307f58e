// Package tools defines the operations the model may invoke and the
// registry that dispatches them.
package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"taskchat/llm"
	"taskchat/platform"
)

// UserIDArg is the argument key carrying the authenticated user. It is set by
// the caller of Execute and never taken from the model.
const UserIDArg = "user_id"

// Result is the structured value a tool returns. Expected failures are
// reported as error results rather than Go errors.
type Result map[string]any

// ErrorKind tags an error Result.
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindNotFound            ErrorKind = "not_found"
	KindInternal            ErrorKind = "internal"
	KindUnknownTool         ErrorKind = "unknown_tool"
	KindToolExecutionFailed ErrorKind = "tool_execution_failed"
)

// ErrorResult builds {error: kind, message, ...context}.
func ErrorResult(kind ErrorKind, message string, extra map[string]any) Result {
	result := Result{}
	for k, v := range extra {
		result[k] = v
	}
	result["error"] = string(kind)
	result["message"] = message
	return result
}

// IsError reports whether r is an error result and returns its kind.
func (r Result) IsError() (ErrorKind, bool) {
	kind, ok := r["error"].(string)
	if !ok {
		return "", false
	}
	return ErrorKind(kind), true
}

// Handler runs a tool. A returned error is treated as an unexpected failure.
type Handler func(ctx context.Context, args Args) (Result, error)

// Tool represents a callable tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry holds available tools. It is not modified after construction and
// is safe for concurrent use.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *logrus.Logger
}

func NewRegistry(logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = platform.Logger
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger,
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(tool *Tool) {
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

func (r *Registry) Get(name string) (*Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions returns the schemas shown to the model, in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		defs = append(defs, llm.ToolDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.Parameters,
		})
	}
	return defs
}

// Execute runs the named tool. It always returns a Result: unknown names,
// handler errors and panics are converted into error results, and their
// detail only goes to the log.
func (r *Registry) Execute(ctx context.Context, name string, args Args) (result Result) {
	tool, ok := r.tools[name]
	if !ok {
		platform.ToolCallsTotal.WithLabelValues("unknown", string(KindUnknownTool)).Inc()
		return ErrorResult(KindUnknownTool, fmt.Sprintf("Tool %q is not available", name), nil)
	}

	start := time.Now()
	log := r.logger.WithFields(logrus.Fields{"tool": name})
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("tool panicked: %v", rec)
			result = executionFailed()
		}
		platform.ToolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		status := "ok"
		if kind, isErr := result.IsError(); isErr {
			status = string(kind)
		}
		platform.ToolCallsTotal.WithLabelValues(name, status).Inc()
	}()

	res, err := tool.Handler(ctx, args)
	if err != nil {
		log.Errorf("tool execution failed: %v", err)
		return executionFailed()
	}
	if res == nil {
		return Result{}
	}
	return res
}

func executionFailed() Result {
	return ErrorResult(KindToolExecutionFailed, "The tool failed to run", nil)
}
