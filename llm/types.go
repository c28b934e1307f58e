// Package llm talks to the language model provider and normalizes its
// replies into plain text or an ordered list of tool calls.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	// RawArguments is the argument JSON exactly as the provider sent it.
	RawArguments string
}

// Message is one entry of the conversation sent to the model. Assistant
// messages may carry ToolCalls; tool messages answer the call named by
// ToolCallID.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolDefinition is the contract of a tool as shown to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type Request struct {
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int64
}

// Response is the normalized model reply.
type Response struct {
	Text      string
	ToolCalls []ToolCall
}

// Empty reports a reply with neither text nor tool calls.
func (r *Response) Empty() bool {
	return r == nil || (r.Text == "" && len(r.ToolCalls) == 0)
}

// Client issues one model call.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

var ErrRateLimited = errors.New("llm: rate limited")

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("llm provider returned status %d: %v", e.StatusCode, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrRateLimited) true for 429 responses.
func (e *ProviderError) Is(target error) bool {
	return target == ErrRateLimited && e.StatusCode == http.StatusTooManyRequests
}

func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
