package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/sirupsen/logrus"
)

// OpenAIClient calls an OpenAI compatible chat completions endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
	logger *logrus.Logger
}

func NewOpenAIClient(client *openai.Client, model string, logger *logrus.Logger) *OpenAIClient {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OpenAIClient{client: client, model: model, logger: logger}
}

func (c *OpenAIClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    openai.F(toMessageParams(req.Messages)),
		Model:       openai.F(openai.ChatModel(c.model)),
		Temperature: openai.F(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		params.Tools = openai.F(toToolParams(req.Tools))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, &ProviderError{StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	return c.parseCompletion(completion), nil
}

func toMessageParams(messages []Message) []openai.ChatCompletionMessageParamUnion {
	params := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			params = append(params, openai.SystemMessage(m.Content))
		case RoleUser:
			params = append(params, openai.UserMessage(m.Content))
		case RoleAssistant:
			params = append(params, assistantMessageParam(m))
		case RoleTool:
			params = append(params, openai.ToolMessage(m.ToolCallID, m.Content))
		}
	}
	return params
}

func assistantMessageParam(m Message) openai.ChatCompletionAssistantMessageParam {
	var param openai.ChatCompletionAssistantMessageParam
	if m.Content != "" {
		param = openai.AssistantMessage(m.Content)
	} else {
		param = openai.ChatCompletionAssistantMessageParam{
			Role: openai.F(openai.ChatCompletionAssistantMessageParamRoleAssistant),
		}
	}
	if len(m.ToolCalls) == 0 {
		return param
	}

	calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
	for _, call := range m.ToolCalls {
		calls = append(calls, openai.ChatCompletionMessageToolCallParam{
			ID:   openai.F(call.ID),
			Type: openai.F(openai.ChatCompletionMessageToolCallTypeFunction),
			Function: openai.F(openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      openai.F(call.Name),
				Arguments: openai.F(rawArguments(call)),
			}),
		})
	}
	param.ToolCalls = openai.F(calls)
	return param
}

func rawArguments(call ToolCall) string {
	if call.RawArguments != "" {
		return call.RawArguments
	}
	if call.Arguments == nil {
		return "{}"
	}
	raw, err := json.Marshal(call.Arguments)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func toToolParams(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: openai.F(openai.ChatCompletionToolTypeFunction),
			Function: openai.F(openai.FunctionDefinitionParam{
				Name:        openai.String(def.Name),
				Description: openai.String(def.Description),
				Parameters:  openai.F(openai.FunctionParameters(def.Parameters)),
			}),
		})
	}
	return tools
}

// parseCompletion never fails: a completion without choices or content is an
// empty Response, and undecodable tool arguments become an empty map.
func (c *OpenAIClient) parseCompletion(completion *openai.ChatCompletion) *Response {
	resp := &Response{}
	if completion == nil || len(completion.Choices) == 0 {
		return resp
	}

	message := completion.Choices[0].Message
	text := message.Content
	if text == "" {
		text = message.Refusal
	}

	for _, tc := range message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		call := ToolCall{
			ID:           tc.ID,
			Name:         tc.Function.Name,
			RawArguments: tc.Function.Arguments,
			Arguments:    map[string]any{},
		}
		if call.ID == "" {
			call.ID = fmt.Sprintf("call_%d", len(resp.ToolCalls)+1)
		}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &call.Arguments); err != nil || call.Arguments == nil {
				c.logger.WithField("tool", call.Name).Warnf("discarding malformed tool arguments: %v", err)
				call.Arguments = map[string]any{}
				call.RawArguments = "{}"
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, call)
	}
	resp.Text = strings.TrimSpace(text)
	return resp
}
