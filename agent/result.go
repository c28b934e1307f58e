package agent

import "taskchat/model"

// ToolCallRecord is one tool invocation of a turn. Arguments are what the
// model supplied, without the injected user id.
type ToolCallRecord struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result"`
}

// Result is the complete outcome of one Execute call.
type Result struct {
	ConversationID uint             `json:"conversation_id"`
	Response       string           `json:"response"`
	ToolCalls      []ToolCallRecord `json:"tool_calls"`
}

func errorResult(conversationID uint) Result {
	return Result{
		ConversationID: conversationID,
		Response:       ApologyText,
		ToolCalls:      []ToolCallRecord{},
	}
}

func toModelToolCalls(records []ToolCallRecord) []model.ToolCall {
	if len(records) == 0 {
		return nil
	}
	calls := make([]model.ToolCall, 0, len(records))
	for _, r := range records {
		calls = append(calls, model.ToolCall{
			Tool:      r.Tool,
			Arguments: r.Arguments,
			Result:    r.Result,
		})
	}
	return calls
}
