package agent

import "time"

const (
	DefaultMaxHistory = 20
	DefaultMaxRounds  = 5
)

// Canned replies. None of them carries error detail.
const (
	NotUnderstoodText = "I didn't understand that. Please try again."
	ExhaustedText     = "I completed part of your request but it needed more steps than I can take at once. Tell me if you'd like me to continue."
	ApologyText       = "Something went wrong. Please try again."
)

const SystemPrompt = `You are TodoAssistant, a helpful AI that manages the user's todo list.

## Your Capabilities (via tools)
- add_task: Create new tasks
- list_tasks: View tasks (all, pending, or completed)
- complete_task: Mark tasks as done
- delete_task: Remove tasks
- update_task: Modify task title or description

## Behavioral Rules
1. ALWAYS use tools to access or modify tasks. Never guess task data.
2. CONFIRM every action with a clear, friendly response.
3. When listing tasks, format them in a readable way.
4. If a task is not found, inform the user politely.
5. Ask for clarification if the user's intent is ambiguous.
6. Never fabricate task information not returned by tools.
7. Refer to tasks by their ID when confirming actions.

## Tool Chaining Rules
When the user's request requires multiple operations:
1. First use list_tasks to find the relevant task(s)
2. Then perform the requested action (complete, delete, update)
3. Confirm what was done with specific task details

## Response Style
- Be concise but friendly
- Use natural language, not technical jargon
- Acknowledge what the user asked for
- Confirm what action was taken
- Include task IDs in confirmations for clarity
`

// Config bounds one turn of the agent.
type Config struct {
	SystemPrompt string
	// MaxHistory is the number of stored messages replayed to the model.
	MaxHistory int
	// MaxRounds caps model invocations per turn. Rate limit retries of the
	// same call do not count.
	MaxRounds   int
	Temperature float64
	MaxTokens   int64

	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMultiplier  float64
	RetryMaxDelay    time.Duration
}

func DefaultConfig() Config {
	return Config{
		SystemPrompt:     SystemPrompt,
		MaxHistory:       DefaultMaxHistory,
		MaxRounds:        DefaultMaxRounds,
		Temperature:      0.7,
		MaxTokens:        1024,
		RetryMaxAttempts: 5,
		RetryBaseDelay:   time.Second,
		RetryMultiplier:  2,
		RetryMaxDelay:    20 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SystemPrompt == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = d.MaxHistory
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = d.MaxRounds
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = d.RetryMaxAttempts
	}
	if c.RetryMultiplier < 1 {
		c.RetryMultiplier = d.RetryMultiplier
	}
	return c
}
