// Package agent runs one chat turn: it hydrates the conversation, lets the
// model call task tools until it answers in text, and persists the exchange.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"taskchat/llm"
	"taskchat/model"
	"taskchat/platform"
	"taskchat/retry"
	"taskchat/tools"
)

// ConversationStore is the user scoped conversation metadata store.
type ConversationStore interface {
	Create(ctx context.Context) (*model.Conversation, error)
	// GetByID returns model.ErrConversationNotFound for ids the user does not own.
	GetByID(ctx context.Context, id uint) (*model.Conversation, error)
	UpdateTimestamp(ctx context.Context, id uint) error
}

// MessageStore is the user scoped append-only message log.
type MessageStore interface {
	Add(ctx context.Context, conversationID uint, role, content string, toolCalls []model.ToolCall) (*model.Message, error)
	// GetHistory returns the messages oldest first.
	GetHistory(ctx context.Context, conversationID uint) ([]model.Message, error)
}

// ToolExecutor runs tools on behalf of the model. Execute never fails; errors
// are part of the returned result.
type ToolExecutor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name string, args tools.Args) tools.Result
}

type terminalState string

const (
	stateFinalText terminalState = "final_text"
	stateExhausted terminalState = "exhausted"
	stateFatal     terminalState = "fatal"
)

// Executor runs turns for a single authenticated user. It holds no state
// between calls and may be discarded after Execute returns.
type Executor struct {
	userID        string
	conversations ConversationStore
	messages      MessageStore
	model         llm.Client
	tools         ToolExecutor
	cfg           Config
	logger        *logrus.Logger
	sleep         func(ctx context.Context, d time.Duration) error
}

type Option func(*Executor)

func WithLogger(logger *logrus.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

func NewExecutor(
	userID string,
	conversations ConversationStore,
	messages MessageStore,
	client llm.Client,
	toolExecutor ToolExecutor,
	cfg Config,
	opts ...Option,
) *Executor {
	e := &Executor{
		userID:        userID,
		conversations: conversations,
		messages:      messages,
		model:         client,
		tools:         toolExecutor,
		cfg:           cfg.withDefaults(),
		logger:        platform.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type outcome struct {
	text   string
	trace  []ToolCallRecord
	state  terminalState
	rounds int
}

// Execute processes one user message. A nil conversationID, or one that does
// not belong to the user, starts a new conversation. Execute never returns
// an error: failures yield an apology Result that keeps the conversation id
// when it is already known. Cancellation of ctx does not abort a running turn;
// only the round bound ends it.
func (e *Executor) Execute(ctx context.Context, message string, conversationID *uint) (result Result) {
	ctx = context.WithoutCancel(ctx)
	var convID uint
	log := e.logger.WithField("user_id", e.userID)

	defer func() {
		if rec := recover(); rec != nil {
			log.WithField("conversation_id", convID).Errorf("agent execution panicked: %v\n%s", rec, debug.Stack())
			platform.TurnsTotal.WithLabelValues(string(stateFatal)).Inc()
			result = errorResult(convID)
		}
	}()

	fail := func(err error) Result {
		log.WithField("conversation_id", convID).Errorf("agent execution failed: %v", err)
		platform.TurnsTotal.WithLabelValues(string(stateFatal)).Inc()
		return errorResult(convID)
	}

	id, buffer, err := e.hydrate(ctx, conversationID, log)
	convID = id
	if err != nil {
		return fail(err)
	}
	log = log.WithField("conversation_id", convID)

	if err := e.appendUserMessage(ctx, convID, message); err != nil {
		return fail(err)
	}
	buffer = append(buffer, llm.Message{Role: llm.RoleUser, Content: message})

	out, err := e.invoke(ctx, buffer, log)
	if err != nil {
		return fail(err)
	}

	if err := e.persist(ctx, convID, out); err != nil {
		return fail(err)
	}

	platform.TurnsTotal.WithLabelValues(string(out.state)).Inc()
	platform.ModelRounds.Observe(float64(out.rounds))
	log.WithFields(logrus.Fields{
		"state":      out.state,
		"rounds":     out.rounds,
		"tool_calls": len(out.trace),
	}).Info("turn finished")

	return Result{
		ConversationID: convID,
		Response:       out.text,
		ToolCalls:      out.trace,
	}
}

// hydrate resolves the conversation and builds the initial turn buffer: the
// system instruction followed by at most MaxHistory stored messages.
func (e *Executor) hydrate(ctx context.Context, conversationID *uint, log *logrus.Entry) (uint, []llm.Message, error) {
	buffer := []llm.Message{{Role: llm.RoleSystem, Content: e.cfg.SystemPrompt}}

	if conversationID != nil {
		conversation, err := e.conversations.GetByID(ctx, *conversationID)
		switch {
		case err == nil:
			history, err := e.messages.GetHistory(ctx, conversation.ID)
			if err != nil {
				return conversation.ID, nil, fmt.Errorf("failed to load history: %w", err)
			}
			if len(history) > e.cfg.MaxHistory {
				history = history[len(history)-e.cfg.MaxHistory:]
			}
			for _, m := range history {
				switch m.Role {
				case model.MessageRoleUser:
					buffer = append(buffer, llm.Message{Role: llm.RoleUser, Content: m.Content})
				case model.MessageRoleAssistant:
					buffer = append(buffer, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
				}
			}
			return conversation.ID, buffer, nil
		case errors.Is(err, model.ErrConversationNotFound):
			log.WithField("requested_conversation_id", *conversationID).Info("conversation not found, starting a new one")
		default:
			return 0, nil, fmt.Errorf("failed to load conversation: %w", err)
		}
	}

	conversation, err := e.conversations.Create(ctx)
	if err != nil {
		return 0, nil, err
	}
	return conversation.ID, buffer, nil
}

func (e *Executor) appendUserMessage(ctx context.Context, conversationID uint, message string) error {
	if _, err := e.messages.Add(ctx, conversationID, model.MessageRoleUser, message, nil); err != nil {
		return err
	}
	return e.conversations.UpdateTimestamp(ctx, conversationID)
}

// invoke runs the tool calling loop for at most MaxRounds model calls.
func (e *Executor) invoke(ctx context.Context, buffer []llm.Message, log *logrus.Entry) (outcome, error) {
	out := outcome{trace: []ToolCallRecord{}}
	definitions := e.tools.Definitions()
	policy := retry.Policy{
		MaxAttempts: e.cfg.RetryMaxAttempts,
		BaseDelay:   e.cfg.RetryBaseDelay,
		Multiplier:  e.cfg.RetryMultiplier,
		MaxDelay:    e.cfg.RetryMaxDelay,
		Retryable:   llm.IsRateLimited,
		Sleep:       e.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			platform.RateLimitRetries.Inc()
			log.Warnf("rate limited by model provider, retry %d in %s", attempt, delay)
		},
	}

	for out.rounds < e.cfg.MaxRounds {
		out.rounds++
		req := llm.Request{
			Messages:    buffer,
			Tools:       definitions,
			Temperature: e.cfg.Temperature,
			MaxTokens:   e.cfg.MaxTokens,
		}
		resp, err := retry.Do(ctx, policy, func(ctx context.Context) (*llm.Response, error) {
			return e.model.Complete(ctx, req)
		})
		if err != nil {
			out.state = stateFatal
			return out, fmt.Errorf("model call failed in round %d: %w", out.rounds, err)
		}

		if resp.Empty() {
			out.text, out.state = NotUnderstoodText, stateFinalText
			return out, nil
		}
		if len(resp.ToolCalls) == 0 {
			out.text, out.state = resp.Text, stateFinalText
			return out, nil
		}

		buffer = append(buffer, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			args := tools.Args(call.Arguments)
			result := e.tools.Execute(ctx, call.Name, args.WithUser(e.userID))
			if kind, isErr := result.IsError(); isErr {
				log.WithFields(logrus.Fields{"tool": call.Name, "round": out.rounds}).Warnf("tool returned %s", kind)
			}

			out.trace = append(out.trace, ToolCallRecord{
				Tool:      call.Name,
				Arguments: args.WithoutUser(),
				Result:    result,
			})
			buffer = append(buffer, llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Name:       call.Name,
				Content:    encodeResult(result),
			})
		}
	}

	out.text, out.state = ExhaustedText, stateExhausted
	log.Warnf("tool chaining stopped after %d rounds", out.rounds)
	return out, nil
}

func (e *Executor) persist(ctx context.Context, conversationID uint, out outcome) error {
	_, err := e.messages.Add(ctx, conversationID, model.MessageRoleAssistant, out.text, toModelToolCalls(out.trace))
	if err != nil {
		return err
	}
	return e.conversations.UpdateTimestamp(ctx, conversationID)
}

func encodeResult(result tools.Result) string {
	raw, err := json.Marshal(result)
	if err != nil {
		return `{"error":"internal","message":"The tool result could not be encoded"}`
	}
	return string(raw)
}
