package agent_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskchat/agent"
	"taskchat/llm"
	"taskchat/model"
	"taskchat/platform"
	"taskchat/tools"
)

// scriptedModel replays canned replies and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	replies  []reply
	fallback *reply
	requests []llm.Request
}

type reply struct {
	resp  *llm.Response
	err   error
	panic bool
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := req
	snapshot.Messages = append([]llm.Message(nil), req.Messages...)
	m.requests = append(m.requests, snapshot)

	var r reply
	switch {
	case len(m.replies) > 0:
		r = m.replies[0]
		m.replies = m.replies[1:]
	case m.fallback != nil:
		r = *m.fallback
	default:
		return nil, errors.New("scripted model ran out of replies")
	}
	if r.panic {
		panic("model exploded")
	}
	return r.resp, r.err
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func text(s string) reply {
	return reply{resp: &llm.Response{Text: s}}
}

func toolCall(name string, args map[string]any) reply {
	return reply{resp: &llm.Response{ToolCalls: []llm.ToolCall{{ID: "call_" + name, Name: name, Arguments: args}}}}
}

func rateLimited() reply {
	return reply{err: &llm.ProviderError{StatusCode: http.StatusTooManyRequests, Err: errors.New("quota exceeded")}}
}

type harness struct {
	db     *gorm.DB
	model  *scriptedModel
	sleeps []time.Duration
	hook   *test.Hook
	logger *logrus.Logger
}

func newHarness(t *testing.T, replies ...reply) *harness {
	t.Helper()
	dialector, err := platform.Dialector(platform.Settings{
		DBDriver:   "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "agent.db"),
	})
	require.NoError(t, err)
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, model.InstallDB(db))

	log, hook := test.NewNullLogger()
	return &harness{
		db:     db,
		model:  &scriptedModel{replies: replies},
		hook:   hook,
		logger: log,
	}
}

func (h *harness) executor(userID string) *agent.Executor {
	registry := tools.NewTaskRegistry(model.NewTaskRepository(h.db), h.logger)
	return agent.NewExecutor(
		userID,
		model.NewConversationRepository(h.db, userID),
		model.NewMessageRepository(h.db, userID),
		h.model,
		registry,
		agent.DefaultConfig(),
		agent.WithLogger(h.logger),
		agent.WithSleep(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	)
}

func (h *harness) history(t *testing.T, userID string, conversationID uint) []model.Message {
	t.Helper()
	messages, err := model.NewMessageRepository(h.db, userID).GetHistory(context.Background(), conversationID)
	require.NoError(t, err)
	return messages
}

func (h *harness) tasks(t *testing.T, userID string) []model.Task {
	t.Helper()
	tasks, err := model.NewTaskRepository(h.db).List(context.Background(), userID)
	require.NoError(t, err)
	return tasks
}

func TestExecuteNewConversationAddsTask(t *testing.T) {
	h := newHarness(t,
		toolCall("add_task", map[string]any{"title": "Buy groceries"}),
		text("I've added 'Buy groceries' to your list."),
	)
	ctx := context.Background()

	result := h.executor("alice").Execute(ctx, "Add a task to buy groceries", nil)

	assert.NotZero(t, result.ConversationID)
	assert.Equal(t, "I've added 'Buy groceries' to your list.", result.Response)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "add_task", result.ToolCalls[0].Tool)
	assert.Equal(t, map[string]any{"title": "Buy groceries"}, result.ToolCalls[0].Arguments)
	created, ok := result.ToolCalls[0].Result.(tools.Result)
	require.True(t, ok)
	assert.Equal(t, "created", created["status"])

	tasks := h.tasks(t, "alice")
	require.Len(t, tasks, 1)
	assert.Equal(t, "Buy groceries", tasks[0].Title)
	assert.False(t, tasks[0].Completed)

	messages := h.history(t, "alice", result.ConversationID)
	require.Len(t, messages, 2)
	assert.Equal(t, model.MessageRoleUser, messages[0].Role)
	assert.Equal(t, "Add a task to buy groceries", messages[0].Content)
	assert.Equal(t, model.MessageRoleAssistant, messages[1].Role)
	assert.Equal(t, result.Response, messages[1].Content)

	calls, err := messages[1].DecodeToolCalls()
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "add_task", calls[0].Tool)

	userCalls, err := messages[0].DecodeToolCalls()
	require.NoError(t, err)
	assert.Empty(t, userCalls)
}

func TestExecuteSendsSystemPromptToolsAndToolExchange(t *testing.T) {
	h := newHarness(t,
		toolCall("list_tasks", map[string]any{"status": "pending"}),
		text("You have no pending tasks."),
	)

	h.executor("alice").Execute(context.Background(), "What's pending?", nil)

	require.Equal(t, 2, h.model.calls())
	first := h.model.requests[0]
	require.Len(t, first.Messages, 2)
	assert.Equal(t, llm.RoleSystem, first.Messages[0].Role)
	assert.Equal(t, agent.SystemPrompt, first.Messages[0].Content)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "What's pending?"}, first.Messages[1])
	assert.Len(t, first.Tools, 5)
	assert.InDelta(t, 0.7, first.Temperature, 1e-9)
	assert.Equal(t, int64(1024), first.MaxTokens)

	second := h.model.requests[1]
	require.Len(t, second.Messages, 4)
	assert.Equal(t, llm.RoleAssistant, second.Messages[2].Role)
	require.Len(t, second.Messages[2].ToolCalls, 1)
	toolMsg := second.Messages[3]
	assert.Equal(t, llm.RoleTool, toolMsg.Role)
	assert.Equal(t, "call_list_tasks", toolMsg.ToolCallID)
	assert.Equal(t, "list_tasks", toolMsg.Name)
	assert.JSONEq(t, `{"tasks":[]}`, toolMsg.Content)
}

func TestExecuteInjectsAuthenticatedUser(t *testing.T) {
	h := newHarness(t,
		toolCall("add_task", map[string]any{"title": "Steal tasks", "user_id": "mallory"}),
		text("Done."),
	)

	result := h.executor("alice").Execute(context.Background(), "add a task", nil)

	assert.Len(t, h.tasks(t, "alice"), 1)
	assert.Empty(t, h.tasks(t, "mallory"))
	require.Len(t, result.ToolCalls, 1)
	assert.NotContains(t, result.ToolCalls[0].Arguments, tools.UserIDArg)
	assert.Equal(t, "Steal tasks", result.ToolCalls[0].Arguments["title"])
}

func TestExecuteStopsAfterMaxRounds(t *testing.T) {
	h := newHarness(t)
	loop := toolCall("list_tasks", map[string]any{})
	h.model.fallback = &loop

	result := h.executor("alice").Execute(context.Background(), "keep going", nil)

	assert.Equal(t, agent.DefaultMaxRounds, h.model.calls())
	assert.Equal(t, agent.ExhaustedText, result.Response)
	assert.Len(t, result.ToolCalls, agent.DefaultMaxRounds)

	messages := h.history(t, "alice", result.ConversationID)
	require.Len(t, messages, 2)
	assert.Equal(t, agent.ExhaustedText, messages[1].Content)
}

func TestExecuteReplaysOnlyRecentHistory(t *testing.T) {
	h := newHarness(t, text("ok"))
	ctx := context.Background()

	conversations := model.NewConversationRepository(h.db, "alice")
	messages := model.NewMessageRepository(h.db, "alice")
	conversation, err := conversations.Create(ctx)
	require.NoError(t, err)
	for i := 1; i <= 30; i++ {
		role := model.MessageRoleUser
		if i%2 == 0 {
			role = model.MessageRoleAssistant
		}
		_, err := messages.Add(ctx, conversation.ID, role, fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
	}

	result := h.executor("alice").Execute(ctx, "latest", &conversation.ID)
	assert.Equal(t, conversation.ID, result.ConversationID)

	require.Equal(t, 1, h.model.calls())
	sent := h.model.requests[0].Messages
	require.Len(t, sent, 1+agent.DefaultMaxHistory+1)
	assert.Equal(t, llm.RoleSystem, sent[0].Role)
	assert.Equal(t, "message 11", sent[1].Content)
	assert.Equal(t, llm.RoleUser, sent[1].Role)
	assert.Equal(t, "message 30", sent[agent.DefaultMaxHistory].Content)
	assert.Equal(t, llm.RoleAssistant, sent[agent.DefaultMaxHistory].Role)
	assert.Equal(t, "latest", sent[len(sent)-1].Content)

	assert.Len(t, h.history(t, "alice", conversation.ID), 32)
}

func TestExecuteRetriesRateLimits(t *testing.T) {
	h := newHarness(t, rateLimited(), rateLimited(), text("Here you go."))

	result := h.executor("alice").Execute(context.Background(), "hi", nil)

	assert.Equal(t, "Here you go.", result.Response)
	assert.Equal(t, 3, h.model.calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeps)
}

func TestExecuteRateLimitExhaustedReturnsApology(t *testing.T) {
	h := newHarness(t)
	limited := rateLimited()
	h.model.fallback = &limited

	result := h.executor("alice").Execute(context.Background(), "hi", nil)

	assert.Equal(t, agent.ApologyText, result.Response)
	assert.NotZero(t, result.ConversationID)
	assert.Empty(t, result.ToolCalls)
	assert.Equal(t, 5, h.model.calls())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, h.sleeps)

	messages := h.history(t, "alice", result.ConversationID)
	require.Len(t, messages, 1)
	assert.Equal(t, model.MessageRoleUser, messages[0].Role)
}

func TestExecuteProviderErrorIsNotRetried(t *testing.T) {
	h := newHarness(t, reply{err: &llm.ProviderError{StatusCode: http.StatusInternalServerError, Err: errors.New("secret upstream detail")}})

	result := h.executor("alice").Execute(context.Background(), "hi", nil)

	assert.Equal(t, agent.ApologyText, result.Response)
	assert.NotContains(t, result.Response, "secret")
	assert.Equal(t, 1, h.model.calls())
	assert.Empty(t, h.sleeps)

	entry := h.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Contains(t, entry.Message, "secret upstream detail")
}

func TestExecuteModelPanicReturnsApology(t *testing.T) {
	h := newHarness(t, reply{panic: true})

	result := h.executor("alice").Execute(context.Background(), "hi", nil)

	assert.Equal(t, agent.ApologyText, result.Response)
	assert.NotZero(t, result.ConversationID)
	assert.Empty(t, result.ToolCalls)
}

func TestExecuteUnknownToolIsReportedToModel(t *testing.T) {
	h := newHarness(t,
		toolCall("archive_task", map[string]any{"task_id": 1}),
		text("I can't archive tasks, but I can delete them."),
	)

	result := h.executor("alice").Execute(context.Background(), "archive task 1", nil)

	assert.Equal(t, "I can't archive tasks, but I can delete them.", result.Response)
	require.Len(t, result.ToolCalls, 1)
	res := result.ToolCalls[0].Result.(tools.Result)
	assert.Equal(t, string(tools.KindUnknownTool), res["error"])

	require.Equal(t, 2, h.model.calls())
	toolMsg := h.model.requests[1].Messages[3]
	assert.Contains(t, toolMsg.Content, `"unknown_tool"`)
}

func TestExecuteMissingTaskIsNotFound(t *testing.T) {
	h := newHarness(t,
		toolCall("complete_task", map[string]any{"task_id": float64(45)}),
		text("I couldn't find task 45."),
	)

	result := h.executor("alice").Execute(context.Background(), "complete task 45", nil)

	assert.Equal(t, "I couldn't find task 45.", result.Response)
	require.Len(t, result.ToolCalls, 1)
	res := result.ToolCalls[0].Result.(tools.Result)
	assert.Equal(t, string(tools.KindNotFound), res["error"])
	assert.Equal(t, uint(45), res["task_id"])
}

func TestExecuteChainsListThenComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	repo := model.NewTaskRepository(h.db)
	_, err := repo.Add(ctx, "alice", "Walk the dog", "")
	require.NoError(t, err)
	milk, err := repo.Add(ctx, "alice", "Buy milk", "")
	require.NoError(t, err)

	h.model.replies = []reply{
		toolCall("list_tasks", map[string]any{"status": "pending"}),
		toolCall("complete_task", map[string]any{"task_id": float64(milk.ID)}),
		text(fmt.Sprintf("Marked 'Buy milk' (task %d) as done.", milk.ID)),
	}

	result := h.executor("alice").Execute(ctx, "Mark buy milk as done", nil)

	require.Len(t, result.ToolCalls, 2)
	assert.Equal(t, "list_tasks", result.ToolCalls[0].Tool)
	assert.Equal(t, "complete_task", result.ToolCalls[1].Tool)
	assert.Equal(t, 3, h.model.calls())

	for _, task := range h.tasks(t, "alice") {
		assert.Equal(t, task.ID == milk.ID, task.Completed, task.Title)
	}
}

func TestExecuteEmptyReplyIsNotUnderstood(t *testing.T) {
	h := newHarness(t, reply{resp: &llm.Response{}})

	result := h.executor("alice").Execute(context.Background(), "???", nil)

	assert.Equal(t, agent.NotUnderstoodText, result.Response)
	assert.Empty(t, result.ToolCalls)
	messages := h.history(t, "alice", result.ConversationID)
	require.Len(t, messages, 2)
	assert.Equal(t, agent.NotUnderstoodText, messages[1].Content)
}

func TestExecuteForeignConversationStartsNewOne(t *testing.T) {
	h := newHarness(t, text("first"), text("second"))
	ctx := context.Background()

	bob := h.executor("bob").Execute(ctx, "hello from bob", nil)
	require.NotZero(t, bob.ConversationID)

	alice := h.executor("alice").Execute(ctx, "hello from alice", &bob.ConversationID)
	assert.NotZero(t, alice.ConversationID)
	assert.NotEqual(t, bob.ConversationID, alice.ConversationID)

	// Alice's model call must not include Bob's history.
	sent := h.model.requests[1].Messages
	require.Len(t, sent, 2)
	assert.Equal(t, "hello from alice", sent[1].Content)

	assert.Len(t, h.history(t, "bob", bob.ConversationID), 2)
	assert.Empty(t, h.history(t, "alice", bob.ConversationID))
}

func TestExecuteUnknownConversationStartsNewOne(t *testing.T) {
	h := newHarness(t, text("hi"))
	missing := uint(9999)

	result := h.executor("alice").Execute(context.Background(), "hello", &missing)

	assert.NotZero(t, result.ConversationID)
	assert.NotEqual(t, missing, result.ConversationID)
}

func TestExecuteContinuesConversation(t *testing.T) {
	h := newHarness(t, text("first answer"), text("second answer"))
	ctx := context.Background()

	first := h.executor("alice").Execute(ctx, "first question", nil)
	second := h.executor("alice").Execute(ctx, "second question", &first.ConversationID)

	assert.Equal(t, first.ConversationID, second.ConversationID)
	sent := h.model.requests[1].Messages
	require.Len(t, sent, 4)
	assert.Equal(t, "first question", sent[1].Content)
	assert.Equal(t, "first answer", sent[2].Content)
	assert.Equal(t, "second question", sent[3].Content)
}

// hangupModel cancels the caller's context once the first round is answered
// and fails any call made with a done context.
type hangupModel struct {
	inner  *scriptedModel
	cancel context.CancelFunc
}

func (m *hangupModel) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if m.inner.calls() == 1 {
		m.cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.inner.Complete(ctx, req)
}

func TestExecuteFinishesAfterCallerCancels(t *testing.T) {
	h := newHarness(t,
		toolCall("add_task", map[string]any{"title": "Buy milk"}),
		text("Added 'Buy milk'."),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := tools.NewTaskRegistry(model.NewTaskRepository(h.db), h.logger)
	executor := agent.NewExecutor(
		"alice",
		model.NewConversationRepository(h.db, "alice"),
		model.NewMessageRepository(h.db, "alice"),
		&hangupModel{inner: h.model, cancel: cancel},
		registry,
		agent.DefaultConfig(),
		agent.WithLogger(h.logger),
	)

	result := executor.Execute(ctx, "Add a task to buy milk", nil)

	require.Error(t, ctx.Err())
	assert.Equal(t, "Added 'Buy milk'.", result.Response)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, 2, h.model.calls())
	assert.Len(t, h.tasks(t, "alice"), 1)

	messages := h.history(t, "alice", result.ConversationID)
	require.Len(t, messages, 2)
	assert.Equal(t, model.MessageRoleAssistant, messages[1].Role)
	assert.Equal(t, "Added 'Buy milk'.", messages[1].Content)
	calls, err := messages[1].DecodeToolCalls()
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "add_task", calls[0].Tool)
}
