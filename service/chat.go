package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"gorm.io/gorm"

	"taskchat/agent"
	"taskchat/llm"
	"taskchat/model"
	"taskchat/tools"
)

// ChatService runs agent turns and exposes the caller's conversation log.
// Every call is scoped to the user id it is given.
type ChatService struct {
	db       *gorm.DB
	model    llm.Client
	registry *tools.Registry
	cfg      agent.Config
	logger   *logrus.Logger
	opts     []agent.Option
	markdown goldmark.Markdown
}

func NewChatService(db *gorm.DB, client llm.Client, cfg agent.Config, logger *logrus.Logger, opts ...agent.Option) *ChatService {
	return &ChatService{
		db:       db,
		model:    client,
		registry: tools.NewTaskRegistry(model.NewTaskRepository(db), logger),
		cfg:      cfg,
		logger:   logger,
		opts:     append([]agent.Option{agent.WithLogger(logger)}, opts...),
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// Chat processes one message for userID. It never fails; see agent.Executor.
func (s *ChatService) Chat(ctx context.Context, userID, message string, conversationID *uint) agent.Result {
	executor := agent.NewExecutor(
		userID,
		model.NewConversationRepository(s.db, userID),
		model.NewMessageRepository(s.db, userID),
		s.model,
		s.registry,
		s.cfg,
		s.opts...,
	)
	return executor.Execute(ctx, message, conversationID)
}

func (s *ChatService) Conversations(ctx context.Context, userID string, limit int) ([]model.Conversation, error) {
	return model.NewConversationRepository(s.db, userID).List(ctx, limit)
}

// History returns the messages of a conversation owned by userID, or
// model.ErrConversationNotFound.
func (s *ChatService) History(ctx context.Context, userID string, conversationID uint) ([]model.Message, error) {
	if _, err := model.NewConversationRepository(s.db, userID).GetByID(ctx, conversationID); err != nil {
		return nil, err
	}
	return model.NewMessageRepository(s.db, userID).GetHistory(ctx, conversationID)
}

// RenderMarkdown converts an assistant reply to HTML.
func (s *ChatService) RenderMarkdown(text string) (string, error) {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
