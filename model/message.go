package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	MessageRoleUser      = "user"
	MessageRoleAssistant = "assistant"
)

// ToolCall is the persisted form of one tool invocation made while producing
// an assistant message.
type ToolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
	Result    any            `json:"result"`
}

// Message is an immutable entry in a conversation log. UserID is stored
// next to ConversationID so reads can filter on both.
type Message struct {
	ID             uint           `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID uint           `gorm:"not null;index:idx_messages_conversation_user" json:"conversation_id"`
	UserID         string         `gorm:"type:varchar(64);not null;index:idx_messages_conversation_user" json:"user_id"`
	Role           string         `gorm:"type:varchar(16);not null" json:"role"`
	Content        string         `gorm:"type:text;not null" json:"content"`
	ToolCalls      datatypes.JSON `json:"tool_calls"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
}

// DecodeToolCalls returns the tool call trace stored with the message.
func (m *Message) DecodeToolCalls() ([]ToolCall, error) {
	if len(m.ToolCalls) == 0 || string(m.ToolCalls) == "null" {
		return nil, nil
	}
	var calls []ToolCall
	if err := json.Unmarshal(m.ToolCalls, &calls); err != nil {
		return nil, fmt.Errorf("failed to decode tool calls of message %d: %w", m.ID, err)
	}
	return calls, nil
}

// MessageRepository appends to and reads the message log of a single user.
type MessageRepository struct {
	db     *gorm.DB
	userID string
}

func NewMessageRepository(db *gorm.DB, userID string) *MessageRepository {
	return &MessageRepository{db: db, userID: userID}
}

// Add appends a message. An empty toolCalls slice is stored as NULL.
func (r *MessageRepository) Add(ctx context.Context, conversationID uint, role, content string, toolCalls []ToolCall) (*Message, error) {
	message := &Message{
		ConversationID: conversationID,
		UserID:         r.userID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	if len(toolCalls) > 0 {
		raw, err := json.Marshal(toolCalls)
		if err != nil {
			return nil, fmt.Errorf("failed to encode tool calls: %w", err)
		}
		message.ToolCalls = datatypes.JSON(raw)
	}
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return message, nil
}

// GetHistory returns the conversation's messages oldest first.
func (r *MessageRepository) GetHistory(ctx context.Context, conversationID uint) ([]Message, error) {
	var messages []Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, r.userID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return messages, nil
}

// GetLatest returns the most recent message of the conversation, or nil when
// it has none.
func (r *MessageRepository) GetLatest(ctx context.Context, conversationID uint) (*Message, error) {
	var message Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, r.userID).
		Order("created_at DESC").
		Order("id DESC").
		First(&message).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load latest message: %w", err)
	}
	return &message, nil
}
