package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrConversationNotFound = errors.New("conversation not found")

// Conversation groups the messages of one chat session of one user.
type Conversation struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationRepository reads and writes the conversations of a single user.
// Every query is filtered on that user.
type ConversationRepository struct {
	db     *gorm.DB
	userID string
}

func NewConversationRepository(db *gorm.DB, userID string) *ConversationRepository {
	return &ConversationRepository{db: db, userID: userID}
}

func (r *ConversationRepository) Create(ctx context.Context) (*Conversation, error) {
	now := time.Now().UTC()
	conversation := &Conversation{
		UserID:    r.userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(conversation).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conversation, nil
}

// GetByID returns ErrConversationNotFound for unknown ids and for ids owned by
// another user.
func (r *ConversationRepository) GetByID(ctx context.Context, id uint) (*Conversation, error) {
	var conversation Conversation
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, r.userID).
		First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return &conversation, nil
}

func (r *ConversationRepository) UpdateTimestamp(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).
		Model(&Conversation{}).
		Where("id = ? AND user_id = ?", id, r.userID).
		Update("updated_at", time.Now().UTC())
	if result.Error != nil {
		return fmt.Errorf("failed to update conversation timestamp: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// List returns the user's conversations, most recently active first.
func (r *ConversationRepository) List(ctx context.Context, limit int) ([]Conversation, error) {
	var conversations []Conversation
	query := r.db.WithContext(ctx).
		Where("user_id = ?", r.userID).
		Order("updated_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&conversations).Error; err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}
