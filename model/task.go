package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

const (
	MaxTaskTitleLength       = 200
	MaxTaskDescriptionLength = 1000
)

var ErrTaskNotFound = errors.New("task not found")

// ValidationError reports task input the store refuses to persist.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Task is a to-do item owned by one user.
type Task struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      string    `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Title       string    `gorm:"type:varchar(200);not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Completed   bool      `gorm:"not null;default:false" json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", &ValidationError{Field: "title", Message: "Title is required"}
	}
	if utf8.RuneCountInString(title) > MaxTaskTitleLength {
		return "", &ValidationError{
			Field:   "title",
			Message: fmt.Sprintf("Title must be at most %d characters", MaxTaskTitleLength),
		}
	}
	return title, nil
}

func validateDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > MaxTaskDescriptionLength {
		return "", &ValidationError{
			Field:   "description",
			Message: fmt.Sprintf("Description must be at most %d characters", MaxTaskDescriptionLength),
		}
	}
	return description, nil
}

// TaskRepository is the gorm backed task store. Every method takes the owning
// user id and never touches rows of other users.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

func (r *TaskRepository) Add(ctx context.Context, userID, title, description string) (*Task, error) {
	title, err := validateTitle(title)
	if err != nil {
		return nil, err
	}
	description, err = validateDescription(description)
	if err != nil {
		return nil, err
	}

	task := &Task{
		UserID:      userID,
		Title:       title,
		Description: description,
	}
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return task, nil
}

// List returns all of the user's tasks in creation order.
func (r *TaskRepository) List(ctx context.Context, userID string) ([]Task, error) {
	var tasks []Task
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskRepository) get(tx *gorm.DB, userID string, taskID uint) (*Task, error) {
	var task Task
	if err := tx.Where("id = ? AND user_id = ?", taskID, userID).First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("database query failed: %w", err)
	}
	return &task, nil
}

func (r *TaskRepository) Complete(ctx context.Context, userID string, taskID uint) (*Task, error) {
	var task *Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		task, err = r.get(tx, userID, taskID)
		if err != nil {
			return err
		}
		err = tx.Model(&Task{}).
			Where("id = ? AND user_id = ?", taskID, userID).
			Update("completed", true).Error
		if err != nil {
			return fmt.Errorf("failed to complete task: %w", err)
		}
		task.Completed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Delete removes the task and returns it as it was before deletion.
func (r *TaskRepository) Delete(ctx context.Context, userID string, taskID uint) (*Task, error) {
	var task *Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		task, err = r.get(tx, userID, taskID)
		if err != nil {
			return err
		}
		if err := tx.Where("id = ? AND user_id = ?", taskID, userID).Delete(&Task{}).Error; err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Update changes the non-nil fields of the task.
func (r *TaskRepository) Update(ctx context.Context, userID string, taskID uint, title, description *string) (*Task, error) {
	updates := map[string]any{}
	if title != nil {
		t, err := validateTitle(*title)
		if err != nil {
			return nil, err
		}
		updates["title"] = t
	}
	if description != nil {
		d, err := validateDescription(*description)
		if err != nil {
			return nil, err
		}
		updates["description"] = d
	}
	if len(updates) == 0 {
		return nil, &ValidationError{Message: "At least one of title or description must be provided"}
	}

	var task *Task
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		task, err = r.get(tx, userID, taskID)
		if err != nil {
			return err
		}
		if err := tx.Model(&Task{}).Where("id = ? AND user_id = ?", taskID, userID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}
		if t, ok := updates["title"].(string); ok {
			task.Title = t
		}
		if d, ok := updates["description"].(string); ok {
			task.Description = d
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// Count returns the number of rows of the given model, across all users.
func Count(ctx context.Context, db *gorm.DB, value any) (int64, error) {
	var count int64
	if err := db.WithContext(ctx).Model(value).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
