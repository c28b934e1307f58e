package tools

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"taskchat/model"
)

// TaskStore is the user scoped task CRUD the task tools delegate to.
type TaskStore interface {
	Add(ctx context.Context, userID, title, description string) (*model.Task, error)
	List(ctx context.Context, userID string) ([]model.Task, error)
	Complete(ctx context.Context, userID string, taskID uint) (*model.Task, error)
	Delete(ctx context.Context, userID string, taskID uint) (*model.Task, error)
	Update(ctx context.Context, userID string, taskID uint, title, description *string) (*model.Task, error)
}

const (
	StatusAll       = "all"
	StatusPending   = "pending"
	StatusCompleted = "completed"
)

type taskTools struct {
	store  TaskStore
	logger *logrus.Logger
}

// NewTaskRegistry returns a registry with add_task, list_tasks,
// complete_task, delete_task and update_task bound to store.
func NewTaskRegistry(store TaskStore, logger *logrus.Logger) *Registry {
	r := NewRegistry(logger)
	t := &taskTools{store: store, logger: r.logger}

	r.Register(&Tool{
		Name:        "add_task",
		Description: "Create a new task for the user",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Task title (1-200 characters)",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "Optional task description (at most 1000 characters)",
				},
			},
			"required": []string{"title"},
		},
		Handler: t.addTask,
	})

	r.Register(&Tool{
		Name:        "list_tasks",
		Description: "List tasks for the user, optionally filtered by status",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"status": map[string]any{
					"type":        "string",
					"enum":        []string{StatusAll, StatusPending, StatusCompleted},
					"description": "Filter by task status (default all)",
				},
			},
		},
		Handler: t.listTasks,
	})

	r.Register(&Tool{
		Name:        "complete_task",
		Description: "Mark a task as completed",
		Parameters:  taskIDSchema("ID of the task to complete"),
		Handler:     t.completeTask,
	})

	r.Register(&Tool{
		Name:        "delete_task",
		Description: "Delete a task",
		Parameters:  taskIDSchema("ID of the task to delete"),
		Handler:     t.deleteTask,
	})

	r.Register(&Tool{
		Name:        "update_task",
		Description: "Update a task's title or description",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task_id": map[string]any{
					"type":        "integer",
					"description": "ID of the task to update",
				},
				"title": map[string]any{
					"type":        "string",
					"description": "New task title",
				},
				"description": map[string]any{
					"type":        "string",
					"description": "New task description",
				},
			},
			"required": []string{"task_id"},
		},
		Handler: t.updateTask,
	})

	return r
}

func taskIDSchema(description string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task_id": map[string]any{
				"type":        "integer",
				"description": description,
			},
		},
		"required": []string{"task_id"},
	}
}

func taskResult(task *model.Task, status string) Result {
	return Result{
		"task_id": task.ID,
		"status":  status,
		"title":   task.Title,
	}
}

// storeError maps a task store error to an error result. Unexpected errors
// are logged and reported as internal with the fallback message.
func (t *taskTools) storeError(err error, fallback string, taskID uint) Result {
	var extra map[string]any
	if taskID != 0 {
		extra = map[string]any{"task_id": taskID}
	}

	var validationErr *model.ValidationError
	switch {
	case errors.Is(err, model.ErrTaskNotFound):
		return ErrorResult(KindNotFound, fmt.Sprintf("Task %d not found", taskID), extra)
	case errors.As(err, &validationErr):
		return ErrorResult(KindValidation, validationErr.Message, extra)
	default:
		t.logger.WithField("task_id", taskID).Errorf("%s: %v", fallback, err)
		return ErrorResult(KindInternal, fallback, extra)
	}
}

func (t *taskTools) addTask(ctx context.Context, args Args) (Result, error) {
	userID, err := args.UserID()
	if err != nil {
		return nil, err
	}

	title, ok, err := args.String("title")
	if err != nil {
		return ErrorResult(KindValidation, err.Error(), nil), nil
	}
	if !ok {
		return ErrorResult(KindValidation, "title is required", nil), nil
	}
	description, _, err := args.String("description")
	if err != nil {
		return ErrorResult(KindValidation, err.Error(), map[string]any{"title": title}), nil
	}

	task, err := t.store.Add(ctx, userID, title, description)
	if err != nil {
		res := t.storeError(err, "Failed to create task", 0)
		if kind, _ := res.IsError(); kind == KindValidation {
			res["title"] = title
		}
		return res, nil
	}
	return taskResult(task, "created"), nil
}

// listTasks filters by completion state here; the store always returns
// every task of the user.
func (t *taskTools) listTasks(ctx context.Context, args Args) (Result, error) {
	userID, err := args.UserID()
	if err != nil {
		return nil, err
	}

	status, ok, err := args.String("status")
	if err != nil {
		return ErrorResult(KindValidation, err.Error(), nil), nil
	}
	if !ok || status == "" {
		status = StatusAll
	}
	if status != StatusAll && status != StatusPending && status != StatusCompleted {
		return ErrorResult(KindValidation,
			fmt.Sprintf("status must be one of %s, %s or %s", StatusAll, StatusPending, StatusCompleted),
			map[string]any{"status": status}), nil
	}

	tasks, err := t.store.List(ctx, userID)
	if err != nil {
		return t.storeError(err, "Failed to list tasks", 0), nil
	}

	items := make([]map[string]any, 0, len(tasks))
	for _, task := range tasks {
		if status == StatusPending && task.Completed {
			continue
		}
		if status == StatusCompleted && !task.Completed {
			continue
		}
		items = append(items, map[string]any{
			"id":          task.ID,
			"title":       task.Title,
			"description": task.Description,
			"completed":   task.Completed,
		})
	}
	return Result{"tasks": items}, nil
}

func (t *taskTools) completeTask(ctx context.Context, args Args) (Result, error) {
	userID, err := args.UserID()
	if err != nil {
		return nil, err
	}
	taskID, err := args.ID("task_id")
	if err != nil {
		return ErrorResult(KindValidation, err.Error(), nil), nil
	}

	task, err := t.store.Complete(ctx, userID, taskID)
	if err != nil {
		return t.storeError(err, "Failed to complete task", taskID), nil
	}
	return taskResult(task, "completed"), nil
}

func (t *taskTools) deleteTask(ctx context.Context, args Args) (Result, error) {
	userID, err := args.UserID()
	if err != nil {
		return nil, err
	}
	taskID, err := args.ID("task_id")
	if err != nil {
		return ErrorResult(KindValidation, err.Error(), nil), nil
	}

	task, err := t.store.Delete(ctx, userID, taskID)
	if err != nil {
		return t.storeError(err, "Failed to delete task", taskID), nil
	}
	return taskResult(task, "deleted"), nil
}

func (t *taskTools) updateTask(ctx context.Context, args Args) (Result, error) {
	userID, err := args.UserID()
	if err != nil {
		return nil, err
	}
	taskID, err := args.ID("task_id")
	if err != nil {
		return ErrorResult(KindValidation, err.Error(), nil), nil
	}

	var title, description *string
	if v, ok, err := args.String("title"); err != nil {
		return ErrorResult(KindValidation, err.Error(), map[string]any{"task_id": taskID}), nil
	} else if ok {
		title = &v
	}
	if v, ok, err := args.String("description"); err != nil {
		return ErrorResult(KindValidation, err.Error(), map[string]any{"task_id": taskID}), nil
	} else if ok {
		description = &v
	}
	if title == nil && description == nil {
		return ErrorResult(KindValidation,
			"At least one of title or description must be provided",
			map[string]any{"task_id": taskID}), nil
	}

	task, err := t.store.Update(ctx, userID, taskID, title, description)
	if err != nil {
		return t.storeError(err, "Failed to update task", taskID), nil
	}
	return taskResult(task, "updated"), nil
}
