// Package task defines the scheduled-task model shared by the IPC command
// handlers (which create and mutate tasks) and the runner (which fires them).
package task

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("task not found")

type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleOnce     ScheduleType = "once"
)

type ContextMode string

const (
	ContextIsolated ContextMode = "isolated"
	ContextGroup    ContextMode = "group"
)

type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
)

// Task is one scheduled unit of work owned by a tenant namespace.
// GroupFolder is immutable after creation; only Status and NextRun change.
type Task struct {
	ID            string       `json:"id"`
	GroupFolder   string       `json:"group_folder"`
	ChatJID       string       `json:"chat_jid"`
	Prompt        string       `json:"prompt"`
	ScheduleType  ScheduleType `json:"schedule_type"`
	ScheduleValue string       `json:"schedule_value"`
	ContextMode   ContextMode  `json:"context_mode"`
	NextRun       *time.Time   `json:"next_run,omitempty"`
	Status        Status       `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
}

// Store is the persistence API the command handlers and runner depend on.
type Store interface {
	CreateTask(ctx context.Context, t Task) error
	GetTaskByID(ctx context.Context, id string) (Task, error)
	UpdateTask(ctx context.Context, t Task) error
	DeleteTask(ctx context.Context, id string) error

	// ListDueTasks returns active tasks whose next_run is at or before now.
	ListDueTasks(ctx context.Context, now time.Time) ([]Task, error)
}
