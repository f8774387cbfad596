package relay

import (
	"context"
	"time"
)

// TaskRecord is the flattened, terminal snapshot of a task persisted for
// audit. The in-memory registry stays canonical; stores are write-behind.
type TaskRecord struct {
	ID           string     `json:"id"`
	Prompt       string     `json:"prompt"`
	RequesterID  string     `json:"requester_id"`
	ChannelID    string     `json:"channel_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   time.Time  `json:"finished_at"`
	Status       TaskStatus `json:"status"`
	ResultText   string     `json:"result_text,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Events       []TaskEvent `json:"events"`
	Receipts     []Receipt  `json:"receipts"`
}

// TaskStore persists terminal tasks. Implementations: store/sqlite,
// store/postgres.
type TaskStore interface {
	// Init creates required tables.
	Init(ctx context.Context) error
	// SaveTask writes one terminal task. Idempotent per task id.
	SaveTask(ctx context.Context, rec TaskRecord) error
	// GetTask loads a persisted task by id.
	GetTask(ctx context.Context, id string) (TaskRecord, error)
	// ListTasks returns recent tasks, newest first, optionally filtered by
	// requester. limit <= 0 means a store-chosen default.
	ListTasks(ctx context.Context, requesterID string, limit int) ([]TaskRecord, error)
}
