// Package postgres implements relay.TaskStore using PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	relay "github.com/nevindra/relay"
)

// defaultListLimit applies when ListTasks is called with limit <= 0.
const defaultListLimit = 50

// Store implements relay.TaskStore backed by PostgreSQL. Events and
// receipts live in JSONB columns; the audit log is read back whole.
type Store struct {
	pool *pgxpool.Pool
}

var _ relay.TaskStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		channel_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		result_text TEXT,
		error_message TEXT,
		events JSONB NOT NULL,
		receipts JSONB NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("postgres: init: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`CREATE INDEX IF NOT EXISTS idx_tasks_requester ON tasks(requester_id, created_at DESC)`)
	if err != nil {
		return fmt.Errorf("postgres: init index: %w", err)
	}
	return nil
}

// SaveTask writes one terminal task. Idempotent per task id.
func (s *Store) SaveTask(ctx context.Context, rec relay.TaskRecord) error {
	events, err := json.Marshal(rec.Events)
	if err != nil {
		return fmt.Errorf("postgres: marshal events: %w", err)
	}
	receipts, err := json.Marshal(rec.Receipts)
	if err != nil {
		return fmt.Errorf("postgres: marshal receipts: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO tasks
		(id, prompt, requester_id, channel_id, created_at, finished_at, status, result_text, error_message, events, receipts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			finished_at = EXCLUDED.finished_at,
			status = EXCLUDED.status,
			result_text = EXCLUDED.result_text,
			error_message = EXCLUDED.error_message,
			events = EXCLUDED.events,
			receipts = EXCLUDED.receipts`,
		rec.ID, rec.Prompt, rec.RequesterID, nullable(rec.ChannelID),
		rec.CreatedAt, rec.FinishedAt, string(rec.Status),
		nullable(rec.ResultText), nullable(rec.ErrorMessage),
		string(events), string(receipts))
	if err != nil {
		return fmt.Errorf("postgres: save task: %w", err)
	}
	return nil
}

// GetTask loads a persisted task by id.
func (s *Store) GetTask(ctx context.Context, id string) (relay.TaskRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT
		id, prompt, requester_id, COALESCE(channel_id, ''), created_at, finished_at,
		status, COALESCE(result_text, ''), COALESCE(error_message, ''), events, receipts
		FROM tasks WHERE id = $1`, id)
	rec, err := scanTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return relay.TaskRecord{}, &relay.ErrTaskNotFound{ID: id}
	}
	if err != nil {
		return relay.TaskRecord{}, fmt.Errorf("postgres: get task: %w", err)
	}
	return rec, nil
}

// ListTasks returns recent tasks, newest first, optionally filtered by
// requester.
func (s *Store) ListTasks(ctx context.Context, requesterID string, limit int) ([]relay.TaskRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT id, prompt, requester_id, COALESCE(channel_id, ''), created_at, finished_at,
		status, COALESCE(result_text, ''), COALESCE(error_message, ''), events, receipts
		FROM tasks`
	args := []any{}
	if requesterID != "" {
		query += ` WHERE requester_id = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, requesterID, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tasks: %w", err)
	}
	defer rows.Close()

	var out []relay.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list tasks: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanTask(row pgx.Row) (relay.TaskRecord, error) {
	var rec relay.TaskRecord
	var status string
	var events, receipts []byte

	err := row.Scan(&rec.ID, &rec.Prompt, &rec.RequesterID, &rec.ChannelID,
		&rec.CreatedAt, &rec.FinishedAt, &status, &rec.ResultText, &rec.ErrorMessage,
		&events, &receipts)
	if err != nil {
		return relay.TaskRecord{}, err
	}

	rec.Status = relay.TaskStatus(status)
	if err := json.Unmarshal(events, &rec.Events); err != nil {
		return relay.TaskRecord{}, fmt.Errorf("decode events: %w", err)
	}
	if err := json.Unmarshal(receipts, &rec.Receipts); err != nil {
		return relay.TaskRecord{}, fmt.Errorf("decode receipts: %w", err)
	}
	return rec, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
