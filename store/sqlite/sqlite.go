// Package sqlite implements relay.TaskStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	relay "github.com/nevindra/relay"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// defaultListLimit applies when ListTasks is called with limit <= 0.
const defaultListLimit = 50

// Store implements relay.TaskStore backed by a local SQLite file. Events
// and receipts are stored as JSON text columns; the audit log is read back
// whole, never queried by field.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ relay.TaskStore = (*Store)(nil)

// nopLogger discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// Init creates all required tables.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		requester_id TEXT NOT NULL,
		channel_id TEXT,
		created_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		status TEXT NOT NULL,
		result_text TEXT,
		error_message TEXT,
		events TEXT NOT NULL,
		receipts TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("sqlite: init: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_tasks_requester ON tasks(requester_id, created_at DESC)`)
	if err != nil {
		return fmt.Errorf("sqlite: init index: %w", err)
	}
	return nil
}

// SaveTask writes one terminal task. Idempotent per task id: a replay of
// the same record overwrites in place.
func (s *Store) SaveTask(ctx context.Context, rec relay.TaskRecord) error {
	start := time.Now()
	events, err := json.Marshal(rec.Events)
	if err != nil {
		return fmt.Errorf("sqlite: marshal events: %w", err)
	}
	receipts, err := json.Marshal(rec.Receipts)
	if err != nil {
		return fmt.Errorf("sqlite: marshal receipts: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO tasks
		(id, prompt, requester_id, channel_id, created_at, finished_at, status, result_text, error_message, events, receipts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			status = excluded.status,
			result_text = excluded.result_text,
			error_message = excluded.error_message,
			events = excluded.events,
			receipts = excluded.receipts`,
		rec.ID, rec.Prompt, rec.RequesterID, rec.ChannelID,
		rec.CreatedAt.UnixMilli(), rec.FinishedAt.UnixMilli(),
		string(rec.Status), rec.ResultText, rec.ErrorMessage,
		string(events), string(receipts))
	if err != nil {
		return fmt.Errorf("sqlite: save task: %w", err)
	}
	s.logger.Debug("sqlite: task saved", "task", rec.ID, "took", time.Since(start))
	return nil
}

// GetTask loads a persisted task by id.
func (s *Store) GetTask(ctx context.Context, id string) (relay.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, prompt, requester_id, channel_id, created_at, finished_at, status, result_text, error_message, events, receipts
		FROM tasks WHERE id = ?`, id)
	rec, err := scanTask(row)
	if err == sql.ErrNoRows {
		return relay.TaskRecord{}, &relay.ErrTaskNotFound{ID: id}
	}
	if err != nil {
		return relay.TaskRecord{}, fmt.Errorf("sqlite: get task: %w", err)
	}
	return rec, nil
}

// ListTasks returns recent tasks, newest first, optionally filtered by
// requester.
func (s *Store) ListTasks(ctx context.Context, requesterID string, limit int) ([]relay.TaskRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	query := `SELECT id, prompt, requester_id, channel_id, created_at, finished_at, status, result_text, error_message, events, receipts
		FROM tasks`
	args := []any{}
	if requesterID != "" {
		query += ` WHERE requester_id = ?`
		args = append(args, requesterID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var out []relay.TaskRecord
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: list tasks: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (relay.TaskRecord, error) {
	var rec relay.TaskRecord
	var channelID, resultText, errorMessage sql.NullString
	var createdAt, finishedAt int64
	var status, events, receipts string

	err := row.Scan(&rec.ID, &rec.Prompt, &rec.RequesterID, &channelID,
		&createdAt, &finishedAt, &status, &resultText, &errorMessage,
		&events, &receipts)
	if err != nil {
		return relay.TaskRecord{}, err
	}

	rec.ChannelID = channelID.String
	rec.ResultText = resultText.String
	rec.ErrorMessage = errorMessage.String
	rec.CreatedAt = time.UnixMilli(createdAt)
	rec.FinishedAt = time.UnixMilli(finishedAt)
	rec.Status = relay.TaskStatus(status)
	if err := json.Unmarshal([]byte(events), &rec.Events); err != nil {
		return relay.TaskRecord{}, fmt.Errorf("decode events: %w", err)
	}
	if err := json.Unmarshal([]byte(receipts), &rec.Receipts); err != nil {
		return relay.TaskRecord{}, fmt.Errorf("decode receipts: %w", err)
	}
	return rec, nil
}
