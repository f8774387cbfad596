package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	relay "github.com/nevindra/relay"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(filepath.Join(t.TempDir(), "relay.db"))
	t.Cleanup(func() { s.Close() })
	if err := s.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	return s
}

func sampleRecord(id, requester string, created time.Time) relay.TaskRecord {
	return relay.TaskRecord{
		ID:          id,
		Prompt:      "count the issues",
		RequesterID: requester,
		ChannelID:   "chan-1",
		CreatedAt:   created,
		FinishedAt:  created.Add(3 * time.Second),
		Status:      relay.StatusCompleted,
		ResultText:  "two issues",
		Events: []relay.TaskEvent{
			relay.StatusEvent("Thinking..."),
			relay.AgentMessageEvent("two issues"),
			relay.CompletedEvent(),
		},
		Receipts: []relay.Receipt{{
			CallID:   "call-1",
			ToolPath: "github.issues.list",
			Status:   relay.ReceiptSucceeded,
			Decision: relay.DecisionAuto,
		}},
	}
}

func TestSaveAndGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("task-1", "alice", time.Now().Truncate(time.Millisecond))
	if err := s.SaveTask(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Prompt != rec.Prompt || got.Status != rec.Status || got.ResultText != rec.ResultText {
		t.Errorf("roundtrip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}
	if len(got.Events) != 3 || got.Events[2].Type != relay.EventCompleted {
		t.Errorf("events not preserved: %+v", got.Events)
	}
	if len(got.Receipts) != 1 || got.Receipts[0].ToolPath != "github.issues.list" {
		t.Errorf("receipts not preserved: %+v", got.Receipts)
	}
}

func TestSaveTaskIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("task-1", "alice", time.Now())
	if err := s.SaveTask(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.ResultText = "updated"
	if err := s.SaveTask(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ResultText != "updated" {
		t.Errorf("replay did not overwrite: %q", got.ResultText)
	}

	list, err := s.ListTasks(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("replay created %d rows, want 1", len(list))
	}
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTask(context.Background(), "task-nope")
	var notFound *relay.ErrTaskNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("error = %v, want ErrTaskNotFound", err)
	}
}

func TestListTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, tt := range []struct{ id, requester string }{
		{"task-1", "alice"},
		{"task-2", "bob"},
		{"task-3", "alice"},
	} {
		rec := sampleRecord(tt.id, tt.requester, base.Add(time.Duration(i)*time.Second))
		if err := s.SaveTask(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.ListTasks(ctx, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
	if all[0].ID != "task-3" {
		t.Errorf("newest first: got %q", all[0].ID)
	}

	alice, err := s.ListTasks(ctx, "alice", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(alice) != 2 {
		t.Errorf("expected 2 tasks for alice, got %d", len(alice))
	}

	limited, err := s.ListTasks(ctx, "", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 {
		t.Errorf("limit ignored, got %d", len(limited))
	}
}
