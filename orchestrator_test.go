package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestOrchestrator(p Provider, r CodeRunner, opts ...OrchestratorOption) *Orchestrator {
	return NewOrchestrator(p, testTree(), r, opts...)
}

func TestCreateRunsToCompletion(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{{Content: "hello"}}}
	o := newTestOrchestrator(provider, &echoRunner{})

	task := o.Create(context.Background(), "say hello", "user-1", "chan-1")
	waitTerminal(t, task)

	if task.Status() != StatusCompleted {
		t.Errorf("status = %q, want completed", task.Status())
	}
	if task.ResultText() != "hello" {
		t.Errorf("result = %q", task.ResultText())
	}

	got, ok := o.Get(task.ID)
	if !ok || got != task {
		t.Error("Get did not return the created task")
	}
}

func TestListFiltersByRequester(t *testing.T) {
	provider := &scriptedProvider{}
	o := newTestOrchestrator(provider, &echoRunner{})

	t1 := o.Create(context.Background(), "a", "alice", "")
	t2 := o.Create(context.Background(), "b", "bob", "")
	waitTerminal(t, t1)
	waitTerminal(t, t2)

	if got := len(o.List("")); got != 2 {
		t.Errorf("List(\"\") returned %d tasks", got)
	}
	alice := o.List("alice")
	if len(alice) != 1 || alice[0].ID != t1.ID {
		t.Errorf("List(alice) = %v", alice)
	}
}

func TestEmitAfterTerminalIsDropped(t *testing.T) {
	provider := &scriptedProvider{}
	o := newTestOrchestrator(provider, &echoRunner{})
	task := o.Create(context.Background(), "x", "u", "")
	waitTerminal(t, task)

	count := task.EventCount()
	if o.Emit(task.ID, StatusEvent("late")) {
		t.Error("emit after terminal should report false")
	}
	if task.EventCount() != count {
		t.Error("terminal task's log grew")
	}
	if o.Emit("task-unknown", StatusEvent("x")) {
		t.Error("emit to unknown task should report false")
	}
}

func TestSubscribeReplayThenFollow(t *testing.T) {
	// Hold the provider in the first generation until the subscriber is
	// attached, so the subscription races a live emitting task.
	release := make(chan struct{})
	provider := &gatedProvider{release: release, final: "done"}
	o := newTestOrchestrator(provider, &echoRunner{})

	task := o.Create(context.Background(), "x", "u", "")

	var mu sync.Mutex
	var seen []EventType
	unsub := o.Subscribe(task.ID, func(ev TaskEvent) error {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
		return nil
	})
	if unsub == nil {
		t.Fatal("Subscribe returned nil for a known task")
	}
	defer unsub()

	close(release)
	waitTerminal(t, task)

	// Converge: terminal emit and subscriber notification are synchronous,
	// so after Done the subscriber saw the full log.
	mu.Lock()
	defer mu.Unlock()
	log := task.Events()
	if len(seen) != len(log) {
		t.Fatalf("subscriber saw %d events, log has %d", len(seen), len(log))
	}
	for i := range log {
		if seen[i] != log[i].Type {
			t.Errorf("gap or duplicate at %d: saw %q, log %q", i, seen[i], log[i].Type)
		}
	}
}

func TestSubscribeToFinishedTaskReplaysAll(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{{Content: "hi"}}}
	o := newTestOrchestrator(provider, &echoRunner{})
	task := o.Create(context.Background(), "x", "u", "")
	waitTerminal(t, task)

	var seen []TaskEvent
	o.Subscribe(task.ID, func(ev TaskEvent) error {
		seen = append(seen, ev)
		return nil
	})
	if len(seen) != task.EventCount() {
		t.Errorf("replay delivered %d of %d events", len(seen), task.EventCount())
	}
	if o.Subscribe("task-unknown", func(TaskEvent) error { return nil }) != nil {
		t.Error("Subscribe to unknown task should return nil")
	}
}

func TestFailingSubscriberIsEvicted(t *testing.T) {
	release := make(chan struct{})
	provider := &gatedProvider{release: release, final: "done"}
	o := newTestOrchestrator(provider, &echoRunner{})
	task := o.Create(context.Background(), "x", "u", "")

	var calls int
	o.Subscribe(task.ID, func(TaskEvent) error {
		calls++
		return errors.New("broken pipe")
	})

	close(release)
	waitTerminal(t, task)

	if calls != 1 {
		t.Errorf("failing subscriber called %d times, want 1", calls)
	}
}

func TestCancel(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	provider := &gatedProvider{release: release, final: "done"}
	o := newTestOrchestrator(provider, &echoRunner{})
	task := o.Create(context.Background(), "x", "u", "")

	if err := o.Cancel(task.ID); err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, task)
	if task.Status() != StatusCancelled {
		t.Errorf("status = %q, want cancelled", task.Status())
	}

	count := task.EventCount()
	time.Sleep(20 * time.Millisecond)
	if task.EventCount() != count {
		t.Error("events appended after cancellation")
	}

	var notRunning *ErrNotRunning
	if err := o.Cancel(task.ID); !errors.As(err, &notRunning) {
		t.Errorf("second cancel error = %v, want ErrNotRunning", err)
	}
	var notFound *ErrTaskNotFound
	if err := o.Cancel("task-unknown"); !errors.As(err, &notFound) {
		t.Errorf("unknown cancel error = %v, want ErrTaskNotFound", err)
	}
}

func TestCancelAbortsPendingApprovals(t *testing.T) {
	provider := &scriptedProvider{}
	o := newTestOrchestrator(provider, &echoRunner{})
	task := o.Create(context.Background(), "x", "u", "")
	waitTerminal(t, task)

	// Register directly: a terminal task must leave nothing pending once
	// finalize runs.
	p := o.Approvals().Register(task.ID, newRequest("call-1", "a.b", nil))
	o.finalize(task)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := p.Await(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionDenied {
		t.Errorf("aborted approval got %q, want denied", d)
	}
}

func TestTerminalTaskIsPersisted(t *testing.T) {
	store := &memStore{saved: make(chan TaskRecord, 1)}
	provider := &scriptedProvider{responses: []ChatResponse{{Content: "persisted"}}}
	o := newTestOrchestrator(provider, &echoRunner{}, WithStore(store))

	task := o.Create(context.Background(), "remember this", "u", "c")
	waitTerminal(t, task)

	select {
	case rec := <-store.saved:
		if rec.ID != task.ID || rec.Status != StatusCompleted || rec.ResultText != "persisted" {
			t.Errorf("unexpected record %+v", rec)
		}
		if len(rec.Events) != task.EventCount() {
			t.Errorf("record has %d events, task %d", len(rec.Events), task.EventCount())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("record never saved")
	}
}

func TestSummary(t *testing.T) {
	provider := &scriptedProvider{responses: []ChatResponse{{Content: "hi"}}}
	o := newTestOrchestrator(provider, &echoRunner{})
	task := o.Create(context.Background(), "p", "u", "c")
	waitTerminal(t, task)

	s := o.Summary(task)
	if s.ID != task.ID || s.Status != StatusCompleted || s.ResultText != "hi" {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.EventCount == 0 {
		t.Error("summary should carry the event count")
	}
	if s.PendingApprovals == nil {
		t.Error("pendingApprovals must serialize as [], not null")
	}
}

// gatedProvider blocks its first generation until released, then answers
// with final text.
type gatedProvider struct {
	release <-chan struct{}
	final   string
}

func (p *gatedProvider) Generate(ctx context.Context, _ ChatRequest) (ChatResponse, error) {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ChatResponse{}, ctx.Err()
	}
	return ChatResponse{Content: p.final}, nil
}

func (p *gatedProvider) Name() string { return "gated" }

// memStore captures the first saved record.
type memStore struct {
	saved chan TaskRecord
}

func (s *memStore) Init(context.Context) error { return nil }

func (s *memStore) SaveTask(_ context.Context, rec TaskRecord) error {
	select {
	case s.saved <- rec:
	default:
	}
	return nil
}

func (s *memStore) GetTask(_ context.Context, id string) (TaskRecord, error) {
	return TaskRecord{}, &ErrTaskNotFound{ID: id}
}

func (s *memStore) ListTasks(context.Context, string, int) ([]TaskRecord, error) {
	return nil, nil
}
