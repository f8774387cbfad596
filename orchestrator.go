package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// nopLogger discards all output. Used wherever no logger is configured so
// call sites never nil-check.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// Orchestrator owns the task registry, the approval engine, and the agent
// loops running on behalf of tasks. Many tasks run concurrently; each task
// is single-threaded. All methods are safe for concurrent use.
type Orchestrator struct {
	provider  Provider
	tools     *Tree
	runner    CodeRunner
	approvals *ApprovalEngine
	store     TaskStore
	logger    *slog.Logger
	tracer    Tracer
	maxRounds int

	mu    sync.Mutex
	tasks map[string]*Task
	order []string // task ids in creation order
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets a structured logger for task lifecycle events.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer enables span creation for tasks, loop rounds, and approvals.
func WithTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithStore enables write-behind audit persistence of terminal tasks.
func WithStore(s TaskStore) OrchestratorOption {
	return func(o *Orchestrator) { o.store = s }
}

// WithMaxRounds overrides the per-task budget of code executions.
func WithMaxRounds(n int) OrchestratorOption {
	return func(o *Orchestrator) { o.maxRounds = n }
}

// NewOrchestrator creates an orchestrator over a provider, a tool tree, and
// a code runner.
func NewOrchestrator(p Provider, tools *Tree, runner CodeRunner, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		provider:  p,
		tools:     tools,
		runner:    runner,
		approvals: NewApprovalEngine(),
		logger:    nopLogger,
		maxRounds: defaultMaxRounds,
		tasks:     make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Approvals exposes the engine for external resolvers (HTTP, bots).
func (o *Orchestrator) Approvals() *ApprovalEngine { return o.approvals }

// Tools returns the tree tasks execute against.
func (o *Orchestrator) Tools() *Tree { return o.tools }

// Create registers a new running task and starts its agent loop in a
// background goroutine. The parent ctx bounds the loop's lifetime;
// cancelling it cancels the task.
func (o *Orchestrator) Create(ctx context.Context, prompt, requesterID, channelID string) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		ID:          "task-" + NewID(),
		Prompt:      prompt,
		RequesterID: requesterID,
		ChannelID:   channelID,
		CreatedAt:   time.Now(),
		status:      StatusRunning,
		subs:        make(map[int64]Subscriber),
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	o.mu.Lock()
	o.tasks[t.ID] = t
	o.order = append(o.order, t.ID)
	o.mu.Unlock()

	o.logger.Info("task created", "task", t.ID, "requester", requesterID)

	loop := &Loop{
		Provider:        o.provider,
		Tools:           o.tools,
		Runner:          o.runner,
		MaxRounds:       o.maxRounds,
		Logger:          o.logger,
		Tracer:          o.tracer,
		Publish:         func(ev TaskEvent) { o.Emit(t.ID, ev) },
		RequestApproval: o.approvalFunc(t),
	}

	go func() {
		defer cancel() // release context resources on completion
		defer func() {
			if p := recover(); p != nil {
				o.logger.Error("agent loop panic", "task", t.ID, "panic", fmt.Sprintf("%v", p))
				o.Emit(t.ID, ErrorEvent(fmt.Sprintf("internal error: %v", p)))
			}
			o.finalize(t)
		}()
		loop.Run(taskCtx, prompt)
	}()

	return t
}

// approvalFunc builds the rendezvous closure the runner calls for every
// gated tool invocation on this task.
func (o *Orchestrator) approvalFunc(t *Task) ApprovalFunc {
	return func(ctx context.Context, req ApprovalRequest) (Decision, error) {
		// Register before publishing so an external resolver that reacts
		// to the event always finds the pending entry.
		p := o.approvals.Register(t.ID, req)
		t.emit(ApprovalRequestEvent(ApprovalPrompt{
			ID:       req.CallID,
			ToolPath: req.ToolPath,
			Input:    req.Input,
			Preview:  req.Preview,
		}))

		waitCtx, cancel := context.WithTimeout(ctx, ApprovalTTL)
		defer cancel()
		d, err := p.Await(waitCtx)
		if err != nil {
			return "", err
		}
		t.emit(ApprovalResolvedEvent(req.CallID, d))
		o.logger.Info("approval resolved", "task", t.ID, "call", req.CallID, "decision", d)
		return d, nil
	}
}

// Get returns a task by id.
func (o *Orchestrator) Get(id string) (*Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	return t, ok
}

// List returns tasks in creation order, optionally filtered by requester.
func (o *Orchestrator) List(requesterID string) []*Task {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*Task
	for _, id := range o.order {
		t := o.tasks[id]
		if requesterID == "" || t.RequesterID == requesterID {
			out = append(out, t)
		}
	}
	return out
}

// Emit appends an event to a task's log and notifies subscribers. Events
// for unknown or terminal tasks are dropped. Reports acceptance.
func (o *Orchestrator) Emit(taskID string, ev TaskEvent) bool {
	t, ok := o.Get(taskID)
	if !ok {
		return false
	}
	accepted := t.emit(ev)
	if accepted && IsTerminalEvent(ev.Type) {
		o.finalize(t)
	}
	return accepted
}

// Subscribe registers a follower with replay-then-follow delivery.
// Returns nil if the task is unknown.
func (o *Orchestrator) Subscribe(taskID string, cb Subscriber) func() {
	t, ok := o.Get(taskID)
	if !ok {
		return nil
	}
	return t.subscribe(cb)
}

// Cancel transitions a running task to cancelled. No events are appended
// after; in-flight work stops cooperatively at its next suspension point.
func (o *Orchestrator) Cancel(id string) error {
	t, ok := o.Get(id)
	if !ok {
		return &ErrTaskNotFound{ID: id}
	}
	t.mu.Lock()
	if t.status != StatusRunning {
		status := t.status
		t.mu.Unlock()
		return &ErrNotRunning{ID: id, Status: status}
	}
	t.transitionLocked(StatusCancelled)
	t.mu.Unlock()

	o.logger.Info("task cancelled", "task", id)
	o.finalize(t)
	return nil
}

// finalize runs the terminal side effects exactly once per task: abandoned
// approval waits are released and the audit record is written behind.
func (o *Orchestrator) finalize(t *Task) {
	if !t.Status().IsTerminal() {
		return
	}
	o.approvals.Abort(t.ID)
	if o.store == nil {
		return
	}
	rec := o.record(t)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.store.SaveTask(ctx, rec); err != nil {
			o.logger.Warn("audit save failed", "task", t.ID, "error", err)
		}
	}()
}

// record flattens a terminal task into its audit form.
func (o *Orchestrator) record(t *Task) TaskRecord {
	events := t.Events()
	var receipts []Receipt
	for _, ev := range events {
		if ev.Type == EventToolResult && ev.Receipt != nil {
			receipts = append(receipts, *ev.Receipt)
		}
	}
	return TaskRecord{
		ID:           t.ID,
		Prompt:       t.Prompt,
		RequesterID:  t.RequesterID,
		ChannelID:    t.ChannelID,
		CreatedAt:    t.CreatedAt,
		FinishedAt:   time.Now(),
		Status:       t.Status(),
		ResultText:   t.ResultText(),
		ErrorMessage: t.ErrorMessage(),
		Events:       events,
		Receipts:     receipts,
	}
}

// Summary serializes a task for the HTTP surface.
func (o *Orchestrator) Summary(t *Task) TaskSummary {
	pending := make([]PendingRef, 0)
	for _, p := range o.approvals.ListPending(t.ID) {
		pending = append(pending, PendingRef{CallID: p.CallID, ToolPath: p.ToolPath})
	}
	return TaskSummary{
		ID:               t.ID,
		Prompt:           t.Prompt,
		RequesterID:      t.RequesterID,
		ChannelID:        t.ChannelID,
		CreatedAt:        t.CreatedAt,
		Status:           t.Status(),
		ResultText:       t.ResultText(),
		ErrorMessage:     t.ErrorMessage(),
		EventCount:       t.EventCount(),
		PendingApprovals: pending,
	}
}
