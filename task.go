package relay

import (
	"context"
	"sync"
	"time"
)

// TaskStatus is the lifecycle state of a task. Transitions are one-way from
// running to exactly one terminal value.
type TaskStatus string

const (
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Subscriber receives task events. A subscriber that returns an error is
// evicted. Subscribers must not block: hand events off to your own queue.
type Subscriber func(TaskEvent) error

// Task is one end-to-end execution initiated by a user prompt.
// Mutated only through the orchestrator; immutable once terminal.
type Task struct {
	ID          string    `json:"id"`
	Prompt      string    `json:"prompt"`
	RequesterID string    `json:"requester_id"`
	ChannelID   string    `json:"channel_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	mu         sync.Mutex
	status     TaskStatus
	events     []TaskEvent
	subs       map[int64]Subscriber
	subSeq     int64
	resultText string
	errMsg     string
	cancel     context.CancelFunc
	done       chan struct{} // closed on terminal transition
}

// Status returns the current lifecycle state.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// ResultText returns the final assistant text, "" while running.
func (t *Task) ResultText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resultText
}

// ErrorMessage returns the terminal error text, "" unless failed.
func (t *Task) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// Events returns a copy of the append-only event log.
func (t *Task) Events() []TaskEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TaskEvent, len(t.events))
	copy(out, t.events)
	return out
}

// EventCount returns the log length without copying.
func (t *Task) EventCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.events)
}

// Done returns a channel closed when the task reaches a terminal status.
// Composable with select for multiplexing subscriptions and cancellation.
func (t *Task) Done() <-chan struct{} { return t.done }

// emit appends ev to the log, applies its side effects, and synchronously
// notifies every subscriber in order. Events arriving after a terminal
// transition are dropped. Reports whether the event was accepted.
//
// Replay for new subscribers happens under the same lock (see subscribe),
// which is the no-gap, no-duplicate guarantee: an emit either completes
// before the snapshot or is delivered through the registered callback.
func (t *Task) emit(ev TaskEvent) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != StatusRunning {
		return false
	}
	t.events = append(t.events, ev)

	switch ev.Type {
	case EventAgentMessage:
		t.resultText = ev.Text
	case EventCompleted:
		t.transitionLocked(StatusCompleted)
	case EventError:
		t.errMsg = ev.Error
		t.transitionLocked(StatusFailed)
	}

	for id, sub := range t.subs {
		if err := safeNotify(sub, ev); err != nil {
			delete(t.subs, id)
		}
	}
	return true
}

// transitionLocked moves the task to a terminal status. Caller holds t.mu.
func (t *Task) transitionLocked(s TaskStatus) {
	if t.status != StatusRunning {
		return
	}
	t.status = s
	close(t.done)
	if t.cancel != nil {
		t.cancel()
	}
}

// subscribe registers cb with replay-then-follow semantics: the current log
// is delivered first, then every future event, in order, no duplicates.
// Returns an unsubscribe function.
func (t *Task) subscribe(cb Subscriber) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ev := range t.events {
		if safeNotify(cb, ev) != nil {
			return func() {}
		}
	}
	if t.status != StatusRunning {
		// Nothing further will arrive; skip registration.
		return func() {}
	}

	t.subSeq++
	id := t.subSeq
	t.subs[id] = cb
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}
}

// safeNotify invokes a subscriber, converting a panic into an error so one
// bad subscriber is evicted instead of taking down the emitting task.
func safeNotify(sub Subscriber, ev TaskEvent) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ErrSubscriberPanic{Panic: p}
		}
	}()
	return sub(ev)
}

// ErrSubscriberPanic wraps a panic recovered from a subscriber callback.
type ErrSubscriberPanic struct {
	Panic any
}

func (e *ErrSubscriberPanic) Error() string {
	return "subscriber panic"
}

// PendingRef identifies an open approval on a task summary.
type PendingRef struct {
	CallID   string `json:"callId"`
	ToolPath string `json:"toolPath"`
}

// TaskSummary is the serialized task shape exposed over HTTP.
type TaskSummary struct {
	ID               string       `json:"id"`
	Prompt           string       `json:"prompt"`
	RequesterID      string       `json:"requesterId"`
	ChannelID        string       `json:"channelId,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
	Status           TaskStatus   `json:"status"`
	ResultText       string       `json:"resultText,omitempty"`
	ErrorMessage     string       `json:"errorMessage,omitempty"`
	EventCount       int          `json:"eventCount"`
	PendingApprovals []PendingRef `json:"pendingApprovals"`
}
