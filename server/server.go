// Package server exposes the orchestrator over a small REST surface plus a
// server-sent-events stream per task.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	relay "github.com/nevindra/relay"
)

// Server wires the HTTP handlers around an orchestrator.
type Server struct {
	orch   *relay.Orchestrator
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request/stream logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a Server over an orchestrator.
func New(orch *relay.Orchestrator, opts ...Option) *Server {
	s := &Server{orch: orch, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router. Shapes and status codes are part of the
// public contract; keep them stable.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/tasks", s.createTask)
	r.Get("/tasks", s.listTasks)
	r.Get("/tasks/{id}", s.getTask)
	r.Get("/tasks/{id}/events", s.streamEvents)
	r.Post("/tasks/{id}/cancel", s.cancelTask)
	r.Post("/tasks/{id}/approval-rules", s.addRule)
	r.Post("/approvals/{callId}", s.resolveApproval)

	return r
}

type createTaskRequest struct {
	Prompt      string `json:"prompt"`
	RequesterID string `json:"requesterId"`
	ChannelID   string `json:"channelId,omitempty"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Prompt == "" || req.RequesterID == "" {
		writeError(w, http.StatusBadRequest, "prompt and requesterId are required")
		return
	}

	// The task must outlive this request; only process shutdown or an
	// explicit cancel stops it.
	t := s.orch.Create(context.WithoutCancel(r.Context()), req.Prompt, req.RequesterID, req.ChannelID)
	s.logger.Info("task accepted", "task", t.ID, "requester", req.RequesterID)
	writeJSON(w, http.StatusCreated, map[string]any{
		"taskId": t.ID,
		"status": t.Status(),
	})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.orch.List(r.URL.Query().Get("requesterId"))
	out := make([]relay.TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, s.orch.Summary(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, ok := s.orch.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Summary(t))
}

func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.orch.Cancel(id)
	var notFound *relay.ErrTaskNotFound
	var notRunning *relay.ErrNotRunning
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.As(err, &notRunning):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"taskId": id,
		"status": relay.StatusCancelled,
	})
}

type resolveRequest struct {
	Decision relay.Decision `json:"decision"`
}

func (s *Server) resolveApproval(w http.ResponseWriter, r *http.Request) {
	callID := chi.URLParam(r, "callId")
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Decision != relay.DecisionApproved && req.Decision != relay.DecisionDenied {
		writeError(w, http.StatusBadRequest, `decision must be "approved" or "denied"`)
		return
	}
	if !s.orch.Approvals().Resolve(callID, req.Decision) {
		writeError(w, http.StatusNotFound, "approval unknown or already resolved")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"callId":   callID,
		"decision": req.Decision,
	})
}

func (s *Server) addRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.orch.Get(id); !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	var rule relay.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	stored, resolved, err := s.orch.Approvals().AddRule(id, rule)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if resolved == nil {
		resolved = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ruleId":   stored.ID,
		"rule":     stored,
		"resolved": resolved,
	})
}

// streamEventBuffer bounds how far a slow SSE client may fall behind before
// it is evicted. Event logs are short (bounded by the round budget), so
// overflow means a stuck client, not a busy task.
const streamEventBuffer = 1024

var errSlowConsumer = errors.New("slow consumer")

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	t, ok := s.orch.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The subscriber callback runs on the emitting task's goroutine and
	// must not block; events are handed off through a buffered channel.
	ch := make(chan relay.TaskEvent, streamEventBuffer)
	unsub := s.orch.Subscribe(t.ID, func(ev relay.TaskEvent) error {
		select {
		case ch <- ev:
			return nil
		default:
			return errSlowConsumer
		}
	})
	if unsub != nil {
		defer unsub()
	}

	for {
		select {
		case ev := <-ch:
			if !writeSSE(w, flusher, ev) || relay.IsTerminalEvent(ev.Type) {
				return
			}
		case <-t.Done():
			// Drain whatever was buffered before the terminal transition.
			// Cancellation appends no event, so the drain may be empty.
			for {
				select {
				case ev := <-ch:
					if !writeSSE(w, flusher, ev) {
						return
					}
				default:
					return
				}
			}
		case <-r.Context().Done():
			return
		}
	}
}

// writeSSE frames one event. Reports false when the client is gone.
func writeSSE(w http.ResponseWriter, flusher http.Flusher, ev relay.TaskEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return true
	}
	if _, err := w.Write([]byte("event: " + string(ev.Type) + "\ndata: " + string(data) + "\n\n")); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	s.logger.Info("http server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
