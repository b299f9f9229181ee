package web

import (
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/cjeanneret/PiSense/internal/debug"
	"github.com/cjeanneret/PiSense/internal/logic/sampling"
	"github.com/cjeanneret/PiSense/internal/telemetry"
)

// TaskControl is the part of a sampling task the handlers use.
type TaskControl interface {
	ID() string
	Name() string
	State() sampling.State
	Result() sampling.Result
	Stats() sampling.Stats
	Stop() error
}

// Status is the JSON body of GET /status.
type Status struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	State string    `json:"state"`
	Value *float64  `json:"value"` // null before the first sample and for terminal markers
	Kind  string    `json:"kind"`
	Time  time.Time `json:"time,omitzero"`
	Seq   uint64    `json:"seq"`
	Error string    `json:"error,omitempty"`
	Stats StatsView `json:"stats"`
}

// StatsView mirrors sampling.Stats for JSON.
type StatsView struct {
	Cycles              uint64  `json:"cycles"`
	Samples             uint64  `json:"samples"`
	Failures            uint64  `json:"failures"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	LastElapsedMs       float64 `json:"last_elapsed_ms"`
}

func newStatus(t TaskControl) Status {
	res := t.Result()
	st := t.Stats()
	s := Status{
		ID:    t.ID(),
		Name:  t.Name(),
		State: t.State().String(),
		Value: finite(res.Value),
		Kind:  res.Kind.String(),
		Time:  res.Time,
		Seq:   res.Seq,
		Stats: StatsView{
			Cycles:              st.Cycles,
			Samples:             st.Samples,
			Failures:            st.Failures,
			ConsecutiveFailures: st.ConsecutiveFailures,
			LastElapsedMs:       float64(st.LastElapsed) / float64(time.Millisecond),
		},
	}
	if res.Err != nil {
		s.Error = res.Err.Error()
	}
	return s
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Task        TaskControl
	Metrics     *telemetry.Metrics // nil = no SSE client gauge
	staticFS    fs.FS
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, task TaskControl, metrics *telemetry.Metrics, staticFS fs.FS) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Task:        task,
		Metrics:     metrics,
		staticFS:    staticFS,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ServeIndex serves the main HTML page (root path only).
func (h *Handlers) ServeIndex(w http.ResponseWriter, r *http.Request) {
	data, err := fs.ReadFile(h.staticFS, "index.html")
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// HandleStatus returns a snapshot of the task as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newStatus(h.Task))
}

// HandleStop handles POST /stop. It only requests the stop; clients follow
// the state through /status or the stream.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	if st := h.Task.State(); st != sampling.StateRunning {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "task is not running",
			"state": st.String(),
		})
		return
	}
	if err := h.Task.Stop(); err != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	}
	debug.Info("Stop requested over HTTP (request %s)", RequestIDFromContext(r.Context()))
	h.Broadcaster.Broadcast("info", "Stop requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

// HandleHealthz reports liveness of the process, not of the task.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()
	if h.Metrics != nil {
		h.Metrics.SSEClients.Inc()
		defer h.Metrics.SSEClients.Dec()
	}

	// Current snapshot first so a new client does not wait for the next sample
	w.Write([]byte(": connected\n\n"))
	if snap, err := json.Marshal(newStatus(h.Task)); err == nil {
		w.Write([]byte("event: status\ndata: " + string(snap) + "\n\n"))
	}
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
