package web

import (
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/cjeanneret/PiSense/internal/logic/sampling"
)

// StatusEvent is one SSE message. Log lines carry Level and Msg; results
// also carry Kind, Seq and Value (omitted when the value is NaN).
type StatusEvent struct {
	Time  string   `json:"t"`
	Level string   `json:"l,omitempty"`
	Msg   string   `json:"msg"`
	Kind  string   `json:"kind,omitempty"`
	Seq   uint64   `json:"seq,omitempty"`
	Value *float64 `json:"value,omitempty"`
}

// StatusBroadcaster fans status events out to SSE clients.
type StatusBroadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
}

// NewStatusBroadcaster creates a new broadcaster.
func NewStatusBroadcaster() *StatusBroadcaster {
	return &StatusBroadcaster{
		clients: make(map[chan string]struct{}),
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *StatusBroadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribed clients.
func (b *StatusBroadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Broadcast sends a log line to all clients: {"t":"...","l":"info","msg":"..."}.
func (b *StatusBroadcaster) Broadcast(level, msg string) {
	b.send(StatusEvent{Level: level, Msg: msg})
}

// BroadcastMsg is a convenience for level "info".
func (b *StatusBroadcaster) BroadcastMsg(msg string) {
	b.Broadcast("info", msg)
}

// BroadcastResult sends a stored result or terminal marker to all clients.
func (b *StatusBroadcaster) BroadcastResult(res sampling.Result) {
	evt := StatusEvent{
		Level: "info",
		Msg:   res.String(),
		Kind:  res.Kind.String(),
		Seq:   res.Seq,
		Value: finite(res.Value),
	}
	if res.Terminal() {
		evt.Level = "warn"
	}
	if !res.Time.IsZero() {
		evt.Time = res.Time.Format(time.RFC3339Nano)
	}
	b.send(evt)
}

// send marshals evt and delivers it without blocking; slow clients miss
// messages once their buffer is full.
func (b *StatusBroadcaster) send(evt StatusEvent) {
	if evt.Time == "" {
		evt.Time = time.Now().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// finite returns a pointer to v, or nil for NaN and infinities which JSON
// cannot encode.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// BroadcastWriter implements io.Writer; each Write broadcasts the content to SSE clients.
func BroadcastWriter(b *StatusBroadcaster) *broadcastWriter {
	return &broadcastWriter{b: b}
}

// broadcastWriter wraps StatusBroadcaster as io.Writer for use with debug.SetOutput.
type broadcastWriter struct {
	b *StatusBroadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	if msg != "" {
		w.b.BroadcastMsg(msg)
	}
	return len(p), nil
}
