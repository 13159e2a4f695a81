// Package broadcast pushes panel state to connected browsers: supervisor
// state and log lines over server-sent events, chat snapshots and activity
// events over WebSocket.
package broadcast

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/grovetools/remote-panel/internal/metrics"
	"github.com/grovetools/remote-panel/internal/supervisor"
	"github.com/grovetools/remote-panel/logging"
	"github.com/sirupsen/logrus"
)

// EventType names an SSE frame.
type EventType string

const (
	EventState EventType = "state"
	EventLog   EventType = "log"
)

// Event is one SSE frame.
type Event struct {
	Type    EventType
	Payload interface{}
}

// StateFunc returns the public supervisor state.
type StateFunc func() interface{}

const subscriberBuffer = 100

// Hub fans supervisor events out to SSE subscribers. It implements
// supervisor.Listener.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}

	state   StateFunc
	metrics *metrics.Metrics
	logger  *logrus.Entry
}

// NewHub creates a Hub that snapshots state on every change.
func NewHub(state StateFunc, m *metrics.Metrics) *Hub {
	return &Hub{
		subscribers: make(map[chan Event]struct{}),
		state:       state,
		metrics:     m,
		logger:      logging.NewLogger("broadcast"),
	}
}

var _ supervisor.Listener = (*Hub)(nil)

// Subscribe creates a new subscription channel.
func (h *Hub) Subscribe() chan Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Event, subscriberBuffer)
	h.subscribers[ch] = struct{}{}
	h.metrics.SetClients("sse", len(h.subscribers))
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[ch]; !ok {
		return
	}
	delete(h.subscribers, ch)
	close(ch)
	h.metrics.SetClients("sse", len(h.subscribers))
}

// Subscribers returns the number of connected SSE clients.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Publish delivers e to every subscriber without blocking. A subscriber
// whose buffer is full misses the event.
func (h *Hub) Publish(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
	h.metrics.Broadcast("sse:" + string(e.Type))
}

// OnLog forwards a supervisor log line.
func (h *Hub) OnLog(entry supervisor.LogEntry) {
	h.Publish(Event{Type: EventLog, Payload: entry})
}

// OnStateChange publishes a fresh state snapshot.
func (h *Hub) OnStateChange() {
	h.Publish(Event{Type: EventState, Payload: h.state()})
}

func writeFrame(w http.ResponseWriter, e Event) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Type, data)
	return err
}

// ServeHTTP streams events until the client disconnects. The current state
// is sent first.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch := h.Subscribe()
	defer h.Unsubscribe(ch)

	if err := writeFrame(w, Event{Type: EventState, Payload: h.state()}); err != nil {
		return
	}
	flusher.Flush()
	h.logger.Debug("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("SSE client disconnected")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := writeFrame(w, e); err != nil {
				h.logger.WithError(err).Debug("Failed to write SSE frame")
				return
			}
			flusher.Flush()
		}
	}
}

// Close drops every subscriber, ending their streams.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subscribers {
		delete(h.subscribers, ch)
		close(ch)
	}
	h.metrics.SetClients("sse", 0)
}
