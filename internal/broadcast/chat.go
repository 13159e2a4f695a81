package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/remote-panel/errors"
	"github.com/grovetools/remote-panel/internal/activity"
	"github.com/grovetools/remote-panel/internal/mailbox"
	"github.com/grovetools/remote-panel/internal/metrics"
	"github.com/grovetools/remote-panel/logging"
	"github.com/sirupsen/logrus"
)

const (
	PollInterval = 2 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	clientBuffer   = 64
)

// Message types of the chat WebSocket protocol.
const (
	TypeInit     = "chat:init"
	TypeUpdate   = "chat:update"
	TypeAck      = "chat:ack"
	TypeError    = "chat:error"
	TypeRefresh  = "chat:refresh"
	TypeSend     = "chat:send"
	TypeActivity = "activity:event"
)

// LogSink receives panel log lines.
type LogSink interface {
	Log(source, message string)
}

type snapshotFrame struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
	mailbox.Snapshot
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type ackFrame struct {
	Type string        `json:"type"`
	OK   bool          `json:"ok"`
	Note mailbox.Entry `json:"note"`
}

type activityFrame struct {
	Type   string           `json:"type"`
	Event  activity.Event   `json:"event"`
	Status *activity.Status `json:"status"`
}

type inboundFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Chat owns the WebSocket clients. It implements mailbox.Notifier.
type Chat struct {
	bridge   *mailbox.Bridge
	logs     LogSink
	metrics  *metrics.Metrics
	logger   *logrus.Entry
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}

	sigMu         sync.Mutex
	lastSignature string
}

var _ mailbox.Notifier = (*Chat)(nil)

// NewChat creates the chat broadcaster.
func NewChat(bridge *mailbox.Bridge, logs LogSink, m *metrics.Metrics) *Chat {
	return &Chat{
		bridge:  bridge,
		logs:    logs,
		metrics: m,
		logger:  logging.NewLogger("broadcast"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		clients: make(map[*client]struct{}),
	}
}

type client struct {
	conn      *websocket.Conn
	ip        string
	send      chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// queue hands payload to the client's writer. A client that cannot keep up
// misses frames rather than stalling the broadcaster.
func (c *client) queue(payload []byte) {
	select {
	case <-c.done:
	case c.send <- payload:
	default:
	}
}

func encode(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(errorFrame{Type: TypeError, Error: "Failed to encode message."})
	}
	return data
}

// Clients returns the number of connected WebSocket clients.
func (c *Chat) Clients() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

func (c *Chat) add(cl *client) {
	c.mu.Lock()
	c.clients[cl] = struct{}{}
	n := len(c.clients)
	c.mu.Unlock()
	c.metrics.SetClients("ws", n)
}

func (c *Chat) remove(cl *client) {
	c.mu.Lock()
	delete(c.clients, cl)
	n := len(c.clients)
	c.mu.Unlock()
	cl.close()
	c.metrics.SetClients("ws", n)
}

func (c *Chat) each(payload []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for cl := range c.clients {
		cl.queue(payload)
	}
}

func (c *Chat) setSignature(sig string) {
	c.sigMu.Lock()
	c.lastSignature = sig
	c.sigMu.Unlock()
}

// BroadcastChat sends a chat:update to every client. Unless force is set
// nothing is sent when the snapshot signature has not changed since the
// last one sent. With no clients connected no snapshot is built.
func (c *Chat) BroadcastChat(ctx context.Context, reason string, force bool) {
	if c.Clients() == 0 {
		return
	}
	snap, err := c.bridge.Snapshot(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to build chat snapshot")
		return
	}
	sig := snap.Signature()

	c.sigMu.Lock()
	if !force && sig == c.lastSignature {
		c.sigMu.Unlock()
		return
	}
	c.lastSignature = sig
	c.sigMu.Unlock()

	c.each(encode(snapshotFrame{Type: TypeUpdate, Reason: reason, Snapshot: snap}))
	c.metrics.Broadcast("ws:chat")
}

// BroadcastActivity sends an activity event with the current agent status.
func (c *Chat) BroadcastActivity(e activity.Event) {
	if c.Clients() == 0 {
		return
	}
	frame := activityFrame{Type: TypeActivity, Event: e}
	if status, err := c.bridge.Status.Read(); err == nil {
		frame.Status = &status
	}
	c.each(encode(frame))
	c.metrics.Broadcast("ws:activity")
}

// Poll broadcasts changed snapshots every interval until ctx is done.
func (c *Chat) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.BroadcastChat(ctx, "poll", false)
		}
	}
}

// ServeWS upgrades an authenticated request. ip is the client address the
// request was admitted with.
func (c *Chat) ServeWS(w http.ResponseWriter, r *http.Request, ip string) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WithError(err).Debug("WebSocket upgrade failed")
		return
	}
	cl := &client{
		conn: conn,
		ip:   ip,
		send: make(chan []byte, clientBuffer),
		done: make(chan struct{}),
	}
	c.add(cl)
	if c.logs != nil {
		c.logs.Log("chat", "WebSocket client connected.")
	}

	go c.writePump(cl)

	// The request context ends with the handler, so the connection gets its own.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cl.done
		cancel()
	}()

	snap, err := c.bridge.Snapshot(ctx)
	if err != nil {
		cl.queue(encode(errorFrame{Type: TypeError, Error: errors.Message(err)}))
	} else {
		c.setSignature(snap.Signature())
		cl.queue(encode(snapshotFrame{Type: TypeInit, Snapshot: snap}))
	}

	go c.readPump(ctx, cl)
}

func (c *Chat) readPump(ctx context.Context, cl *client) {
	defer func() {
		c.remove(cl)
		cl.conn.Close()
	}()

	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("WebSocket read error")
			}
			return
		}
		c.handle(ctx, cl, raw)
	}
}

func (c *Chat) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case <-cl.done:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = cl.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down"))
			return
		case payload := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				cl.close()
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cl.close()
				return
			}
		}
	}
}

func (c *Chat) handle(ctx context.Context, cl *client, raw []byte) {
	var in inboundFrame
	if err := json.Unmarshal(raw, &in); err != nil {
		cl.queue(encode(errorFrame{Type: TypeError, Error: "Invalid JSON message."}))
		return
	}

	switch kind := strings.TrimSpace(in.Type); kind {
	case TypeRefresh:
		snap, err := c.bridge.Snapshot(ctx)
		if err != nil {
			cl.queue(encode(errorFrame{Type: TypeError, Error: errors.Message(err)}))
			return
		}
		c.setSignature(snap.Signature())
		cl.queue(encode(snapshotFrame{Type: TypeUpdate, Reason: "manual-refresh", Snapshot: snap}))

	case TypeSend:
		note, err := c.bridge.SubmitNote(in.Message, cl.ip, mailbox.ChannelWebSocket)
		if err != nil {
			cl.queue(encode(errorFrame{Type: TypeError, Error: errors.Message(err)}))
			return
		}
		cl.queue(encode(ackFrame{Type: TypeAck, OK: true, Note: note}))
		c.BroadcastChat(ctx, TypeSend, true)

	default:
		if kind == "" {
			kind = "(empty)"
		}
		cl.queue(encode(errorFrame{Type: TypeError, Error: "Unsupported message type: " + kind}))
	}
}

// Close disconnects every client.
func (c *Chat) Close() {
	c.mu.Lock()
	clients := make([]*client, 0, len(c.clients))
	for cl := range c.clients {
		clients = append(clients, cl)
	}
	c.mu.Unlock()
	for _, cl := range clients {
		cl.close()
	}
}
