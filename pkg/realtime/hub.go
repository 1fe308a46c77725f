// Package realtime fans event snapshots out to connected websocket clients.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/astromechza/chronos/pkg/events"
)

// Hub keeps the set of connected clients. It implements events.Publisher.
type Hub struct {
	upgrader     websocket.Upgrader
	sendBuffer   int
	writeTimeout time.Duration
	pingInterval time.Duration

	mu      sync.RWMutex
	clients map[uuid.UUID]*conn
	closed  bool
}

var _ events.Publisher = (*Hub)(nil)

type Option func(*Hub)

// WithSendBuffer sets how many frames may wait for a slow client.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.writeTimeout = d
		}
	}
}

func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the realtime namespace accepts any origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		sendBuffer:   16,
		writeTimeout: 10 * time.Second,
		pingInterval: 30 * time.Second,
		clients:      make(map[uuid.UUID]*conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type conn struct {
	id   uuid.UUID
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// offer queues a frame without blocking. It reports false if the frame was dropped.
func (c *conn) offer(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (h *Hub) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	ws, err := h.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	c := &conn{
		id:   uuid.New(),
		ws:   ws,
		send: make(chan []byte, h.sendBuffer),
		done: make(chan struct{}),
	}
	if !h.register(c) {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	slog.Info("realtime client connected", "client", c.id, "remote", request.RemoteAddr)
	defer func() {
		h.unregister(c)
		slog.Info("realtime client disconnected", "client", c.id)
	}()

	wg := new(sync.WaitGroup)
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer c.close()
		h.readLoop(c)
	}()
	go func() {
		defer wg.Done()
		defer c.close()
		if err := h.writeLoop(c); err != nil {
			slog.Debug("realtime writer stopped", "client", c.id, "err", err)
		}
	}()
	wg.Wait()
}

func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	return true
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) readLoop(c *conn) {
	c.ws.SetReadLimit(1 << 20)
	_ = c.ws.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	for {
		mt, p, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Error("failed to read message", "client", c.id, "err", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
		h.handleFrame(c, p)
	}
}

func (h *Hub) handleFrame(c *conn, p []byte) {
	var f Frame
	if err := json.Unmarshal(p, &f); err != nil {
		slog.Error("failed to decode frame", "client", c.id, "err", err)
		return
	}
	switch f.Event {
	case EventRequest:
		slog.Info("realtime request received", "client", c.id, "data", string(f.Data))
		original := f.Data
		if len(original) == 0 {
			original = json.RawMessage("null")
		}
		frame, err := Encode(EventResponse, Response{Message: ResponseMessage, OriginalRequest: original})
		if err != nil {
			slog.Error("failed to encode response", "client", c.id, "err", err)
			return
		}
		if !c.offer(frame) {
			slog.Warn("dropped response for slow client", "client", c.id)
		}
	default:
		slog.Debug("ignoring frame", "client", c.id, "event", f.Event)
	}
}

func (h *Hub) writeLoop(c *conn) error {
	t := time.NewTicker(h.pingInterval)
	defer t.Stop()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("failed to write message: %w", err)
			}
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				return fmt.Errorf("failed to ping: %w", err)
			}
		case <-c.done:
			return nil
		}
	}
}

// Publish sends the snapshot to every connected client. Clients whose send
// buffer is full miss this snapshot and receive a later one.
func (h *Hub) Publish(_ context.Context, snapshot []events.Event) error {
	if snapshot == nil {
		snapshot = []events.Event{}
	}
	frame, err := Encode(EventSnapshot, snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return errors.New("hub is closed")
	}
	delivered := 0
	for id, c := range h.clients {
		if c.offer(frame) {
			delivered++
		} else {
			slog.Warn("dropped snapshot for slow client", "client", id)
		}
	}
	slog.Info("broadcast snapshot", "events", len(snapshot), "clients", len(h.clients), "delivered", delivered)
	return nil
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*conn, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), time.Now().Add(time.Second))
		c.close()
	}
}
