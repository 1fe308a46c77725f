package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/chronos/pkg/events"
	"github.com/astromechza/chronos/pkg/realtime"
)

var (
	ErrNotConnected = errors.New("not connected to the realtime channel")
	ErrGaveUp       = errors.New("gave up reconnecting to the realtime channel")
)

// Snapshot is one applied view of the event collection. Generation grows by
// one with every applied snapshot.
type Snapshot struct {
	Events     []events.Event
	Generation uint64
	Pushed     bool
}

// Sync keeps a local snapshot of the event collection. The initial fetch and
// the realtime pushes race: until the first push arrives the most recently
// resolved fetch is current, after that pushes always win and fetch results
// are discarded. Mutations made through the Client are never applied locally.
type Sync struct {
	client   *Client
	wsURL    string
	dialer   *websocket.Dialer
	attempts int
	delay    time.Duration
	// readTimeout is how long the connection may stay silent, pings included.
	readTimeout time.Duration

	mu        sync.Mutex
	snapshot  Snapshot
	connected bool
	conn      *websocket.Conn

	updates   chan Snapshot
	responses chan realtime.Response
	pingMu    sync.Mutex
}

type SyncOption func(*Sync)

// WithReconnect caps consecutive failed connection attempts and sets the fixed delay between them.
func WithReconnect(attempts int, delay time.Duration) SyncOption {
	return func(s *Sync) {
		s.attempts = attempts
		s.delay = delay
	}
}

// WithReadTimeout marks the connection dead after d without any frame or ping
// from the server. Use a multiple of the server's ping interval.
func WithReadTimeout(d time.Duration) SyncOption {
	return func(s *Sync) {
		s.readTimeout = d
	}
}

func WithDialer(d *websocket.Dialer) SyncOption {
	return func(s *Sync) {
		s.dialer = d
	}
}

func NewSync(c *Client, wsURL string, opts ...SyncOption) (*Sync, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse websocket url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("websocket url must be ws or wss: %q", wsURL)
	}
	s := &Sync{
		client:      c,
		wsURL:       u.String(),
		dialer:      websocket.DefaultDialer,
		attempts:    5,
		delay:       5 * time.Second,
		readTimeout: 60 * time.Second,
		updates:     make(chan Snapshot, 1),
		responses:   make(chan realtime.Response, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Connected reports whether the realtime connection is up.
func (s *Sync) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Current returns the latest snapshot. It reports false while disconnected,
// when callers should show a connecting placeholder instead.
func (s *Sync) Current() ([]events.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, false
	}
	out := make([]events.Event, len(s.snapshot.Events))
	copy(out, s.snapshot.Events)
	return out, true
}

// Updates delivers applied snapshots. Only the newest undelivered one is
// kept. The channel is closed when Run returns.
func (s *Sync) Updates() <-chan Snapshot {
	return s.updates
}

// Run fetches the collection once and keeps the realtime connection open until
// ctx is done or reconnecting gives up. It must be called at most once.
func (s *Sync) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	wg := new(sync.WaitGroup)
	defer func() {
		cancel()
		wg.Wait()
		close(s.updates)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		evs, err := s.client.List(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("failed to fetch events", "err", err)
			}
			return
		}
		s.apply(evs, false)
	}()

	failures := 0
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if connected {
			failures = 0
			slog.Warn("disconnected from realtime channel", "err", err)
		} else {
			failures++
			slog.Error("failed to connect to realtime channel", "attempt", failures, "err", err)
			if failures > s.attempts {
				return ErrGaveUp
			}
		}

		t := time.NewTimer(s.delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil
		}
	}
}

// session dials once and reads frames until the connection drops. It reports
// whether the dial succeeded.
func (s *Sync) session(ctx context.Context) (bool, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to dial: %w", err)
	}
	s.setConn(conn)
	slog.Info("connected to realtime channel", "url", s.wsURL)
	defer s.setConn(nil)

	stop := make(chan struct{})
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
		_ = conn.Close()
	}()

	extend := func() error {
		if s.readTimeout <= 0 {
			return nil
		}
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
	if err := extend(); err != nil {
		return true, fmt.Errorf("failed to set read deadline: %w", err)
	}
	conn.SetPingHandler(func(data string) error {
		if err := extend(); err != nil {
			return err
		}
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		mt, p, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("failed to read message: %w", err)
		}
		if err := extend(); err != nil {
			return true, fmt.Errorf("failed to set read deadline: %w", err)
		}
		if mt == websocket.TextMessage {
			s.handleFrame(p)
		}
	}
}

func (s *Sync) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	s.connected = conn != nil
}

func (s *Sync) handleFrame(p []byte) {
	var f realtime.Frame
	if err := json.Unmarshal(p, &f); err != nil {
		slog.Error("failed to decode frame", "err", err)
		return
	}
	switch f.Event {
	case realtime.EventSnapshot:
		var evs []events.Event
		if err := json.Unmarshal(f.Data, &evs); err != nil {
			slog.Error("failed to decode snapshot", "err", err)
			return
		}
		s.apply(evs, true)
	case realtime.EventResponse:
		var r realtime.Response
		if err := json.Unmarshal(f.Data, &r); err != nil {
			slog.Error("failed to decode response", "err", err)
			return
		}
		select {
		case s.responses <- r:
		default:
			slog.Warn("dropped unexpected realtime response")
		}
	default:
		slog.Debug("ignoring frame", "event", f.Event)
	}
}

func (s *Sync) apply(evs []events.Event, pushed bool) {
	if evs == nil {
		evs = []events.Event{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !pushed && s.snapshot.Pushed {
		slog.Debug("discarding fetched events after push", "generation", s.snapshot.Generation)
		return
	}
	s.snapshot = Snapshot{Events: evs, Generation: s.snapshot.Generation + 1, Pushed: pushed || s.snapshot.Pushed}
	slog.Info("applied snapshot", "events", len(evs), "generation", s.snapshot.Generation, "pushed", pushed)

	// latest wins: replace an undelivered snapshot
	select {
	case <-s.updates:
	default:
	}
	s.updates <- s.snapshot
}

// Ping sends a diagnostic request over the realtime channel and waits for its echo.
func (s *Sync) Ping(ctx context.Context, payload any) (realtime.Response, error) {
	s.pingMu.Lock()
	defer s.pingMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return realtime.Response{}, ErrNotConnected
	}

	select {
	case <-s.responses:
	default:
	}
	frame, err := realtime.Encode(realtime.EventRequest, payload)
	if err != nil {
		return realtime.Response{}, fmt.Errorf("failed to encode request: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return realtime.Response{}, fmt.Errorf("failed to write message: %w", err)
	}
	select {
	case r := <-s.responses:
		return r, nil
	case <-ctx.Done():
		return realtime.Response{}, ctx.Err()
	}
}
