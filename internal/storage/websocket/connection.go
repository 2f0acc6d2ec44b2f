package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fleetsim/fleetctl/internal/queue"
	"github.com/fleetsim/fleetctl/pkg/streaming"
	ws "github.com/gorilla/websocket"
)

const (
	outboxSize   = 10_000
	maxReconnect = 10
	maxBackoff   = 30 * time.Second
	writeWait    = 10 * time.Second
	ackTimeout   = 10 * time.Second
)

var errStreamClosed = errors.New("stream closed")

// frame is one outgoing envelope tagged with its message type.
type frame struct {
	kind string
	data []byte
}

// stream owns the connection to the live viewer. One writer goroutine
// drains the outbox and performs every write. After a failure it redials
// and replays the preamble of the current run: the start_run envelope and
// every add_vehicle envelope the server already received.
type stream struct {
	url     string
	token   string
	backoff time.Duration
	logger  *slog.Logger

	outbox  *queue.Queue[frame]
	wake    chan struct{}
	broken  chan *ws.Conn
	done    chan struct{}
	stopped chan struct{}

	mu       sync.Mutex
	conn     *ws.Conn
	closed   bool
	running  bool
	start    []byte
	vehicles [][]byte
	waiters  map[string]chan struct{}
}

func newStream(logger *slog.Logger) *stream {
	return &stream{
		backoff: time.Second,
		logger:  logger,
		outbox:  queue.NewBounded[frame](outboxSize),
		wake:    make(chan struct{}, 1),
		broken:  make(chan *ws.Conn, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		waiters: make(map[string]chan struct{}),
	}
}

// dial connects and starts the writer.
func (s *stream) dial(rawURL, token string) error {
	s.url = rawURL
	s.token = token

	conn, err := s.dialOnce()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.running = true
	s.mu.Unlock()

	go s.read(conn)
	go s.write()
	return nil
}

func (s *stream) dialOnce() (*ws.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, _, err := ws.DefaultDialer.Dial(s.url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// write is the only goroutine writing to the connection.
func (s *stream) write() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		case conn := <-s.broken:
			if !s.current(conn) {
				continue
			}
			if !s.reconnect() {
				return
			}
		case <-s.wake:
		}
		if !s.drain() {
			return
		}
	}
}

// drain writes the outbox in order. A failed write puts the rest back and
// reconnects. It reports false once the stream is shutting down.
func (s *stream) drain() bool {
	for {
		batch := s.outbox.GetAndEmpty()
		if len(batch) == 0 {
			return true
		}
		for i, f := range batch {
			s.mu.Lock()
			conn := s.conn
			s.mu.Unlock()

			if conn == nil || writeFrame(conn, f.data) != nil {
				s.outbox.Requeue(batch[i:])
				if !s.reconnect() {
					return false
				}
				if !s.connected() {
					return true
				}
				break
			}
			s.delivered(f)
		}
	}
}

func (s *stream) current(conn *ws.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn == conn
}

func (s *stream) connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func writeFrame(conn *ws.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(ws.TextMessage, data)
}

// delivered updates the run preamble with a frame the server received.
func (s *stream) delivered(f frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch f.kind {
	case streaming.TypeStartRun:
		s.start = f.data
		s.vehicles = nil
	case streaming.TypeAddVehicle:
		s.vehicles = append(s.vehicles, f.data)
	case streaming.TypeEndRun:
		s.start = nil
		s.vehicles = nil
	}
}

// preamble returns the frames replayed after a reconnect.
func (s *stream) preamble() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.start == nil {
		return nil
	}
	out := make([][]byte, 0, len(s.vehicles)+1)
	out = append(out, s.start)
	return append(out, s.vehicles...)
}

// reconnect redials with exponential backoff. It gives up after
// maxReconnect attempts and leaves the outbox queued for the next wake.
// It reports false when the stream was closed meanwhile.
func (s *stream) reconnect() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	backoff := s.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		s.logger.Info("Reconnecting to WebSocket", "attempt", attempt, "backoff", backoff)
		select {
		case <-s.done:
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)

		conn, err := s.dialOnce()
		if err != nil {
			s.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			continue
		}
		replay := s.preamble()
		if err := replayAll(conn, replay); err != nil {
			s.logger.Warn("Run replay failed after reconnect", "error", err)
			_ = conn.Close()
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		go s.read(conn)

		s.logger.Info("WebSocket reconnected", "attempt", attempt, "replayed", len(replay))
		return true
	}

	s.logger.Error("WebSocket reconnect failed after max attempts", "maxAttempts", maxReconnect, "queued", s.outbox.Len())
	return true
}

func replayAll(conn *ws.Conn, frames [][]byte) error {
	for _, data := range frames {
		if err := writeFrame(conn, data); err != nil {
			return err
		}
	}
	return nil
}

// read routes acks to their waiters until conn fails.
func (s *stream) read(conn *ws.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			current := s.conn == conn && !s.closed
			s.mu.Unlock()
			if current {
				s.logger.Warn("WebSocket read error", "error", err)
				select {
				case s.broken <- conn:
				default:
				}
			}
			return
		}

		var ack streaming.AckMessage
		if err := json.Unmarshal(message, &ack); err != nil || ack.Type != "ack" {
			s.logger.Debug("Non-ack message received", "raw", string(message))
			continue
		}
		s.mu.Lock()
		if ch, ok := s.waiters[ack.For]; ok {
			close(ch)
			delete(s.waiters, ack.For)
		}
		s.mu.Unlock()
	}
}

// send queues a frame. A full outbox drops its oldest frame.
func (s *stream) send(kind string, data []byte) {
	s.outbox.Push(frame{kind: kind, data: data})
	notify(s.wake)
}

// request queues a frame and waits for the server to acknowledge its type.
func (s *stream) request(kind string, data []byte, timeout time.Duration) error {
	ch := make(chan struct{})
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", kind, errStreamClosed)
	}
	s.waiters[kind] = ch
	s.mu.Unlock()

	s.send(kind, data)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		s.mu.Lock()
		if s.waiters[kind] == ch {
			delete(s.waiters, kind)
		}
		s.mu.Unlock()
		return fmt.Errorf("timeout waiting for ack of %q", kind)
	case <-s.done:
		return fmt.Errorf("waiting for ack of %q: %w", kind, errStreamClosed)
	}
}

// pending returns the number of queued frames.
func (s *stream) pending() int {
	return s.outbox.Len()
}

// close stops the writer, then sends a close frame.
func (s *stream) close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	running := s.running
	s.mu.Unlock()

	if running {
		<-s.stopped
	}

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	_ = conn.WriteMessage(ws.CloseMessage, ws.FormatCloseMessage(ws.CloseNormalClosure, ""))
	return conn.Close()
}
