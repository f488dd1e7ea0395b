package simbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/b2d-phantom/recorder/internal/sim"
	"github.com/b2d-phantom/recorder/pkg/bridge"
)

const (
	sendChSize = 256
	writeWait  = 10 * time.Second
	maxBackoff = 30 * time.Second
)

// ErrClosed is returned for calls on a closed or broken connection.
var ErrClosed = errors.New("bridge connection closed")

type outgoing struct {
	kind int
	data []byte
}

// connection manages the bridge WebSocket with a single write goroutine
// and a single read goroutine. Responses are matched to calls by id.
type connection struct {
	mu      sync.Mutex
	conn    *ws.Conn
	sendCh  chan outgoing
	done    chan struct{} // closed on shutdown
	closed  bool
	readErr error

	nextID  atomic.Uint64
	pending map[uint64]chan bridge.Envelope
	sensors map[uint32]func(sim.Measurement)

	logger *slog.Logger
}

func newConnection(logger *slog.Logger) *connection {
	return &connection{
		sendCh:  make(chan outgoing, sendChSize),
		done:    make(chan struct{}),
		pending: make(map[uint64]chan bridge.Envelope),
		sensors: make(map[uint32]func(sim.Measurement)),
		logger:  logger,
	}
}

// dial connects with exponential backoff and starts the read/write loops.
func (c *connection) dial(ctx context.Context, url string, attempts int, backoff time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		conn, _, err := ws.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			c.mu.Lock()
			c.conn = conn
			c.mu.Unlock()

			go c.writeLoop()
			go c.readLoop()
			c.logger.Info("Connected to simulator bridge", "url", url, "attempt", attempt)
			return nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}

		c.logger.Warn("Bridge dial failed", "attempt", attempt, "backoff", backoff, "error", err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
	return fmt.Errorf("websocket dial failed after %d attempts: %w", attempts, lastErr)
}

// writeLoop drains sendCh and writes messages to the WebSocket.
func (c *connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.sendCh:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				continue
			}

			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.fail(fmt.Errorf("set write deadline: %w", err))
				return
			}
			if err := conn.WriteMessage(msg.kind, msg.data); err != nil {
				c.fail(fmt.Errorf("write: %w", err))
				return
			}
		}
	}
}

// readLoop routes results to pending calls and sensor frames to their
// listeners. Listeners run on this goroutine.
func (c *connection) readLoop() {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		if conn == nil {
			return
		}

		kind, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			c.fail(fmt.Errorf("read: %w", err))
			return
		}

		if kind == ws.BinaryMessage {
			c.deliver(message)
			continue
		}

		var env bridge.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.logger.Debug("Unparseable bridge message", "raw", string(message))
			continue
		}
		if env.Type != bridge.TypeResult {
			c.logger.Debug("Unexpected bridge message", "type", env.Type)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[env.ID]
		delete(c.pending, env.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("Result for unknown call", "id", env.ID)
			continue
		}
		ch <- env
	}
}

func (c *connection) deliver(data []byte) {
	frame, err := bridge.DecodeSensorFrame(data)
	if err != nil {
		c.logger.Warn("Dropping malformed sensor frame", "error", err)
		return
	}
	c.mu.Lock()
	fn := c.sensors[frame.SensorID]
	c.mu.Unlock()
	if fn == nil {
		return
	}
	fn(sim.Measurement{Frame: frame.Frame, Points: frame.Points})
}

// fail marks the connection broken and releases every pending call.
func (c *connection) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil || c.closed {
		return
	}
	c.logger.Error("Simulator bridge connection lost", "error", err)
	c.readErr = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *connection) listen(sensorID uint32, fn func(sim.Measurement)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fn == nil {
		delete(c.sensors, sensorID)
		return
	}
	c.sensors[sensorID] = fn
}

// call sends a request and waits for its result. out may be nil.
func (c *connection) call(ctx context.Context, typ string, payload, out any) error {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", typ, err)
		}
		raw = data
	}

	id := c.nextID.Add(1)
	data, err := json.Marshal(bridge.Envelope{Type: typ, ID: id, Payload: raw})
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}

	ch := make(chan bridge.Envelope, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.readErr != nil {
		err := c.readErr
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	c.pending[id] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	select {
	case c.sendCh <- outgoing{kind: ws.TextMessage, data: data}:
	case <-ctx.Done():
		forget()
		return fmt.Errorf("%s: %w", typ, ctx.Err())
	case <-c.done:
		return ErrClosed
	}

	select {
	case env, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", typ, ErrClosed)
		}
		if env.Error != nil {
			return mapError(env.Error)
		}
		if out != nil && len(env.Payload) > 0 {
			if err := json.Unmarshal(env.Payload, out); err != nil {
				return fmt.Errorf("decode %s result: %w", typ, err)
			}
		}
		return nil
	case <-ctx.Done():
		forget()
		return fmt.Errorf("%s: %w", typ, ctx.Err())
	case <-c.done:
		return ErrClosed
	}
}

// mapError turns bridge error codes into sim errors.
func mapError(e *bridge.Error) error {
	switch e.Code {
	case bridge.CodeSpawnCollision:
		return fmt.Errorf("%w: %s", sim.ErrSpawnCollision, e.Message)
	case bridge.CodeNotFound:
		return fmt.Errorf("%w: %s", sim.ErrNotFound, e.Message)
	default:
		return e
	}
}

// close sends a WebSocket close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(writeWait),
		)
		return conn.Close()
	}
	return nil
}
