package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the driver
	driverWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the driver
	driverPongWait = 30 * time.Second

	// Send pings to the driver with this period (must be less than pongWait)
	driverPingPeriod = 20 * time.Second

	// Maximum message size allowed from a driver
	driverMaxMessageSize = 65536
)

// serverCommand is one instruction sent to the driver process
type serverCommand struct {
	Type   string            `json:"type"` // always "cmd"
	ID     uint64            `json:"id"`
	CallID string            `json:"callId"`
	Name   string            `json:"name"`
	Args   map[string]any    `json:"args,omitempty"`
	Raw    []json.RawMessage `json:"raw,omitempty"`
}

// driverResult answers a serverCommand
type driverResult struct {
	Type  string          `json:"type"` // "result"
	ID    uint64          `json:"id"`
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Conn is one connected media driver process. It multiplexes commands
// for every call the driver owns over a single websocket
type Conn struct {
	driverID string
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	logger   zerolog.Logger

	nextID  uint64
	pending map[uint64]chan driverResult
	ringing map[string]string // callID -> login currently offered or attached
	mu      sync.Mutex

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(hub *Hub, ws *websocket.Conn, logger zerolog.Logger) *Conn {
	return &Conn{
		hub:     hub,
		conn:    ws,
		send:    make(chan []byte, 64),
		logger:  logger,
		pending: make(map[uint64]chan driverResult),
		ringing: make(map[string]string),
		done:    make(chan struct{}),
	}
}

// request sends a command and waits for the driver's result or ctx end
func (c *Conn) request(ctx context.Context, cmd serverCommand) (json.RawMessage, error) {
	c.mu.Lock()
	c.nextID++
	cmd.ID = c.nextID
	ch := make(chan driverResult, 1)
	c.pending[cmd.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, cmd.ID)
		c.mu.Unlock()
	}()

	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}
	if !c.safeSend(data) {
		return nil, fmt.Errorf("driver %s disconnected", c.driverID)
	}

	select {
	case res := <-ch:
		if !res.OK {
			return nil, fmt.Errorf("driver refused %s: %s", cmd.Name, res.Error)
		}
		return res.Data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, fmt.Errorf("driver %s disconnected", c.driverID)
	}
}

// cast sends a command without waiting for a result
func (c *Conn) cast(cmd serverCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	if !c.safeSend(data) {
		return fmt.Errorf("driver %s disconnected", c.driverID)
	}
	return nil
}

func (c *Conn) resolve(res driverResult) {
	c.mu.Lock()
	ch, ok := c.pending[res.ID]
	c.mu.Unlock()
	if ok {
		ch <- res
	}
}

// trackCall remembers which agent a call is attached to
func (c *Conn) trackCall(callID, login string) {
	c.mu.Lock()
	c.ringing[callID] = login
	c.mu.Unlock()
}

func (c *Conn) untrackCall(callID string) {
	c.mu.Lock()
	delete(c.ringing, callID)
	c.mu.Unlock()
}

// attachedLogins returns the agents holding calls from this driver
func (c *Conn) attachedLogins() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.ringing))
	for _, login := range c.ringing {
		out = append(out, login)
	}
	return out
}

// readPump pumps messages from the websocket connection to the hub
func (c *Conn) readPump() {
	defer func() {
		close(c.done)
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(driverMaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(driverPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(driverPongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug().Err(err).Str("driver_id", c.driverID).Msg("driver websocket read error")
			}
			break
		}
		c.hub.handleMessage(c, message)
	}
}

// writePump pumps messages to the websocket connection
func (c *Conn) writePump() {
	ticker := time.NewTicker(driverPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(driverWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(driverWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the connection's read and write pumps
func (c *Conn) Start() {
	go c.writePump()
	go c.readPump()
}

// Close safely closes the connection's send channel (idempotent)
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		defer func() {
			recover() // absorb panic if channel was already closed
		}()
		close(c.send)
	})
}

// safeSend attempts to send a message, recovering if the channel closed
func (c *Conn) safeSend(data []byte) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			sent = false
		}
	}()
	select {
	case c.send <- data:
		return true
	default:
		c.logger.Warn().Str("driver_id", c.driverID).Msg("driver send buffer full, dropping message")
		return false
	}
}
