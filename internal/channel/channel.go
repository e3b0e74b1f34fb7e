// Package channel is the websocket transport to the remote voice agent. It
// turns the raw connection into a typed event stream: binary frames carry
// Opus-encoded agent speech, text frames carry JSON control messages.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rkaruturi/PranicSoil-MVP/internal/diag"
)

// ErrNotOpen is returned by Send once the channel has closed.
var ErrNotOpen = errors.New("channel: not open")

// Event is a tagged message from the channel's read loop.
type Event interface{ isEvent() }

// Opened is emitted once, before any other event, when the handshake
// completes.
type Opened struct{}

// Frame carries one binary payload of Opus-encoded agent audio.
type Frame struct {
	Data []byte
}

// Control carries one JSON control message. Type is the message's "type"
// field; Raw is the full payload for consumers that need more.
type Control struct {
	Type string
	Raw  []byte
}

// Closed is always the final event. It follows Errored when the connection
// ended abnormally.
type Closed struct{}

// Errored reports an abnormal connection failure.
type Errored struct {
	Err error
}

func (Opened) isEvent()  {}
func (Frame) isEvent()   {}
func (Control) isEvent() {}
func (Closed) isEvent()  {}
func (Errored) isEvent() {}

// Channel is a live connection to the agent. Events arrives in read order;
// Send is safe for concurrent use.
type Channel struct {
	conn      *websocket.Conn
	events    chan Event
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the signed agent URL. The returned channel has already
// emitted Opened on its event stream.
func Dial(ctx context.Context, signedURL string, handshakeTimeout time.Duration) (*Channel, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, signedURL, nil)
	if err != nil {
		if resp != nil {
			return nil, diag.Wrap(diag.CodeConnectionError, fmt.Errorf("dial agent (status %d): %w", resp.StatusCode, err))
		}
		return nil, diag.Wrap(diag.CodeConnectionError, fmt.Errorf("dial agent: %w", err))
	}

	c := &Channel{
		conn:   conn,
		events: make(chan Event, 256),
		closed: make(chan struct{}),
	}
	c.events <- Opened{}
	go c.readLoop()
	return c, nil
}

// Events returns the ordered event stream. The channel is closed after the
// terminal Closed event.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Send writes one binary frame of caller audio. Returns ErrNotOpen once the
// channel has closed.
func (c *Channel) Send(data []byte) error {
	select {
	case <-c.closed:
		return ErrNotOpen
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close tears the connection down. Idempotent; the read loop emits the
// terminal Closed event.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

func (c *Channel) readLoop() {
	defer func() {
		c.Close()
		c.events <- Closed{}
		close(c.events)
	}()

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				// Local close; normal teardown.
			default:
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Println("channel: remote closed connection")
				} else {
					c.events <- Errored{Err: diag.Wrap(diag.CodeConnectionError, fmt.Errorf("read from agent: %w", err))}
				}
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			c.events <- Frame{Data: data}
		case websocket.TextMessage:
			var msg struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Printf("channel: unparseable control message: %v", err)
				continue
			}
			c.events <- Control{Type: msg.Type, Raw: data}
		}
	}
}
