// Package network handles communication with an asset server.
package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Faultbox/objwatch/internal/logger"
	"github.com/Faultbox/objwatch/internal/network/packets"
)

// SessionHeader carries the server-assigned session ID on the upgrade response.
const SessionHeader = "X-Session-Id"

const writeTimeout = 10 * time.Second

// Client errors.
var (
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
)

// Client handles network communication.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex // Guards conn and serializes writes
	log  *zap.Logger

	hmu      sync.RWMutex
	handlers map[string]EventHandler

	// Connection state
	connected bool
	sessionID string
}

// EventHandler handles one incoming message.
type EventHandler func(msg *packets.Message) error

// New creates a new network client.
func New(log *zap.Logger) *Client {
	if log == nil {
		log = logger.Named("network")
	}
	return &Client{
		log:      log,
		handlers: make(map[string]EventHandler),
	}
}

// Connect dials a websocket URL such as ws://localhost:3000/assets.
func (c *Client) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return ErrAlreadyConnected
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if err != nil {
		return errors.Wrapf(err, "connecting to %s", url)
	}

	c.conn = conn
	c.connected = true
	c.sessionID = resp.Header.Get(SessionHeader)

	c.log.Debug("connected", zap.String("url", url), zap.String("session", c.sessionID))
	return nil
}

// Disconnect closes the connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// IsConnected returns connection status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SessionID returns the ID the server assigned to this connection.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// RegisterHandler registers an event handler.
func (c *Client) RegisterHandler(event string, handler EventHandler) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = handler
}

// Send sends an event to the server.
func (c *Client) Send(event string, data any) error {
	frame, err := packets.Encode(event, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return ErrNotConnected
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

// Fetch requests one asset.
func (c *Client) Fetch(asset string) error {
	return c.Send(packets.EventFetch, packets.AssetRequest{AssetName: asset})
}

// Subscribe requests one asset and every later change of it.
func (c *Client) Subscribe(asset string) error {
	return c.Send(packets.EventFetchAndSub, packets.AssetRequest{AssetName: asset})
}

// Unsubscribe stops change pushes for an asset.
func (c *Client) Unsubscribe(asset string) error {
	return c.Send(packets.EventUnsub, packets.AssetRequest{AssetName: asset})
}

// Process reads and dispatches incoming messages until ctx is done, the
// server closes the connection or a handler fails. It returns nil on a
// normal close or cancellation.
func (c *Client) Process(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks ReadMessage.
			conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || !c.IsConnected() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return errors.Wrap(err, "reading message")
		}

		msg, err := packets.Decode(frame)
		if err != nil {
			c.log.Warn("dropping malformed message", zap.Error(err))
			continue
		}

		c.hmu.RLock()
		handler, ok := c.handlers[msg.Event]
		c.hmu.RUnlock()
		if !ok {
			c.log.Debug("no handler for event", zap.String("event", msg.Event))
			continue
		}
		if err := handler(msg); err != nil {
			return errors.Wrapf(err, "handling %s", msg.Event)
		}
	}
}
