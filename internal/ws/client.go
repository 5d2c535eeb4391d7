package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmchat/internal/logger"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 1024
	sendBufSize  = 256
)

var errMalformedFrame = errors.New("malformed frame")

// Client is one websocket connection of a user. The hub decides whether it is
// registered; the client owns its two loops and its context.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan OutgoingMessage
	// rooms is guarded by hub.mu.
	rooms map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func newClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan OutgoingMessage, sendBufSize),
		rooms:  make(map[string]struct{}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (c *Client) UserID() string { return c.userID }

func (c *Client) start() {
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
}

// Wait blocks until both loops have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close stops the client. Safe to call more than once and from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.conn.Close()
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// readLoop decodes client frames and routes them through the hub until the
// connection fails or the client is closed.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	if err := c.extendReadDeadline(); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error { return c.extendReadDeadline() })

	for {
		msg, err := c.nextFrame()
		switch {
		case errors.Is(err, errMalformedFrame):
			logger.Debugf("ws user=%s: %v", c.userID, err)
			c.hub.sendToClient(c, errorFrame("malformed frame", ""))
		case err != nil:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read user=%s: %v", c.userID, err)
			}
			return
		default:
			c.hub.route(c.ctx, c, msg)
		}
	}
}

func (c *Client) extendReadDeadline() error {
	return c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

func (c *Client) nextFrame() (IncomingMessage, error) {
	var msg IncomingMessage
	kind, r, err := c.conn.NextReader()
	if err != nil {
		return msg, err
	}
	if kind != websocket.TextMessage {
		return msg, fmt.Errorf("%w: binary frame", errMalformedFrame)
	}
	if err := json.NewDecoder(r).Decode(&msg); err != nil {
		return msg, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return msg, nil
}

// writeLoop serializes every write to the connection: queued frames and pings.
func (c *Client) writeLoop() {
	defer c.wg.Done()
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Errorf("ws encode %s user=%s: %v", msg.Type, c.userID, err)
				continue
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func errorFrame(msg, chatID string) OutgoingMessage {
	return OutgoingMessage{Type: EventError, Payload: ErrorPayload{Error: msg, ChatID: chatID}}
}
