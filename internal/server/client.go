package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait         = 10 * time.Second
	heartbeatInterval = 30 * time.Second
	sendBufferSize    = 64
)

// Client is the server-side handle of one user's notification channel. The
// channel is one-directional: events flow to the peer, reads serve only to
// detect the connection closing.
type Client struct {
	conn      *websocket.Conn
	registry  *Registry
	log       *log.Logger
	userId    int
	send      chan *ServerEvent
	stop      chan struct{}
	closeOnce sync.Once
	// heartbeat is overridable in tests
	heartbeat time.Duration
}

func NewClient(userId int, conn *websocket.Conn, registry *Registry, l *log.Logger) *Client {
	return &Client{
		conn:      conn,
		registry:  registry,
		log:       l,
		userId:    userId,
		send:      make(chan *ServerEvent, sendBufferSize),
		stop:      make(chan struct{}),
		heartbeat: heartbeatInterval,
	}
}

// Run services the channel until it fails or is closed. It blocks, so the
// caller's connection goroutine owns the channel lifecycle.
func (c *Client) Run() {
	go c.readLoop()
	c.writeLoop()
}

// queueEvent enqueues an event without blocking. A full buffer drops the
// event; the peer reconciles on its next explicit fetch.
func (c *Client) queueEvent(ev *ServerEvent) bool {
	select {
	case c.send <- ev:
	default:
		return false
	}

	return true
}

func (c *Client) writeLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer func() {
		ticker.Stop()
		c.cleanup()
	}()

	for {
		select {
		case ev := <-c.send:
			if !c.writeEvent(ev) {
				return
			}
		case <-ticker.C:
			// a failed keep-alive is the only signal we get for a
			// silently dead peer
			if !c.writeEvent(HeartbeatEvent()) {
				return
			}
		case <-c.stop:
			return
		}
	}
}

// readLoop discards inbound frames, it exists to notice the close handshake
// or a broken transport.
func (c *Client) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			c.cleanup()
			return
		}
	}
}

func (c *Client) writeEvent(ev *ServerEvent) bool {
	bytes, err := json.Marshal(ev)
	if err != nil {
		c.log.Println("failed to serialize event:", err)
		return true
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, bytes); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write event: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) cleanup() {
	c.closeConn()
	c.registry.Unregister(c)
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.conn.Close()
	})
}
