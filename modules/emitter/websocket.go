package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/e7canasta/orion-care-sensor/modules/framebus"
)

// ErrTooManyConnections is returned when the client limit is reached.
var ErrTooManyConnections = errors.New("emitter: too many websocket connections")

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, clientBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcaster fans detection events out to connected WebSocket clients.
// A client that cannot keep up is disconnected.
type Broadcaster struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	max      int
	upgrader websocket.Upgrader
	counters
}

// NewBroadcaster returns a broadcaster accepting at most max clients
// (0 = unlimited).
func NewBroadcaster(max int) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]bool),
		max:     max,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// AddClient registers an upgraded connection.
func (b *Broadcaster) AddClient(conn *websocket.Conn) (*client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 && len(b.clients) >= b.max {
		conn.Close()
		return nil, ErrTooManyConnections
	}

	c := newClient(conn)
	b.clients[c] = true
	return c, nil
}

// RemoveClient unregisters c and closes its connection.
func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
	b.mu.Unlock()
}

// ServeHTTP upgrades the request and keeps the client until it disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("emitter: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c, err := b.AddClient(conn)
	if err != nil {
		slog.Warn("emitter: websocket client rejected", "remote", r.RemoteAddr, "error", err)
		return
	}
	slog.Info("emitter: websocket client connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			b.RemoveClient(c)
			slog.Info("emitter: websocket client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Emit sends ev to every connected client.
func (b *Broadcaster) Emit(ev framebus.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return b.record(fmt.Errorf("emitter: marshal event: %w", err))
	}

	// Sends happen under the read lock: client channels are only closed
	// under the write lock.
	var slow []*client
	b.mu.RLock()
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("emitter: websocket client too slow, disconnecting")
		b.RemoveClient(c)
	}
	return b.record(nil)
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
}

// Stats returns emitter statistics.
func (b *Broadcaster) Stats() Stats {
	return Stats{
		Connected: b.ClientCount() > 0,
		Published: b.published.Load(),
		Errors:    b.errors.Load(),
	}
}
