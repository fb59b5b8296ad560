package server

import (
	"log"
	"sync"
	"time"

	"dmchat/internal/database"
	"dmchat/internal/stats"
)

// Registry tracks the single live notification channel per connected user and
// keeps the persisted presence state in step with channel lifecycle. It is
// the only shared mutable structure in the process.
type Registry struct {
	log      *log.Logger
	db       database.DmChatRepository
	stats    stats.StatsProvider
	mu       sync.RWMutex
	channels map[int]*Client
}

func NewRegistry(logger *log.Logger, db database.DmChatRepository, su stats.StatsProvider) *Registry {
	su.RegisterMetric(stats.ActiveConnections)
	su.RegisterMetric(stats.EventsDropped)

	return &Registry{
		log:      logger,
		db:       db,
		stats:    su,
		channels: make(map[int]*Client),
	}
}

// Register installs the client as the user's channel, superseding and
// force-closing any previous one, marks the user online and emits the
// initial connected event.
func (r *Registry) Register(c *Client) {
	r.mu.Lock()
	prev := r.channels[c.userId]
	r.channels[c.userId] = c
	r.mu.Unlock()

	if prev != nil {
		// last writer wins; the superseded channel is closed so it is
		// never written to again
		prev.closeConn()
	} else {
		r.stats.Incr(stats.ActiveConnections)
	}

	if err := r.db.SetPresence(c.userId, true, nil); err != nil {
		r.log.Println("set presence online:", err)
	}

	c.queueEvent(ConnectedEvent())
}

// Unregister removes the client's entry and marks the user offline with the
// current time as last seen. A client which has already been superseded must
// not evict its replacement, so the entry is only removed when it still
// belongs to this client.
func (r *Registry) Unregister(c *Client) {
	r.mu.Lock()
	cur, ok := r.channels[c.userId]
	if !ok || cur != c {
		r.mu.Unlock()
		return
	}
	delete(r.channels, c.userId)
	r.mu.Unlock()

	r.stats.Decr(stats.ActiveConnections)

	now := time.Now().UTC()
	if err := r.db.SetPresence(c.userId, false, &now); err != nil {
		r.log.Println("set presence offline:", err)
	}
}

// lookup returns the user's live channel, or nil. Only the dispatcher uses
// it.
func (r *Registry) lookup(userId int) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.channels[userId]
}

// Shutdown closes every live channel. Each client's own cleanup path
// unregisters it.
func (r *Registry) Shutdown() {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.channels))
	for _, c := range r.channels {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		c.closeConn()
	}
}
