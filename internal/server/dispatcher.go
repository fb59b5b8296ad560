package server

import (
	"log"

	"dmchat/internal/stats"
	"dmchat/internal/types"
)

// Dispatcher decides which events are pushed and to whom. Delivery is
// best-effort: a recipient without a live channel is skipped silently and
// observes the change on its next fetch. A push failure never propagates to
// the request which triggered it.
type Dispatcher struct {
	registry *Registry
	stats    stats.StatsProvider
	log      *log.Logger
}

func NewDispatcher(logger *log.Logger, registry *Registry, su stats.StatsProvider) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		stats:    su,
		log:      logger,
	}
}

// NewMessage notifies the receiver of a freshly persisted message.
func (d *Dispatcher) NewMessage(receiverId int, msg *types.Message) {
	d.push(receiverId, NewMessageEvent(msg))
}

// ContactAdded notifies the peer that someone added them as a contact.
func (d *Dispatcher) ContactAdded(peerId int, contact *types.User) {
	d.push(peerId, ContactAddedEvent(contact))
}

func (d *Dispatcher) push(userId int, ev *ServerEvent) {
	c := d.registry.lookup(userId)
	if c == nil {
		return
	}

	if !c.queueEvent(ev) {
		d.stats.Incr(stats.EventsDropped)
		d.log.Printf("dropped %s event for user %d, channel buffer full", ev.Type, userId)
	}
}
