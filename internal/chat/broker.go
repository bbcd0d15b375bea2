package chat

import (
	"sync"

	"go.uber.org/zap"
)

// Subscriber is a live connection from the broker's point of view.
//
// Deliver must not block: the websocket client implements it as a
// non-blocking push onto a buffered send channel and reports false when the
// buffer is full (slow consumer) or the connection is closing. The broker
// treats false as "this connection is dead" and drops every subscription it
// holds — the client re-fetches history when it reconnects.
type Subscriber interface {
	ID() uint64
	Deliver(ev Event) bool
}

// Broker is the room registry and fan-out mechanism: room id to the set of
// connections currently subscribed. It is the single shared mutable map of
// the realtime layer and is owned here, not ambient — the protocol handler
// receives it as a dependency.
//
// Delivery is best-effort, at-least-once for connected clients: nothing is
// persisted or redelivered; a connection that is down simply misses events
// until it reconnects.
type Broker struct {
	mu    sync.Mutex
	rooms map[int64]map[Subscriber]struct{}
	// subs is the reverse index so Disconnect doesn't scan every room.
	subs   map[Subscriber]map[int64]struct{}
	logger *zap.Logger
}

func NewBroker(logger *zap.Logger) *Broker {
	return &Broker{
		rooms:  make(map[int64]map[Subscriber]struct{}),
		subs:   make(map[Subscriber]map[int64]struct{}),
		logger: logger,
	}
}

// Subscribe adds the connection to a room. Subscribing twice is a no-op.
func (b *Broker) Subscribe(sub Subscriber, roomID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.rooms[roomID]
	if !ok {
		room = make(map[Subscriber]struct{})
		b.rooms[roomID] = room
	}
	room[sub] = struct{}{}

	joined, ok := b.subs[sub]
	if !ok {
		joined = make(map[int64]struct{})
		b.subs[sub] = joined
	}
	joined[roomID] = struct{}{}

	b.logger.Debug("subscribed to room",
		zap.Uint64("conn_id", sub.ID()),
		zap.Int64("room_id", roomID),
		zap.Int("room_size", len(room)),
	)
}

// Unsubscribe removes the connection from a room. Unsubscribing a
// connection that never joined is a no-op, not an error.
func (b *Broker) Unsubscribe(sub Subscriber, roomID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribeLocked(sub, roomID)
}

func (b *Broker) unsubscribeLocked(sub Subscriber, roomID int64) {
	if room, ok := b.rooms[roomID]; ok {
		delete(room, sub)
		if len(room) == 0 {
			delete(b.rooms, roomID)
		}
	}
	if joined, ok := b.subs[sub]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(b.subs, sub)
		}
	}
}

// IsSubscribed is the per-action membership re-check: "was authorized once"
// is not enough, the connection must currently be in the room.
func (b *Broker) IsSubscribed(sub Subscriber, roomID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.subs[sub][roomID]
	return ok
}

// Publish delivers an event to every current subscriber of the room,
// including the originator. Publishes to the same room serialize on the
// broker lock, so all subscribers observe the same relative event order;
// no ordering is promised across rooms.
func (b *Broker) Publish(roomID int64, ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.rooms[roomID]
	if len(room) == 0 {
		return
	}

	var dead []Subscriber
	for sub := range room {
		if !sub.Deliver(ev) {
			dead = append(dead, sub)
		}
	}

	// A subscriber that can't keep up forfeits all its rooms; its client
	// will notice the closed connection and reconnect with fresh history.
	for _, sub := range dead {
		b.logger.Warn("dropping slow or closed subscriber",
			zap.Uint64("conn_id", sub.ID()),
			zap.Int64("room_id", roomID),
		)
		b.disconnectLocked(sub)
	}
}

// Disconnect releases every room subscription the connection holds.
// Called once from the transport layer when the connection closes.
func (b *Broker) Disconnect(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnectLocked(sub)
}

func (b *Broker) disconnectLocked(sub Subscriber) {
	for roomID := range b.subs[sub] {
		b.unsubscribeLocked(sub, roomID)
	}
	delete(b.subs, sub)
}

// RoomSize reports the current subscriber count of a room.
func (b *Broker) RoomSize(roomID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[roomID])
}
