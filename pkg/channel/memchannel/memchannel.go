// Package memchannel is an in-process message channel: every Conn joined to
// the same room of a Bus receives the events the others send. Frames go
// through the configured codec exactly as they would on a socket.
package memchannel

import (
	"context"
	"sync"

	"github.com/surrealdb/scenesync/pkg/channel"
	"github.com/surrealdb/scenesync/pkg/constants"
	"github.com/surrealdb/scenesync/pkg/wire"
)

type Bus struct {
	codec wire.Codec

	mu    sync.Mutex
	rooms map[string]map[*Conn]struct{}
	sent  int
}

func NewBus(c wire.Codec) *Bus {
	if c == nil {
		c = wire.NewCBOR()
	}
	return &Bus{codec: c, rooms: make(map[string]map[*Conn]struct{})}
}

// Join connects a new Conn to room.
func (b *Bus) Join(room string) *Conn {
	c := &Conn{bus: b, room: room}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rooms[room] == nil {
		b.rooms[room] = make(map[*Conn]struct{})
	}
	b.rooms[room][c] = struct{}{}
	return c
}

// Sent is the number of frames sent on the bus so far.
func (b *Bus) Sent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sent
}

// Members is the number of open connections in room.
func (b *Bus) Members(room string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.rooms[room])
}

func (b *Bus) leave(c *Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms[c.room], c)
	if len(b.rooms[c.room]) == 0 {
		delete(b.rooms, c.room)
	}
}

func (b *Bus) publish(from *Conn, frame []byte) {
	b.mu.Lock()
	b.sent++
	peers := make([]*Conn, 0, len(b.rooms[from.room]))
	for c := range b.rooms[from.room] {
		if c != from {
			peers = append(peers, c)
		}
	}
	b.mu.Unlock()

	for _, c := range peers {
		c.deliver(frame)
	}
}

type Conn struct {
	bus  *Bus
	room string

	handlers channel.Registry

	mu     sync.Mutex
	closed bool
}

var _ channel.Channel = (*Conn)(nil)

func (c *Conn) Send(ctx context.Context, event channel.Event, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.IsClosed() {
		return constants.ErrChannelClosed
	}
	frame, err := channel.Encode(c.bus.codec, c.room, event, payload)
	if err != nil {
		return err
	}
	c.bus.publish(c, frame)
	return nil
}

func (c *Conn) deliver(frame []byte) {
	if c.IsClosed() {
		return
	}
	msg, err := channel.Decode(c.bus.codec, frame)
	if err != nil {
		return
	}
	c.handlers.Dispatch(msg)
}

func (c *Conn) OnMessage(event channel.Event, h channel.Handler) func() {
	return c.handlers.Add(event, h)
}

// Handlers is the number of registered handlers.
func (c *Conn) Handlers() int {
	return c.handlers.Len()
}

func (c *Conn) Close(_ context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.bus.leave(c)
	return nil
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
