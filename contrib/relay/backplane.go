package relay

import (
	"context"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

// Envelope is a frame crossing the backplane. Origin is the id of the relay
// instance that received it from a client.
type Envelope struct {
	Origin string `msgpack:"o"`
	Room   string `msgpack:"r"`
	Data   []byte `msgpack:"d"`
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	return msgpack.Marshal(env)
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	err := msgpack.Unmarshal(data, &env)
	return env, err
}

// Backplane carries frames between relay instances.
type Backplane interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe calls fn for every envelope published to room, including
	// the ones this instance published itself.
	Subscribe(ctx context.Context, room string, fn func(Envelope)) (unsubscribe func(), err error)
	Close() error
}

// MemoryBackplane connects relay instances living in one process.
type MemoryBackplane struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Envelope)
}

var _ Backplane = (*MemoryBackplane)(nil)

func NewMemoryBackplane() *MemoryBackplane {
	return &MemoryBackplane{subs: make(map[string]map[int]func(Envelope))}
}

func (b *MemoryBackplane) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	fns := make([]func(Envelope), 0, len(b.subs[env.Room]))
	for _, fn := range b.subs[env.Room] {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(env)
	}
	return nil
}

func (b *MemoryBackplane) Subscribe(_ context.Context, room string, fn func(Envelope)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[room] == nil {
		b.subs[room] = make(map[int]func(Envelope))
	}
	id := b.nextID
	b.nextID++
	b.subs[room][id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[room], id)
			if len(b.subs[room]) == 0 {
				delete(b.subs, room)
			}
		})
	}, nil
}

// Rooms is the number of rooms with at least one subscriber.
func (b *MemoryBackplane) Rooms() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *MemoryBackplane) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[string]map[int]func(Envelope))
	return nil
}
