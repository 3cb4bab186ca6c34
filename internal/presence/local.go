package presence

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var errLeft = errors.New("presence: membership already left")

// LocalBroadcaster keeps channels in process memory. It serves single
// instance deployments and tests.
type LocalBroadcaster struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// NewLocalBroadcaster creates an empty broadcaster.
func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{rooms: make(map[string]*room)}
}

// Join adds a new, untracked membership to channel.
func (b *LocalBroadcaster) Join(ctx context.Context, channel string) (Membership, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	r, ok := b.rooms[channel]
	if !ok {
		r = &room{members: make(map[string]*localMembership)}
		b.rooms[channel] = r
	}
	b.mu.Unlock()

	m := &localMembership{room: r, key: uuid.NewString(), listeners: make(map[uint64]func(Snapshot))}
	r.mu.Lock()
	r.members[m.key] = m
	r.mu.Unlock()
	return m, nil
}

// room guards membership with mu. deliver is taken before mu and held while
// listeners run, so snapshots reach every listener in the order they were
// taken. Listeners must not call back into the room.
type room struct {
	deliver sync.Mutex
	mu      sync.Mutex
	members map[string]*localMembership
}

// snapshotLocked must be called with r.mu held.
func (r *room) snapshotLocked() Snapshot {
	snap := Snapshot{}
	for _, m := range r.members {
		if m.meta != nil {
			snap[m.meta.UserID] = append(snap[m.meta.UserID], *m.meta)
		}
	}
	return snap
}

func (r *room) broadcast() {
	r.deliver.Lock()
	defer r.deliver.Unlock()

	r.mu.Lock()
	snap := r.snapshotLocked()
	var fns []func(Snapshot)
	for _, m := range r.members {
		for _, fn := range m.listeners {
			fns = append(fns, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

type localMembership struct {
	room      *room
	key       string
	meta      *Meta
	listeners map[uint64]func(Snapshot)
	next      uint64
	left      bool
}

func (m *localMembership) Track(ctx context.Context, meta Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.room.mu.Lock()
	if m.left {
		m.room.mu.Unlock()
		return errLeft
	}
	m.meta = &meta
	m.room.mu.Unlock()

	m.room.broadcast()
	return nil
}

// OnChange registers fn and immediately delivers the current snapshot.
func (m *localMembership) OnChange(fn func(Snapshot)) func() {
	m.room.deliver.Lock()
	m.room.mu.Lock()
	m.next++
	id := m.next
	m.listeners[id] = fn
	snap := m.room.snapshotLocked()
	m.room.mu.Unlock()

	fn(snap)
	m.room.deliver.Unlock()

	return func() {
		m.room.mu.Lock()
		delete(m.listeners, id)
		m.room.mu.Unlock()
	}
}

func (m *localMembership) Leave(ctx context.Context) error {
	m.room.mu.Lock()
	if m.left {
		m.room.mu.Unlock()
		return nil
	}
	m.left = true
	delete(m.room.members, m.key)
	m.listeners = map[uint64]func(Snapshot){}
	m.room.mu.Unlock()

	m.room.broadcast()
	return nil
}
