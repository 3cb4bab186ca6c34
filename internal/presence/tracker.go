package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"support-chat/internal/observability"
)

// Tracker observes a presence channel and keeps the id -> online map used
// for lookups. It does not track itself.
type Tracker struct {
	b       Broadcaster
	channel string
	log     *zap.Logger

	mu        sync.RWMutex
	online    map[string]bool
	member    Membership
	cancel    func()
	listeners map[uint64]func([]string)
	next      uint64
}

// NewTracker builds a tracker for channel.
func NewTracker(b Broadcaster, channel string, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		b:         b,
		channel:   channel,
		log:       log,
		online:    map[string]bool{},
		listeners: map[uint64]func([]string){},
	}
}

// Channel returns the presence channel name.
func (t *Tracker) Channel() string {
	return t.channel
}

// Start joins the channel and begins consuming presence changes.
func (t *Tracker) Start(ctx context.Context) error {
	member, err := t.b.Join(ctx, t.channel)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.member = member
	t.mu.Unlock()

	cancel := member.OnChange(t.apply)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	t.log.Info("presence tracker started", zap.String("channel", t.channel))
	return nil
}

// Stop leaves the channel. The map is cleared since it can no longer be
// kept current.
func (t *Tracker) Stop(ctx context.Context) error {
	t.mu.Lock()
	member, cancel := t.member, t.cancel
	t.member, t.cancel = nil, nil
	t.online = map[string]bool{}
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if member == nil {
		return nil
	}
	return member.Leave(ctx)
}

// IsUserOnline is a pure lookup. Ids never seen on the channel are offline.
func (t *Tracker) IsUserOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// Online lists the ids currently online.
func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := make(Snapshot, len(t.online))
	for id := range t.online {
		snap[id] = []Meta{{UserID: id}}
	}
	return snap.Online()
}

// OnChange registers fn to be called with the online ids after every
// change.
func (t *Tracker) OnChange(fn func(online []string)) func() {
	t.mu.Lock()
	t.next++
	id := t.next
	t.listeners[id] = fn
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			t.mu.Unlock()
		})
	}
}

func (t *Tracker) apply(snap Snapshot) {
	ids := snap.Online()
	online := make(map[string]bool, len(ids))
	for _, id := range ids {
		online[id] = true
	}

	t.mu.Lock()
	t.online = online
	fns := make([]func([]string), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	observability.SetPresenceOnline(len(ids))
	for _, fn := range fns {
		fn(ids)
	}
}
