package realtime

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"support-chat/internal/models"
	"support-chat/internal/observability"
)

// Handler is invoked for every event matching a subscription.
type Handler func(evt models.ChangeEvent)

// Filter narrows a subscription to rows whose column equals value.
type Filter struct {
	Column string
	Value  string
}

// Subscription selects events by table, event type and optional filter.
type Subscription struct {
	Table  string
	Event  string
	Filter *Filter
}

// Feed delivers change events to subscribers. The returned function
// releases the subscription and is safe to call more than once.
type Feed interface {
	Subscribe(sub Subscription, fn Handler) (unsubscribe func())
}

// Matches reports whether evt should be delivered to sub. A wildcard table
// event (sent after a feed gap) matches every subscription.
func (s Subscription) Matches(evt models.ChangeEvent) bool {
	if evt.Table == models.EventAny {
		return true
	}
	if s.Table != evt.Table {
		return false
	}
	if s.Event != "" && s.Event != models.EventAny && s.Event != evt.Type {
		return false
	}
	if s.Filter == nil {
		return true
	}
	val, ok := evt.Record[s.Filter.Column]
	if !ok || val == nil {
		return false
	}
	return fmt.Sprint(val) == s.Filter.Value
}

type entry struct {
	sub Subscription
	fn  Handler
}

// Broker is the in-process fan-out point for change events.
type Broker struct {
	mu   sync.RWMutex
	subs map[uint64]entry
	next uint64
	log  *zap.Logger
}

// NewBroker creates an empty broker.
func NewBroker(log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{subs: make(map[uint64]entry), log: log}
}

// Subscribe registers fn for events matching sub.
func (b *Broker) Subscribe(sub Subscription, fn Handler) func() {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = entry{sub: sub, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers evt to every matching subscriber and returns how many
// handlers ran. Handlers run outside the lock so they may unsubscribe.
func (b *Broker) Publish(evt models.ChangeEvent) int {
	b.mu.RLock()
	targets := make([]Handler, 0, len(b.subs))
	for _, e := range b.subs {
		if e.sub.Matches(evt) {
			targets = append(targets, e.fn)
		}
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		b.dispatch(fn, evt)
	}
	observability.IncRealtimeEvent(evt.Table, evt.Type)
	return len(targets)
}

// Len returns the number of live subscriptions.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broker) dispatch(fn Handler, evt models.ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("realtime handler panicked",
				zap.String("table", evt.Table),
				zap.String("type", evt.Type),
				zap.Any("panic", r),
			)
		}
	}()
	fn(evt)
}
