package chat

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"support-chat/internal/models"
	"support-chat/internal/realtime"
)

// UnreadCounter computes a user's unread total.
type UnreadCounter interface {
	UnreadCount(ctx context.Context, userID string) (int, error)
}

// UnreadWatcher keeps a user's unread count current. Every qualifying
// message event triggers a full recount; the count is never adjusted in
// place, so missed or duplicated events cannot make it drift.
type UnreadWatcher struct {
	counter UnreadCounter
	feed    realtime.Feed
	userID  string
	push    func(count int)
	log     *zap.Logger
	follows func(threadID string) bool

	trigger chan struct{}
}

// NewUnreadWatcher builds a watcher that reports counts to push.
func NewUnreadWatcher(counter UnreadCounter, feed realtime.Feed, userID string, push func(int), log *zap.Logger) *UnreadWatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &UnreadWatcher{
		counter: counter,
		feed:    feed,
		userID:  userID,
		push:    push,
		log:     log,
		trigger: make(chan struct{}, 1),
	}
}

// WithThreadFilter limits recounts to message events on threads for which
// follows returns true. Events without a thread id always recount. It must
// be called before Start.
func (w *UnreadWatcher) WithThreadFilter(follows func(threadID string) bool) *UnreadWatcher {
	w.follows = follows
	return w
}

// Start subscribes to message inserts and updates and computes the initial
// count. Recounts run on a single goroutine until ctx ends or the returned
// stop func is called; triggers that arrive during a recount collapse into
// one more.
func (w *UnreadWatcher) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)

	unsubInsert := w.feed.Subscribe(realtime.Subscription{
		Table: models.TableMessages,
		Event: models.EventInsert,
	}, w.onInsert)
	unsubUpdate := w.feed.Subscribe(realtime.Subscription{
		Table: models.TableMessages,
		Event: models.EventUpdate,
	}, func(evt models.ChangeEvent) {
		if w.relevant(evt) {
			w.Trigger()
		}
	})

	w.Trigger()
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.loop(ctx)
	}()

	return func() {
		unsubInsert()
		unsubUpdate()
		cancel()
		<-done
	}
}

// Trigger schedules a recount.
func (w *UnreadWatcher) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

func (w *UnreadWatcher) onInsert(evt models.ChangeEvent) {
	if sender, ok := evt.Record["sender_id"]; ok && sender != nil && fmt.Sprint(sender) == w.userID {
		return
	}
	if w.relevant(evt) {
		w.Trigger()
	}
}

func (w *UnreadWatcher) relevant(evt models.ChangeEvent) bool {
	if w.follows == nil {
		return true
	}
	threadID, ok := evt.Record["thread_id"]
	if !ok || threadID == nil {
		return true
	}
	return w.follows(fmt.Sprint(threadID))
}

func (w *UnreadWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.trigger:
			count, err := w.counter.UnreadCount(ctx, w.userID)
			if err != nil {
				if ctx.Err() == nil {
					w.log.Warn("unread recount failed", zap.String("user_id", w.userID), zap.Error(err))
				}
				continue
			}
			w.push(count)
		}
	}
}
