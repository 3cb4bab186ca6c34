package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"support-chat/internal/chat"
	"support-chat/internal/models"
	"support-chat/internal/presence"
	"support-chat/internal/realtime"
)

// Frame types pushed to clients.
const (
	FrameThreadsChanged  = "threads_changed"
	FrameMessagesChanged = "messages_changed"
	FrameThreadMessages  = "thread_messages"
	FrameUnread          = "unread"
	FramePresence        = "presence"
	FrameError           = "error"
)

// Commands accepted from clients.
const (
	CommandSelectThread   = "select_thread"
	CommandUnselectThread = "unselect_thread"
)

// SessionService is what a session needs from the chat layer.
type SessionService interface {
	ListMessages(ctx context.Context, threadID, userID string) ([]models.Message, error)
	MarkThreadRead(ctx context.Context, threadID, readerID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	ThreadIDs(ctx context.Context, userID string) ([]string, error)
}

// OnlineSource publishes the set of online users.
type OnlineSource interface {
	Online() []string
	OnChange(fn func(online []string)) func()
}

// SessionDeps are shared by every session.
type SessionDeps struct {
	Service  SessionService
	Feed     realtime.Feed
	Presence presence.Broadcaster
	Channel  string
	Online   OnlineSource
	Log      *zap.Logger
}

// Session is one user's live view of their chats. It turns change events
// into invalidation frames and drives the selected thread's view.
type Session struct {
	userID string
	deps   SessionDeps
	emit   func(models.WSFrame)
	log    *zap.Logger

	view *chat.ThreadView

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	threadIDs   map[string]struct{}
	threadUnsub func()
	cleanups    []func()
	member      presence.Membership
	closing     bool

	closeOnce sync.Once
}

// NewSession builds a session that writes frames through emit. emit must
// not block.
func NewSession(userID string, deps SessionDeps, emit func(models.WSFrame)) *Session {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		userID:    userID,
		deps:      deps,
		emit:      emit,
		log:       log.With(zap.String("user_id", userID)),
		view:      chat.NewThreadView(),
		threadIDs: map[string]struct{}{},
	}
}

// Start joins presence and subscribes to the change feed. Close must be
// called once the connection ends, even when Start fails.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.deps.Presence != nil {
		member, err := s.deps.Presence.Join(s.ctx, s.deps.Channel)
		if err != nil {
			return fmt.Errorf("join presence: %w", err)
		}
		s.mu.Lock()
		s.member = member
		s.mu.Unlock()
		if err := member.Track(s.ctx, presence.Meta{UserID: s.userID, OnlineAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("track presence: %w", err)
		}
	}

	// Thread subscriptions go first so a thread created while the ids load
	// is still recorded. The message subscription waits for the ids.
	feed := s.deps.Feed
	s.addCleanup(feed.Subscribe(realtime.Subscription{
		Table:  models.TableThreads,
		Filter: &realtime.Filter{Column: "user_id", Value: s.userID},
	}, s.onThreadEvent))
	s.addCleanup(feed.Subscribe(realtime.Subscription{
		Table:  models.TableThreads,
		Filter: &realtime.Filter{Column: "consultant_id", Value: s.userID},
	}, s.onThreadEvent))

	if err := s.loadThreadIDs(s.ctx); err != nil {
		s.log.Warn("failed to load thread ids", zap.Error(err))
	}
	s.addCleanup(feed.Subscribe(realtime.Subscription{
		Table: models.TableMessages,
	}, s.onMessageEvent))

	watcher := chat.NewUnreadWatcher(s.deps.Service, feed, s.userID, func(count int) {
		n := count
		s.emit(models.WSFrame{Type: FrameUnread, Count: &n})
	}, s.log).WithThreadFilter(s.knowsThread)
	s.addCleanup(watcher.Start(s.ctx))

	if s.deps.Online != nil {
		s.addCleanup(s.deps.Online.OnChange(func(online []string) {
			s.emit(models.WSFrame{Type: FramePresence, Online: online})
		}))
		s.emit(models.WSFrame{Type: FramePresence, Online: s.deps.Online.Online()})
	}
	return nil
}

// Handle applies one client command.
func (s *Session) Handle(cmd models.WSCommand) {
	switch cmd.Action {
	case CommandSelectThread:
		if cmd.ThreadID == "" {
			s.emit(models.WSFrame{Type: FrameError, Error: "thread_id is required"})
			return
		}
		s.selectThread(cmd.ThreadID)
	case CommandUnselectThread:
		s.view.Unselect()
		s.swapThreadSubscription(nil)
	default:
		s.emit(models.WSFrame{Type: FrameError, Error: fmt.Sprintf("unknown action %q", cmd.Action)})
	}
}

// View exposes the selected thread state.
func (s *Session) View() chat.ThreadSnapshot {
	return s.view.Snapshot()
}

// Close releases every subscription and leaves presence.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}

		s.mu.Lock()
		s.closing = true
		cleanups := s.cleanups
		s.cleanups = nil
		unsub := s.threadUnsub
		s.threadUnsub = nil
		member := s.member
		s.member = nil
		s.mu.Unlock()

		if unsub != nil {
			unsub()
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		s.wg.Wait()

		if member != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := member.Leave(ctx); err != nil {
				s.log.Warn("failed to leave presence", zap.Error(err))
			}
		}
	})
}

func (s *Session) selectThread(threadID string) {
	ticket := s.view.Select(threadID)
	s.swapThreadSubscription(&realtime.Subscription{
		Table:  models.TableMessages,
		Filter: &realtime.Filter{Column: "thread_id", Value: threadID},
	})

	s.goSafe(func() {
		msgs, err := s.deps.Service.ListMessages(s.ctx, threadID, s.userID)
		switch outcome := s.view.Resolve(ticket, msgs, err); outcome {
		case chat.Stale:
			return
		case chat.Failed:
			s.emit(models.WSFrame{Type: FrameError, ThreadID: threadID, Error: err.Error()})
			return
		default:
			s.emit(models.WSFrame{Type: FrameThreadMessages, ThreadID: threadID, Messages: msgs})
			if outcome == chat.Settled {
				s.markRead(threadID)
			}
		}
	})
}

func (s *Session) swapThreadSubscription(sub *realtime.Subscription) {
	var next func()
	if sub != nil {
		next = s.deps.Feed.Subscribe(*sub, s.onSelectedThreadEvent)
	}
	s.mu.Lock()
	prev := s.threadUnsub
	s.threadUnsub = next
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// onThreadEvent records the thread id before the refresh starts. Events are
// dispatched in order, so a greeting that follows the thread insert must
// already find its thread known.
func (s *Session) onThreadEvent(evt models.ChangeEvent) {
	if id := recordString(evt, "id"); id != "" {
		s.mu.Lock()
		s.threadIDs[id] = struct{}{}
		s.mu.Unlock()
	}
	s.refreshThreadIDs()
	s.emit(models.WSFrame{Type: FrameThreadsChanged})
}

func (s *Session) onMessageEvent(evt models.ChangeEvent) {
	if evt.Table == models.EventAny {
		return
	}
	threadID := recordString(evt, "thread_id")
	if !s.knowsThread(threadID) {
		return
	}
	s.emit(models.WSFrame{Type: FrameThreadsChanged})
	s.emit(models.WSFrame{Type: FrameMessagesChanged, ThreadID: threadID})
}

// onSelectedThreadEvent refetches the open thread. New messages from the
// other participant are visible immediately, so they are marked read too.
// A reload that supersedes the first load settles the view and syncs the
// read flags in its place.
func (s *Session) onSelectedThreadEvent(evt models.ChangeEvent) {
	incoming := evt.Type == models.EventInsert && recordString(evt, "sender_id") != s.userID
	s.goSafe(func() {
		threadID, msgs, outcome, err := s.view.Reload(s.ctx, func(ctx context.Context, id string) ([]models.Message, error) {
			return s.deps.Service.ListMessages(ctx, id, s.userID)
		})
		if !outcome.Applied() || err != nil {
			return
		}
		s.emit(models.WSFrame{Type: FrameThreadMessages, ThreadID: threadID, Messages: msgs})
		if incoming || outcome == chat.Settled {
			s.markRead(threadID)
		}
	})
}

func (s *Session) markRead(threadID string) {
	if _, err := s.deps.Service.MarkThreadRead(s.ctx, threadID, s.userID); err != nil && s.ctx.Err() == nil {
		s.log.Warn("read-flag sync failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}

func (s *Session) refreshThreadIDs() {
	s.goSafe(func() {
		if err := s.loadThreadIDs(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Warn("failed to refresh thread ids", zap.Error(err))
		}
	})
}

// loadThreadIDs merges the user's thread ids into the known set. Ids are
// never removed: a refresh that started before a thread was created must
// not forget it, and threads are not deleted.
func (s *Session) loadThreadIDs(ctx context.Context) error {
	ids, err := s.deps.Service.ThreadIDs(ctx, s.userID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.threadIDs[id] = struct{}{}
	}
	return nil
}

func (s *Session) knowsThread(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.threadIDs[threadID]
	return ok
}

func (s *Session) addCleanup(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleanups = append(s.cleanups, fn)
}

// goSafe runs fn in the background unless the session is closing.
func (s *Session) goSafe(fn func()) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func recordString(evt models.ChangeEvent, column string) string {
	v, ok := evt.Record[column]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
