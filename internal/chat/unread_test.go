package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat/internal/models"
	"support-chat/internal/realtime"
)

type countingCounter struct {
	calls atomic.Int32
	value atomic.Int32
	err   error
}

func (c *countingCounter) UnreadCount(context.Context, string) (int, error) {
	c.calls.Add(1)
	if c.err != nil {
		return 0, c.err
	}
	return int(c.value.Load()), nil
}

type pushes struct {
	mu     sync.Mutex
	counts []int
}

func (p *pushes) push(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counts = append(p.counts, n)
}

func (p *pushes) last() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.counts) == 0 {
		return 0, false
	}
	return p.counts[len(p.counts)-1], true
}

func TestUnreadWatcherRecountsOnEvents(t *testing.T) {
	broker := realtime.NewBroker(nil)
	counter := &countingCounter{}
	counter.value.Store(2)
	out := &pushes{}

	w := NewUnreadWatcher(counter, broker, "U1", out.push, nil)
	stop := w.Start(context.Background())
	defer stop()

	require.Eventually(t, func() bool {
		n, ok := out.last()
		return ok && n == 2
	}, time.Second, 5*time.Millisecond)

	counter.value.Store(3)
	broker.Publish(models.ChangeEvent{Table: models.TableMessages, Type: models.EventInsert, Record: map[string]any{"sender_id": "U2"}})
	require.Eventually(t, func() bool {
		n, _ := out.last()
		return n == 3
	}, time.Second, 5*time.Millisecond)

	counter.value.Store(0)
	broker.Publish(models.ChangeEvent{Table: models.TableMessages, Type: models.EventUpdate, Record: map[string]any{"sender_id": "U2"}})
	require.Eventually(t, func() bool {
		n, _ := out.last()
		return n == 0
	}, time.Second, 5*time.Millisecond)
}

func TestUnreadWatcherIgnoresOwnInserts(t *testing.T) {
	broker := realtime.NewBroker(nil)
	counter := &countingCounter{}
	out := &pushes{}

	w := NewUnreadWatcher(counter, broker, "U1", out.push, nil)
	stop := w.Start(context.Background())
	defer stop()

	require.Eventually(t, func() bool { return counter.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	broker.Publish(models.ChangeEvent{Table: models.TableMessages, Type: models.EventInsert, Record: map[string]any{"sender_id": "U1"}})
	broker.Publish(models.ChangeEvent{Table: models.TableThreads, Type: models.EventInsert})
	assert.Never(t, func() bool { return counter.calls.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestUnreadWatcherStopUnsubscribes(t *testing.T) {
	broker := realtime.NewBroker(nil)
	counter := &countingCounter{err: errors.New("offline")}

	w := NewUnreadWatcher(counter, broker, "U1", func(int) { t.Error("no count expected") }, nil)
	stop := w.Start(context.Background())
	assert.Equal(t, 2, broker.Len())

	stop()
	assert.Zero(t, broker.Len())
}

func TestUnreadWatcherSkipsUnfollowedThreads(t *testing.T) {
	broker := realtime.NewBroker(nil)
	counter := &countingCounter{}
	out := &pushes{}

	w := NewUnreadWatcher(counter, broker, "U1", out.push, nil).
		WithThreadFilter(func(threadID string) bool { return threadID == "mine" })
	stop := w.Start(context.Background())
	defer stop()

	require.Eventually(t, func() bool { return counter.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	broker.Publish(models.ChangeEvent{Table: models.TableMessages, Type: models.EventInsert, Record: map[string]any{"thread_id": "other", "sender_id": "U2"}})
	broker.Publish(models.ChangeEvent{Table: models.TableMessages, Type: models.EventUpdate, Record: map[string]any{"thread_id": "other", "sender_id": "U2"}})
	assert.Never(t, func() bool { return counter.calls.Load() > 1 }, 100*time.Millisecond, 10*time.Millisecond)

	broker.Publish(models.ChangeEvent{Table: models.TableMessages, Type: models.EventInsert, Record: map[string]any{"thread_id": "mine", "sender_id": "U2"}})
	require.Eventually(t, func() bool { return counter.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}
