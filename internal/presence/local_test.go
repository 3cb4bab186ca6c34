package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBroadcasterTrackAndLeave(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBroadcaster()

	watcher, err := b.Join(ctx, "online-users")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		snaps []Snapshot
	)
	cancel := watcher.OnChange(func(s Snapshot) {
		mu.Lock()
		snaps = append(snaps, s)
		mu.Unlock()
	})
	defer cancel()

	first, err := b.Join(ctx, "online-users")
	require.NoError(t, err)
	second, err := b.Join(ctx, "online-users")
	require.NoError(t, err)
	require.NoError(t, first.Track(ctx, Meta{UserID: "U1", OnlineAt: time.Now()}))
	require.NoError(t, second.Track(ctx, Meta{UserID: "U1", OnlineAt: time.Now()}))

	mu.Lock()
	last := snaps[len(snaps)-1]
	mu.Unlock()
	assert.Len(t, last["U1"], 2)
	assert.Equal(t, []string{"U1"}, last.Online())

	require.NoError(t, first.Leave(ctx))
	mu.Lock()
	last = snaps[len(snaps)-1]
	mu.Unlock()
	assert.Len(t, last["U1"], 1)

	require.NoError(t, second.Leave(ctx))
	require.NoError(t, second.Leave(ctx))
	mu.Lock()
	last = snaps[len(snaps)-1]
	mu.Unlock()
	assert.Empty(t, last.Online())

	assert.ErrorIs(t, second.Track(ctx, Meta{UserID: "U1"}), errLeft)
}

func TestLocalBroadcasterChannelsAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := NewLocalBroadcaster()

	a, err := b.Join(ctx, "a")
	require.NoError(t, err)
	other, err := b.Join(ctx, "b")
	require.NoError(t, err)

	var got Snapshot
	other.OnChange(func(s Snapshot) { got = s })
	require.NoError(t, a.Track(ctx, Meta{UserID: "U1"}))

	assert.Empty(t, got.Online())
}

func TestLocalBroadcasterJoinCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalBroadcaster().Join(ctx, "online-users")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotOnlineSorted(t *testing.T) {
	s := Snapshot{"b": {{UserID: "b"}}, "a": {{UserID: "a"}}, "gone": nil}
	assert.Equal(t, []string{"a", "b"}, s.Online())
}
