package chat

import (
	"context"
	"sync"

	"support-chat/internal/models"
)

// ViewState is the phase of a thread view.
type ViewState int

const (
	Unselected ViewState = iota
	Loading
	Loaded
)

func (s ViewState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "unselected"
	}
}

// ThreadSnapshot is a copy of a thread view's state.
type ThreadSnapshot struct {
	State    ViewState
	ThreadID string
	Messages []models.Message
	Err      error
}

// Outcome reports what Resolve did with a load result.
type Outcome int

const (
	// Stale results belong to an older request and were dropped.
	Stale Outcome = iota
	// Failed loads leave the view in Loading with the error attached.
	Failed
	// Refreshed replaced the messages of a view that was already Loaded.
	Refreshed
	// Settled moved the view from Loading to Loaded.
	Settled
)

// Applied reports whether the result was kept.
func (o Outcome) Applied() bool {
	return o != Stale
}

// Ticket identifies one load request.
type Ticket struct {
	threadID string
	seq      uint64
}

// ThreadView tracks the selected thread and its messages. Loads are not
// cancelled when the selection moves on; their results are dropped instead
// unless they still match the current request.
type ThreadView struct {
	mu       sync.Mutex
	state    ViewState
	threadID string
	messages []models.Message
	err      error
	seq      uint64
}

// NewThreadView returns an unselected view.
func NewThreadView() *ThreadView {
	return &ThreadView{}
}

// Select moves the view to Loading for threadID.
func (v *ThreadView) Select(threadID string) Ticket {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	v.state = Loading
	v.threadID = threadID
	v.messages = nil
	v.err = nil
	return Ticket{threadID: threadID, seq: v.seq}
}

// Resolve applies the result of the load identified by t. A failed load
// stays in Loading with the error attached.
func (v *ThreadView) Resolve(t Ticket, msgs []models.Message, err error) Outcome {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == Unselected || t.seq != v.seq || t.threadID != v.threadID {
		return Stale
	}
	if err != nil {
		v.state = Loading
		v.err = err
		return Failed
	}
	prev := v.state
	v.state = Loaded
	v.messages = msgs
	v.err = nil
	if prev == Loading {
		return Settled
	}
	return Refreshed
}

// Unselect clears the view. Loads still in flight are discarded.
func (v *ThreadView) Unselect() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	v.state = Unselected
	v.threadID = ""
	v.messages = nil
	v.err = nil
}

// Current returns the selected thread id, empty when unselected.
func (v *ThreadView) Current() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.threadID
}

// Snapshot copies the current state.
func (v *ThreadView) Snapshot() ThreadSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	msgs := make([]models.Message, len(v.messages))
	copy(msgs, v.messages)
	return ThreadSnapshot{State: v.state, ThreadID: v.threadID, Messages: msgs, Err: v.err}
}

// Reload refetches the current selection without leaving Loaded. Only the
// newest request for the selection is applied, so a reload issued while the
// first load is in flight supersedes it and may settle the view itself. It
// returns the thread id the fetch was made for.
func (v *ThreadView) Reload(ctx context.Context, fetch func(ctx context.Context, threadID string) ([]models.Message, error)) (string, []models.Message, Outcome, error) {
	v.mu.Lock()
	if v.state == Unselected {
		v.mu.Unlock()
		return "", nil, Stale, nil
	}
	v.seq++
	t := Ticket{threadID: v.threadID, seq: v.seq}
	v.mu.Unlock()

	msgs, err := fetch(ctx, t.threadID)
	return t.threadID, msgs, v.Resolve(t, msgs, err), err
}
