package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"support-chat/internal/mocks"
	"support-chat/internal/models"
	"support-chat/internal/repositories"
	"support-chat/internal/telemetry"
)

type onlineSet map[string]bool

func (o onlineSet) IsUserOnline(id string) bool { return o[id] }

var (
	alice  = models.Profile{ID: "U1", Name: "Alice", Role: "user"}
	helper = models.Profile{ID: "U2", Name: "Dr. Bo", Role: "consultant"}
)

func newMemService(store *memStore, presence PresenceLookup) *Service {
	return NewService(store, store, store, presence, nil, Options{}, zap.NewNop())
}

func TestFindOrCreateThreadSeedsGreetingFromInitiator(t *testing.T) {
	store := newMemStore(alice, helper)
	svc := newMemService(store, nil)
	ctx := context.Background()

	thread, created, err := svc.FindOrCreateThread(ctx, "U2", "U1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "U1", thread.PrimaryID)
	assert.Equal(t, "U2", thread.CounterpartyID)

	msgs, err := svc.ListMessages(ctx, thread.ID, "U1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "U1", msgs[0].SenderID)
	assert.Equal(t, DefaultGreeting, msgs[0].Content)

	again, created, err := svc.FindOrCreateThread(ctx, "U1", "U2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, thread.ID, again.ID)

	msgs, err = svc.ListMessages(ctx, thread.ID, "U2")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestFindOrCreateThreadProviderInitiates(t *testing.T) {
	store := newMemStore(alice, helper)
	svc := newMemService(store, nil)

	thread, _, err := svc.FindOrCreateThread(context.Background(), "U1", "U2")
	require.NoError(t, err)
	assert.Equal(t, "U1", thread.PrimaryID)
	assert.Equal(t, "U2", thread.CounterpartyID)

	msgs, err := svc.ListMessages(context.Background(), thread.ID, "U1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "U2", msgs[0].SenderID)
}

func TestFindOrCreateThreadCustomGreeting(t *testing.T) {
	store := newMemStore(alice, helper)
	svc := NewService(store, store, store, nil, nil, Options{GreetingMessage: "hello there"}, nil)

	thread, _, err := svc.FindOrCreateThread(context.Background(), "U2", "U1")
	require.NoError(t, err)
	msgs, err := svc.ListMessages(context.Background(), thread.ID, "U1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello there", msgs[0].Content)
}

func TestFindOrCreateThreadRejectsSelfChat(t *testing.T) {
	threads := new(mocks.ThreadRepositoryMock)
	svc := NewService(threads, new(mocks.MessageRepositoryMock), new(mocks.ProfileRepositoryMock), nil, nil, Options{}, nil)

	_, _, err := svc.FindOrCreateThread(context.Background(), "U1", "U1")
	assert.ErrorIs(t, err, repositories.ErrInvalidInput)

	_, _, err = svc.FindOrCreateThread(context.Background(), "", "U1")
	assert.ErrorIs(t, err, repositories.ErrInvalidInput)
	threads.AssertNotCalled(t, "FindThreadBetween", mock.Anything, mock.Anything, mock.Anything)
}

func TestFindOrCreateThreadLookupFailure(t *testing.T) {
	threads := new(mocks.ThreadRepositoryMock)
	threads.On("FindThreadBetween", mock.Anything, "U2", "U1").
		Return(nil, repositories.ErrBackendUnavailable)
	svc := NewService(threads, new(mocks.MessageRepositoryMock), new(mocks.ProfileRepositoryMock), nil, nil, Options{}, nil)

	_, _, err := svc.FindOrCreateThread(context.Background(), "U2", "U1")
	assert.ErrorIs(t, err, repositories.ErrBackendUnavailable)
	threads.AssertNotCalled(t, "CreateThread", mock.Anything, mock.Anything, mock.Anything)
}

func TestFindOrCreateThreadKeepsThreadWhenGreetingFails(t *testing.T) {
	threads := new(mocks.ThreadRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	profiles := new(mocks.ProfileRepositoryMock)
	publisher := &mocks.RecordingPublisher{}
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", "support-chat", "test", nil)

	created := models.Thread{ID: "t1", PrimaryID: "U1", CounterpartyID: "U2"}
	threads.On("FindThreadBetween", mock.Anything, "U2", "U1").Return(nil, repositories.ErrThreadNotFound)
	profiles.On("ResolveProfiles", mock.Anything, []string{"U2", "U1"}).
		Return(map[string]models.Profile{"U1": alice, "U2": helper}, nil)
	threads.On("CreateThread", mock.Anything, "U1", "U2").Return(created, nil)
	messages.On("CreateMessage", mock.Anything, models.NewMessage{ThreadID: "t1", SenderID: "U1", Content: DefaultGreeting}).
		Return(nil, errors.New("insert failed"))

	svc := NewService(threads, messages, profiles, nil, audit, Options{}, nil)
	thread, wasCreated, err := svc.FindOrCreateThread(context.Background(), "U2", "U1")

	require.NoError(t, err)
	assert.True(t, wasCreated)
	assert.Equal(t, created, thread)

	events := publisher.Events()
	require.Len(t, events, 2)
	warn, ok := events[1].Event.(telemetry.AuditEnvelope)
	require.True(t, ok)
	assert.Equal(t, telemetry.LevelWarn, warn.Payload.Level)
	assert.Equal(t, "t1", warn.Payload.ThreadID)
	mock.AssertExpectationsForObjects(t, threads, messages, profiles)
}

func TestFindOrCreateThreadConcurrentCallersMayDuplicate(t *testing.T) {
	threads := new(mocks.ThreadRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	profiles := new(mocks.ProfileRepositoryMock)

	var barrier sync.WaitGroup
	barrier.Add(2)
	threads.On("FindThreadBetween", mock.Anything, "U2", "U1").
		Run(func(mock.Arguments) {
			barrier.Done()
			barrier.Wait()
		}).
		Return(nil, repositories.ErrThreadNotFound)
	profiles.On("ResolveProfiles", mock.Anything, mock.Anything).
		Return(map[string]models.Profile{"U1": alice, "U2": helper}, nil)
	threads.On("CreateThread", mock.Anything, "U1", "U2").Return(models.Thread{ID: "t1", PrimaryID: "U1", CounterpartyID: "U2"}, nil).Once()
	threads.On("CreateThread", mock.Anything, "U1", "U2").Return(models.Thread{ID: "t2", PrimaryID: "U1", CounterpartyID: "U2"}, nil).Once()
	messages.On("CreateMessage", mock.Anything, mock.Anything).Return(models.Message{ID: "m"}, nil)

	svc := NewService(threads, messages, profiles, nil, nil, Options{}, nil)

	var wg sync.WaitGroup
	ids := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			thread, created, err := svc.FindOrCreateThread(context.Background(), "U2", "U1")
			assert.NoError(t, err)
			assert.True(t, created)
			ids[i] = thread.ID
		}(i)
	}
	wg.Wait()

	assert.ElementsMatch(t, []string{"t1", "t2"}, ids)
	threads.AssertNumberOfCalls(t, "CreateThread", 2)
}

func TestSendMessageMovesThreadToTop(t *testing.T) {
	store := newMemStore(alice, helper, models.Profile{ID: "U3", Name: "Cy", Role: "consultant"})
	svc := newMemService(store, nil)
	ctx := context.Background()

	first, _, err := svc.FindOrCreateThread(ctx, "U2", "U1")
	require.NoError(t, err)
	second, _, err := svc.FindOrCreateThread(ctx, "U3", "U1")
	require.NoError(t, err)

	threads, err := svc.ListThreads(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, second.ID, threads[0].ID)

	svc.now = func() time.Time { return store.clock.Add(time.Hour) }
	_, err = svc.SendMessage(ctx, first.ID, "U2", "how are you?", nil)
	require.NoError(t, err)

	threads, err = svc.ListThreads(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, threads[0].ID)
}

func TestSendMessageWithAttachmentOnly(t *testing.T) {
	store := newMemStore(alice, helper)
	svc := newMemService(store, nil)
	ctx := context.Background()
	thread, _, err := svc.FindOrCreateThread(ctx, "U2", "U1")
	require.NoError(t, err)

	att := &models.Attachment{URL: "http://files/a.png", MimeType: "image/png", Name: "a.png", Size: 3}
	msg, err := svc.SendMessage(ctx, thread.ID, "U1", "", att)
	require.NoError(t, err)
	assert.Equal(t, att, msg.Attachment())
}

func TestSendMessageValidation(t *testing.T) {
	store := newMemStore(alice, helper)
	svc := newMemService(store, nil)
	ctx := context.Background()
	thread, _, err := svc.FindOrCreateThread(ctx, "U2", "U1")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, thread.ID, "U1", "   ", nil)
	assert.ErrorIs(t, err, repositories.ErrInvalidInput)

	_, err = svc.SendMessage(ctx, thread.ID, "U1", "", &models.Attachment{Name: "x"})
	assert.ErrorIs(t, err, repositories.ErrInvalidInput)

	_, err = svc.SendMessage(ctx, thread.ID, "U9", "hi", nil)
	assert.ErrorIs(t, err, repositories.ErrUnauthorized)

	_, err = svc.SendMessage(ctx, "missing", "U1", "hi", nil)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestSendMessagePartialWrite(t *testing.T) {
	threads := new(mocks.ThreadRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	stored := models.Message{ID: "m1", ThreadID: "t1", SenderID: "U1", Content: "hi"}

	threads.On("GetThread", mock.Anything, "t1").Return(models.Thread{ID: "t1", PrimaryID: "U1", CounterpartyID: "U2"}, nil)
	messages.On("CreateMessage", mock.Anything, models.NewMessage{ThreadID: "t1", SenderID: "U1", Content: "hi"}).Return(stored, nil)
	threads.On("TouchThread", mock.Anything, "t1", at).Return(repositories.ErrBackendUnavailable)

	svc := NewService(threads, messages, new(mocks.ProfileRepositoryMock), nil, nil, Options{}, nil)
	svc.now = func() time.Time { return at }

	msg, err := svc.SendMessage(context.Background(), "t1", "U1", "hi", nil)
	assert.Equal(t, stored, msg)
	assert.ErrorIs(t, err, repositories.ErrPartialWrite)
	assert.ErrorIs(t, err, repositories.ErrBackendUnavailable)

	var partial *repositories.PartialWriteError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, "touch thread", partial.Op)
}

func TestListMessagesSortedAndGuarded(t *testing.T) {
	threads := new(mocks.ThreadRepositoryMock)
	messages := new(mocks.MessageRepositoryMock)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	threads.On("GetThread", mock.Anything, "t1").Return(models.Thread{ID: "t1", PrimaryID: "U1", CounterpartyID: "U2"}, nil)
	messages.On("ListMessages", mock.Anything, "t1").Return([]models.Message{
		{ID: "b", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "a", CreatedAt: base},
		{ID: "c", CreatedAt: base.Add(2 * time.Minute)},
	}, nil)

	svc := NewService(threads, messages, new(mocks.ProfileRepositoryMock), nil, nil, Options{}, nil)

	msgs, err := svc.ListMessages(context.Background(), "t1", "U2")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})

	_, err = svc.ListMessages(context.Background(), "t1", "U3")
	assert.ErrorIs(t, err, repositories.ErrUnauthorized)
	messages.AssertNumberOfCalls(t, "ListMessages", 1)
}

func TestMarkThreadReadAndUnreadCount(t *testing.T) {
	store := newMemStore(alice, helper, models.Profile{ID: "U3", Role: "consultant"})
	svc := newMemService(store, nil)
	ctx := context.Background()

	t1, _, err := svc.FindOrCreateThread(ctx, "U2", "U1")
	require.NoError(t, err)
	t2, _, err := svc.FindOrCreateThread(ctx, "U3", "U1")
	require.NoError(t, err)

	// greetings were written by U1, so U1 has nothing unread yet
	count, err := svc.UnreadCount(ctx, "U1")
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = svc.UnreadCount(ctx, "U2")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	for _, body := range []string{"one", "two"} {
		_, err = svc.SendMessage(ctx, t1.ID, "U2", body, nil)
		require.NoError(t, err)
	}
	_, err = svc.SendMessage(ctx, t2.ID, "U3", "three", nil)
	require.NoError(t, err)

	count, err = svc.UnreadCount(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	n, err := svc.MarkThreadRead(ctx, t1.ID, "U1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = svc.MarkThreadRead(ctx, t1.ID, "U1")
	require.NoError(t, err)
	assert.Zero(t, n)

	count, err = svc.UnreadCount(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = svc.MarkThreadRead(ctx, t1.ID, "U3")
	assert.ErrorIs(t, err, repositories.ErrUnauthorized)
}

func TestUnreadCountWithoutThreads(t *testing.T) {
	svc := newMemService(newMemStore(), nil)

	count, err := svc.UnreadCount(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestChatViews(t *testing.T) {
	store := newMemStore(alice, helper)
	svc := newMemService(store, onlineSet{"U2": true})
	ctx := context.Background()

	known, _, err := svc.FindOrCreateThread(ctx, "U2", "U1")
	require.NoError(t, err)
	ghost, _, err := svc.FindOrCreateThread(ctx, "GHOST", "U1")
	require.NoError(t, err)

	views, err := svc.ChatViews(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, views, 2)

	byThread := map[string]models.ChatView{}
	for _, v := range views {
		byThread[v.Thread.ID] = v
	}
	assert.Equal(t, "Dr. Bo", byThread[known.ID].Other.Name)
	assert.True(t, byThread[known.ID].Online)
	require.NotNil(t, byThread[known.ID].LastMessage)
	assert.Equal(t, DefaultGreeting, byThread[known.ID].LastMessage.Content)

	assert.Equal(t, models.UnknownUserName, byThread[ghost.ID].Other.Name)
	assert.Equal(t, "GHOST", byThread[ghost.ID].Other.ID)
	assert.False(t, byThread[ghost.ID].Online)
}

func TestIsUserOnlineWithoutPresence(t *testing.T) {
	svc := newMemService(newMemStore(), nil)
	assert.False(t, svc.IsUserOnline("U1"))

	svc = newMemService(newMemStore(), onlineSet{"U1": true})
	assert.True(t, svc.IsUserOnline("U1"))
	assert.False(t, svc.IsUserOnline("U2"))
}
