package mocks

import (
	"context"
	"io"
	"time"

	"github.com/stretchr/testify/mock"

	"support-chat/internal/models"
	"support-chat/internal/repositories"
)

type ThreadRepositoryMock struct {
	mock.Mock
}

func (m *ThreadRepositoryMock) ListThreadsForUser(ctx context.Context, userID string) ([]models.Thread, error) {
	args := m.Called(ctx, userID)
	var threads []models.Thread
	if val := args.Get(0); val != nil {
		threads = val.([]models.Thread)
	}
	return threads, args.Error(1)
}

func (m *ThreadRepositoryMock) ListThreadIDsForUser(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *ThreadRepositoryMock) FindThreadBetween(ctx context.Context, userA string, userB string) (models.Thread, error) {
	args := m.Called(ctx, userA, userB)
	var thread models.Thread
	if val := args.Get(0); val != nil {
		thread = val.(models.Thread)
	}
	return thread, args.Error(1)
}

func (m *ThreadRepositoryMock) CreateThread(ctx context.Context, primaryID string, counterpartyID string) (models.Thread, error) {
	args := m.Called(ctx, primaryID, counterpartyID)
	var thread models.Thread
	if val := args.Get(0); val != nil {
		thread = val.(models.Thread)
	}
	return thread, args.Error(1)
}

func (m *ThreadRepositoryMock) GetThread(ctx context.Context, threadID string) (models.Thread, error) {
	args := m.Called(ctx, threadID)
	var thread models.Thread
	if val := args.Get(0); val != nil {
		thread = val.(models.Thread)
	}
	return thread, args.Error(1)
}

func (m *ThreadRepositoryMock) TouchThread(ctx context.Context, threadID string, at time.Time) error {
	args := m.Called(ctx, threadID, at)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, threadID string) ([]models.Message, error) {
	args := m.Called(ctx, threadID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.NewMessage) (models.Message, error) {
	args := m.Called(ctx, msg)
	var created models.Message
	if val := args.Get(0); val != nil {
		created = val.(models.Message)
	}
	return created, args.Error(1)
}

func (m *MessageRepositoryMock) LatestMessages(ctx context.Context, threadIDs []string) (map[string]models.Message, error) {
	args := m.Called(ctx, threadIDs)
	var latest map[string]models.Message
	if val := args.Get(0); val != nil {
		latest = val.(map[string]models.Message)
	}
	return latest, args.Error(1)
}

func (m *MessageRepositoryMock) MarkThreadRead(ctx context.Context, threadID string, readerID string) (int64, error) {
	args := m.Called(ctx, threadID, readerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MessageRepositoryMock) CountUnread(ctx context.Context, threadIDs []string, userID string) (int, error) {
	args := m.Called(ctx, threadIDs, userID)
	return args.Int(0), args.Error(1)
}

type ProfileRepositoryMock struct {
	mock.Mock
}

func (m *ProfileRepositoryMock) ResolveProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	args := m.Called(ctx, ids)
	var profiles map[string]models.Profile
	if val := args.Get(0); val != nil {
		profiles = val.(map[string]models.Profile)
	}
	return profiles, args.Error(1)
}

// ChatServiceMock stands in for chat.Service in handler tests.
type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) ChatViews(ctx context.Context, userID string) ([]models.ChatView, error) {
	args := m.Called(ctx, userID)
	var views []models.ChatView
	if val := args.Get(0); val != nil {
		views = val.([]models.ChatView)
	}
	return views, args.Error(1)
}

func (m *ChatServiceMock) FindOrCreateThread(ctx context.Context, peerID, initiatorID string) (models.Thread, bool, error) {
	args := m.Called(ctx, peerID, initiatorID)
	var thread models.Thread
	if val := args.Get(0); val != nil {
		thread = val.(models.Thread)
	}
	return thread, args.Bool(1), args.Error(2)
}

func (m *ChatServiceMock) ListMessages(ctx context.Context, threadID, userID string) ([]models.Message, error) {
	args := m.Called(ctx, threadID, userID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *ChatServiceMock) SendMessage(ctx context.Context, threadID, senderID, content string, attachment *models.Attachment) (models.Message, error) {
	args := m.Called(ctx, threadID, senderID, content, attachment)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *ChatServiceMock) MarkThreadRead(ctx context.Context, threadID, readerID string) (int64, error) {
	args := m.Called(ctx, threadID, readerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ChatServiceMock) UnreadCount(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *ChatServiceMock) ResolveProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	args := m.Called(ctx, ids)
	var profiles map[string]models.Profile
	if val := args.Get(0); val != nil {
		profiles = val.(map[string]models.Profile)
	}
	return profiles, args.Error(1)
}

func (m *ChatServiceMock) IsUserOnline(userID string) bool {
	args := m.Called(userID)
	return args.Bool(0)
}

func (m *ChatServiceMock) ThreadIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

type UploaderMock struct {
	mock.Mock
}

func (m *UploaderMock) Upload(ctx context.Context, ownerID, fileName, contentType string, body io.Reader, size int64) (models.Attachment, error) {
	args := m.Called(ctx, ownerID, fileName, contentType, body, size)
	var att models.Attachment
	if val := args.Get(0); val != nil {
		att = val.(models.Attachment)
	}
	return att, args.Error(1)
}

var _ repositories.ThreadRepository = (*ThreadRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.ProfileRepository = (*ProfileRepositoryMock)(nil)
