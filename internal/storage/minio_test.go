package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type putterMock struct {
	mock.Mock
}

func (m *putterMock) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	args := m.Called(ctx, bucketName, objectName, reader, objectSize, opts)
	return args.Get(0).(minio.UploadInfo), args.Error(1)
}

func TestUploadReturnsPublicURL(t *testing.T) {
	putter := &putterMock{}
	store := NewAttachmentStore(putter, "chat-attachments", "https://cdn.example.com/chat-attachments/", 1024, nil)

	putter.On("PutObject", mock.Anything, "chat-attachments", mock.MatchedBy(func(name string) bool {
		return strings.HasPrefix(name, "user-1/") && strings.HasSuffix(name, ".png")
	}), mock.Anything, int64(4), mock.MatchedBy(func(opts minio.PutObjectOptions) bool {
		return opts.ContentType == "image/png" && opts.UserMetadata["original-name"] == "cat.png"
	})).Return(minio.UploadInfo{Size: 4}, nil).Once()

	att, err := store.Upload(context.Background(), "user-1", "photos/cat.png", "image/png", strings.NewReader("data"), 4)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(att.URL, "https://cdn.example.com/chat-attachments/user-1/"))
	assert.True(t, strings.HasSuffix(att.URL, ".png"))
	assert.Equal(t, "image/png", att.MimeType)
	assert.Equal(t, "cat.png", att.Name)
	assert.Equal(t, int64(4), att.Size)
	putter.AssertExpectations(t)
}

func TestUploadRejectsOversize(t *testing.T) {
	putter := &putterMock{}
	store := NewAttachmentStore(putter, "b", "http://x", 3, nil)

	_, err := store.Upload(context.Background(), "u", "a.txt", "text/plain", strings.NewReader("data"), 4)
	assert.ErrorIs(t, err, ErrTooLarge)
	putter.AssertNotCalled(t, "PutObject")
}

func TestUploadDefaultsContentType(t *testing.T) {
	putter := &putterMock{}
	store := NewAttachmentStore(putter, "b", "http://x", 0, nil)

	putter.On("PutObject", mock.Anything, "b", mock.Anything, mock.Anything, int64(4), mock.MatchedBy(func(opts minio.PutObjectOptions) bool {
		return opts.ContentType == "application/octet-stream"
	})).Return(minio.UploadInfo{Size: 4}, nil).Once()

	att, err := store.Upload(context.Background(), "u", "blob", "", strings.NewReader("data"), 4)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", att.MimeType)
}

func TestUploadPropagatesStoreError(t *testing.T) {
	putter := &putterMock{}
	store := NewAttachmentStore(putter, "b", "http://x", 0, nil)

	putter.On("PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, errors.New("minio error")).Once()

	_, err := store.Upload(context.Background(), "u", "a.txt", "text/plain", strings.NewReader("data"), 4)
	assert.ErrorContains(t, err, "minio error")
}
