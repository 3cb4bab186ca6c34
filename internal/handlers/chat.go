package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"support-chat/internal/models"
	"support-chat/internal/repositories"
)

// ChatService is the chat surface the handlers depend on.
type ChatService interface {
	ChatViews(ctx context.Context, userID string) ([]models.ChatView, error)
	FindOrCreateThread(ctx context.Context, peerID, initiatorID string) (models.Thread, bool, error)
	ListMessages(ctx context.Context, threadID, userID string) ([]models.Message, error)
	SendMessage(ctx context.Context, threadID, senderID, content string, attachment *models.Attachment) (models.Message, error)
	MarkThreadRead(ctx context.Context, threadID, readerID string) (int64, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	ResolveProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error)
	IsUserOnline(userID string) bool
}

// ChatHandler manages thread and message endpoints.
type ChatHandler struct {
	chat ChatService
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chat ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// ListThreads returns the caller's chat list, newest activity first.
func (h *ChatHandler) ListThreads(c *gin.Context) {
	userID := c.GetString("userID")

	views, err := h.chat.ChatViews(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "failed to load threads")
		return
	}
	c.JSON(http.StatusOK, gin.H{"threads": views})
}

// StartThread finds or creates the thread between the caller and peer_id.
func (h *ChatHandler) StartThread(c *gin.Context) {
	var req struct {
		PeerID string `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	thread, created, err := h.chat.FindOrCreateThread(c.Request.Context(), strings.TrimSpace(req.PeerID), userID)
	if err != nil {
		writeError(c, err, "could not start thread")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"thread": thread, "created": created})
}

// GetMessages returns the thread's messages oldest first.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	threadID := c.Param("thread_id")
	userID := c.GetString("userID")

	msgs, err := h.chat.ListMessages(c.Request.Context(), threadID, userID)
	if err != nil {
		writeError(c, err, "failed to load messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message. When the thread's activity could not be
// updated the message is still returned, with a warning.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	threadID := c.Param("thread_id")

	var req struct {
		Content    string             `json:"content"`
		Attachment *models.Attachment `json:"attachment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString("userID")
	msg, err := h.chat.SendMessage(c.Request.Context(), threadID, userID, req.Content, req.Attachment)
	if err != nil {
		if errors.Is(err, repositories.ErrPartialWrite) {
			c.JSON(http.StatusCreated, gin.H{"message": msg, "warning": "message sent but the thread list may be out of date"})
			return
		}
		writeError(c, err, "failed to store message")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

// MarkRead flags the thread's incoming messages as read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	threadID := c.Param("thread_id")
	userID := c.GetString("userID")

	updated, err := h.chat.MarkThreadRead(c.Request.Context(), threadID, userID)
	if err != nil {
		writeError(c, err, "failed to mark thread read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// Unread returns the caller's unread total.
func (h *ChatHandler) Unread(c *gin.Context) {
	userID := c.GetString("userID")

	count, err := h.chat.UnreadCount(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err, "failed to count unread messages")
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": count})
}
