package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat/internal/models"
	"support-chat/internal/storage"
)

// Uploader stores attachment blobs.
type Uploader interface {
	Upload(ctx context.Context, ownerID, fileName, contentType string, body io.Reader, size int64) (models.Attachment, error)
}

// AttachmentHandler accepts multipart uploads for message attachments.
type AttachmentHandler struct {
	uploader Uploader
}

// NewAttachmentHandler builds an AttachmentHandler. A nil uploader turns
// the endpoint off.
func NewAttachmentHandler(uploader Uploader) *AttachmentHandler {
	return &AttachmentHandler{uploader: uploader}
}

// Upload stores the "file" form field and returns the attachment to pass
// along with the next message.
func (h *AttachmentHandler) Upload(c *gin.Context) {
	if h.uploader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "attachments are disabled"})
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not read file"})
		return
	}
	defer file.Close()

	userID := c.GetString("userID")
	att, err := h.uploader.Upload(c.Request.Context(), userID, header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "upload failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"attachment": att})
}
