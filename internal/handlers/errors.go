package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat/internal/repositories"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, repositories.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, repositories.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, repositories.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, repositories.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error, fallback string) {
	status := statusFor(err)
	msg := fallback
	switch status {
	case http.StatusServiceUnavailable:
		msg = "service temporarily unavailable, please retry"
	case http.StatusForbidden:
		msg = "not a thread participant"
	case http.StatusNotFound:
		msg = "thread not found"
	case http.StatusBadRequest:
		msg = err.Error()
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg, "retryable": status == http.StatusServiceUnavailable})
}
