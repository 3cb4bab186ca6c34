package ws

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"support-chat/internal/middleware"
)

var errSendOverflow = errors.New("send buffer overflow")

func newConnID() string {
	return uuid.NewString()
}

// tokenFromRequest prefers the Authorization header and falls back to the
// token query parameter browsers use for websocket upgrades.
func tokenFromRequest(r *http.Request) string {
	if token, ok := middleware.BearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return r.URL.Query().Get("token")
}
