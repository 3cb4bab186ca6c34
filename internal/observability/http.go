package observability

import (
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// ClientInfo identifies the caller of a request for event payloads.
type ClientInfo struct {
	DeviceID  string
	RequestID string
	IP        string
}

// ClientFromRequest extracts caller identity headers, minting a request id
// when the caller did not send one.
func ClientFromRequest(r *http.Request) ClientInfo {
	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	return ClientInfo{
		DeviceID:  r.Header.Get("X-Device-Id"),
		RequestID: requestID,
		IP:        IPFromRequest(r),
	}
}

func IPFromRequest(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
