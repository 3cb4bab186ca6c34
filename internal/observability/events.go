package observability

import "time"

// Routing keys on the event exchange.
const (
	RoutingWSEvents   = "ws_events.sessions"
	RoutingChatEvents = "chat_events.threads"
	EventTypeWS       = "ws_events"
	EventTypeChat     = "chat_events"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSEventFields describes one websocket lifecycle event.
type WSEventFields struct {
	ConnID      string
	UserID      string
	Client      ClientInfo
	ConnectedAt time.Time
	Reason      string
}

// NewWSEvent builds the envelope published for ws_connect, ws_disconnect
// and ws_error.
func NewWSEvent(name string, f WSEventFields) EventEnvelope {
	var duration int64
	if !f.ConnectedAt.IsZero() {
		duration = time.Since(f.ConnectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: EventTypeWS,
		EventName: name,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       name,
				"conn_id":     f.ConnID,
				"duration_ms": duration,
				"reason":      f.Reason,
			},
			"identity": map[string]interface{}{
				"user_id":   f.UserID,
				"device_id": f.Client.DeviceID,
				"ip":        f.Client.IP,
			},
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// NewChatEvent builds the envelope published for thread_created and
// message_sent.
func NewChatEvent(name string, payload map[string]interface{}) EventEnvelope {
	return EventEnvelope{
		EventType: EventTypeChat,
		EventName: name,
		Payload:   payload,
	}
}
