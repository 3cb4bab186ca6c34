package models

// Change event types as emitted by the database triggers.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventAny    = "*"
)

// Tables observed by the realtime feed.
const (
	TableThreads  = "threads"
	TableMessages = "messages"
)

// ChangeEvent is a row change notification. Consumers treat it as an
// invalidation signal and refetch; Record is only used to route it.
type ChangeEvent struct {
	Table  string         `json:"table"`
	Type   string         `json:"type"`
	Record map[string]any `json:"record,omitempty"`
}

// WSFrame is pushed to websocket clients.
type WSFrame struct {
	Type     string    `json:"type"`
	ThreadID string    `json:"thread_id,omitempty"`
	Count    *int      `json:"count,omitempty"`
	Online   []string  `json:"online,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// WSCommand is sent by websocket clients.
type WSCommand struct {
	Action   string `json:"action"`
	ThreadID string `json:"thread_id,omitempty"`
}
