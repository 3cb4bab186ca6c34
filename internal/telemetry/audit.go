package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

// Audit levels.
const (
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        string       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level    string            `json:"level"`
	Text     string            `json:"text"`
	ThreadID string            `json:"thread_id,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// AuditEntry is one audited action.
type AuditEntry struct {
	Level     string
	Text      string
	RequestID string
	UserID    string
	ThreadID  string
	Fields    map[string]string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *zap.Logger) *AuditEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

// Emit publishes the entry. A nil emitter is a no-op so callers need no
// guard.
func (e *AuditEmitter) Emit(ctx context.Context, entry AuditEntry) {
	if e == nil || e.publisher == nil {
		return
	}

	e.log.Debug("audit emit",
		zap.String("level", entry.Level),
		zap.String("request_id", entry.RequestID),
		zap.String("user_id", entry.UserID),
		zap.String("text", entry.Text),
	)
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     entry.RequestID,
		UserID:        entry.UserID,
		Payload: AuditPayload{
			Level:    entry.Level,
			Text:     entry.Text,
			ThreadID: entry.ThreadID,
			Fields:   entry.Fields,
		},
	}

	headers := map[string]string{}
	if entry.RequestID != "" {
		headers["x-request-id"] = entry.RequestID
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope, headers); err != nil {
		e.log.Warn("audit publish failed", zap.Error(err))
	}
}
