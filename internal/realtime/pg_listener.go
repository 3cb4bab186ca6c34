package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"support-chat/internal/models"
)

// Publisher accepts decoded change events.
type Publisher interface {
	Publish(evt models.ChangeEvent) int
}

// PGListener turns Postgres NOTIFY payloads into change events.
type PGListener struct {
	dsn          string
	channel      string
	out          Publisher
	log          *zap.Logger
	minReconnect time.Duration
	maxReconnect time.Duration
	pingEvery    time.Duration
}

// NewPGListener builds a listener on channel that forwards to out.
func NewPGListener(dsn, channel string, out Publisher, log *zap.Logger) *PGListener {
	if log == nil {
		log = zap.NewNop()
	}
	return &PGListener{
		dsn:          dsn,
		channel:      channel,
		out:          out,
		log:          log,
		minReconnect: time.Second,
		maxReconnect: time.Minute,
		pingEvery:    90 * time.Second,
	}
}

// Run listens until ctx is cancelled.
func (l *PGListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, l.minReconnect, l.maxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			l.log.Warn("change listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	defer listener.Close()

	if err := listener.Listen(l.channel); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Info("change listener started", zap.String("channel", l.channel))

	ticker := time.NewTicker(l.pingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			l.handle(n)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.log.Warn("change listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

func (l *PGListener) handle(n *pq.Notification) {
	if n == nil {
		// nil after a reconnect: notifications may have been lost
		l.out.Publish(models.ChangeEvent{Table: models.EventAny, Type: models.EventAny})
		return
	}
	evt, err := DecodeNotification(n.Extra)
	if err != nil {
		l.log.Warn("dropping malformed change payload", zap.String("payload", n.Extra), zap.Error(err))
		return
	}
	l.out.Publish(evt)
}

// DecodeNotification parses a trigger payload.
func DecodeNotification(payload string) (models.ChangeEvent, error) {
	var evt models.ChangeEvent
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return models.ChangeEvent{}, err
	}
	if evt.Table == "" || evt.Type == "" {
		return models.ChangeEvent{}, errors.New("missing table or type")
	}
	return evt, nil
}
