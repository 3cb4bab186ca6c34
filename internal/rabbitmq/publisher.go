package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrConnectionLost is returned once the broker has closed the channel.
var ErrConnectionLost = errors.New("rabbitmq: connection lost")

// Publisher publishes JSON events to a topic exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
	Close() error
}

// NewPublisher connects to the broker and declares a durable topic
// exchange. When the URL is empty or the broker cannot be reached a noop
// publisher is returned and the service runs without the event stream.
func NewPublisher(amqpURL, exchange, appID string, log *zap.Logger) Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	if amqpURL == "" {
		return newNoop("empty amqp url", log)
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return newNoop(err.Error(), log)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return newNoop(err.Error(), log)
	}
	// durable, not auto-deleted, not internal, wait for the broker
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return newNoop(err.Error(), log)
	}

	p := &amqpPublisher{conn: conn, ch: ch, exchange: exchange, appID: appID, log: log}
	go p.watch(ch.NotifyClose(make(chan *amqp.Error, 1)))
	log.Info("rabbitmq connected", zap.String("exchange", exchange))
	return p
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	appID    string
	log      *zap.Logger

	mu   sync.Mutex
	lost bool
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lost {
		return ErrConnectionLost
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		AppId:        p.appID,
		Timestamp:    time.Now().UTC(),
		Headers:      table,
		Body:         body,
	})
	if err != nil {
		p.log.Warn("rabbitmq publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
	return err
}

// watch marks the publisher unusable once the broker closes the channel.
// Events are best effort; there is no reconnect.
func (p *amqpPublisher) watch(closed <-chan *amqp.Error) {
	reason, ok := <-closed
	p.mu.Lock()
	p.lost = true
	p.mu.Unlock()
	if ok && reason != nil {
		p.log.Warn("rabbitmq channel closed", zap.String("reason", reason.Reason), zap.Int("code", reason.Code))
	}
}

func (p *amqpPublisher) Close() error {
	p.mu.Lock()
	p.lost = true
	p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
	log    *zap.Logger
}

func newNoop(reason string, log *zap.Logger) noopPublisher {
	log.Warn("rabbitmq disabled, using noop", zap.String("reason", reason))
	return noopPublisher{reason: reason, log: log}
}

func (p noopPublisher) Publish(_ context.Context, routingKey string, _ any, headers map[string]string) error {
	p.log.Debug("rabbitmq noop publish", zap.String("routing_key", routingKey), zap.String("request_id", headers["x-request-id"]))
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports "amqp", "noop" or "unknown".
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

// PublisherNoopReason explains why the noop publisher is in use.
func PublisherNoopReason(p Publisher) string {
	if np, ok := p.(noopPublisher); ok {
		return np.reason
	}
	return ""
}
