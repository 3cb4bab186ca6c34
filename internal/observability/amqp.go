package observability

import (
	"context"
	"sync"
)

// Publisher sends JSON events to the event exchange.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error
}

var (
	publisherMu      sync.RWMutex
	defaultPublisher Publisher
)

// SetPublisher installs the process-wide event publisher. A nil publisher
// turns PublishEvent into a no-op.
func SetPublisher(publisher Publisher) {
	publisherMu.Lock()
	defaultPublisher = publisher
	publisherMu.Unlock()
}

// PublishEvent sends an envelope through the installed publisher. Failures
// are counted per routing key and returned; callers treat events as best
// effort.
func PublishEvent(ctx context.Context, routingKey string, message interface{}, headers map[string]string) error {
	publisherMu.RLock()
	p := defaultPublisher
	publisherMu.RUnlock()
	if p == nil {
		return nil
	}

	if err := p.Publish(ctx, routingKey, message, headers); err != nil {
		IncAMQPPublishError(routingKey)
		return err
	}
	return nil
}
