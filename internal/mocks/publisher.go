package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}

// PublishedEvent is one call recorded by RecordingPublisher.
type PublishedEvent struct {
	RoutingKey string
	Event      any
	Headers    map[string]string
}

// RecordingPublisher keeps every published event for later assertions.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []PublishedEvent
}

func (p *RecordingPublisher) Publish(_ context.Context, routingKey string, event any, headers map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, PublishedEvent{RoutingKey: routingKey, Event: event, Headers: headers})
	return nil
}

func (p *RecordingPublisher) Close() error { return nil }

func (p *RecordingPublisher) Events() []PublishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PublishedEvent, len(p.events))
	copy(out, p.events)
	return out
}
