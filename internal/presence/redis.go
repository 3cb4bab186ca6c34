package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisBroadcaster shares presence between service instances. Members are
// fields of a hash keyed by channel, each carrying an expiry refreshed by a
// heartbeat; changes are announced on a pub/sub channel.
type RedisBroadcaster struct {
	client    *redis.Client
	ttl       time.Duration
	heartbeat time.Duration
	log       *zap.Logger
}

// NewRedisClient connects to redis and verifies the connection.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}

// NewRedisBroadcaster builds a broadcaster. ttl must exceed heartbeat.
func NewRedisBroadcaster(client *redis.Client, ttl, heartbeat time.Duration, log *zap.Logger) *RedisBroadcaster {
	return &RedisBroadcaster{client: client, ttl: ttl, heartbeat: heartbeat, log: log}
}

type redisEntry struct {
	Meta      Meta  `json:"meta"`
	ExpiresAt int64 `json:"expires_at"`
}

func hashKey(channel string) string { return "presence:" + channel }
func syncKey(channel string) string { return "presence:" + channel + ":sync" }

// Join subscribes to the channel's change notifications.
func (b *RedisBroadcaster) Join(ctx context.Context, channel string) (Membership, error) {
	sub := b.client.Subscribe(ctx, syncKey(channel))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe presence %s: %w", channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m := &redisMembership{
		b:         b,
		channel:   channel,
		key:       uuid.NewString(),
		sub:       sub,
		cancel:    cancel,
		listeners: make(map[uint64]func(Snapshot)),
	}
	go m.run(runCtx)
	return m, nil
}

type redisMembership struct {
	b       *RedisBroadcaster
	channel string
	key     string
	sub     *redis.PubSub
	cancel  context.CancelFunc

	mu        sync.Mutex
	meta      *Meta
	listeners map[uint64]func(Snapshot)
	next      uint64
	left      bool
}

func (m *redisMembership) Track(ctx context.Context, meta Meta) error {
	m.mu.Lock()
	if m.left {
		m.mu.Unlock()
		return errLeft
	}
	m.meta = &meta
	m.mu.Unlock()
	return m.write(ctx, meta)
}

func (m *redisMembership) write(ctx context.Context, meta Meta) error {
	data, err := json.Marshal(redisEntry{Meta: meta, ExpiresAt: time.Now().Add(m.b.ttl).UnixMilli()})
	if err != nil {
		return err
	}
	if err := m.b.client.HSet(ctx, hashKey(m.channel), m.key, data).Err(); err != nil {
		return fmt.Errorf("track presence: %w", err)
	}
	return m.b.client.Publish(ctx, syncKey(m.channel), m.key).Err()
}

func (m *redisMembership) OnChange(fn func(Snapshot)) func() {
	m.mu.Lock()
	m.next++
	id := m.next
	m.listeners[id] = fn
	m.mu.Unlock()

	if snap, err := m.snapshot(context.Background()); err == nil {
		fn(snap)
	} else {
		m.b.log.Warn("presence snapshot failed", zap.String("channel", m.channel), zap.Error(err))
	}

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *redisMembership) Leave(ctx context.Context) error {
	m.mu.Lock()
	if m.left {
		m.mu.Unlock()
		return nil
	}
	m.left = true
	tracked := m.meta != nil
	m.mu.Unlock()

	m.cancel()
	_ = m.sub.Close()
	if !tracked {
		return nil
	}
	if err := m.b.client.HDel(ctx, hashKey(m.channel), m.key).Err(); err != nil {
		return fmt.Errorf("leave presence: %w", err)
	}
	return m.b.client.Publish(ctx, syncKey(m.channel), m.key).Err()
}

// run refreshes this member's entry and rebuilds the snapshot whenever the
// channel announces a change or a heartbeat passes. The heartbeat refresh
// also expires members of instances that died without leaving.
func (m *redisMembership) run(ctx context.Context) {
	ticker := time.NewTicker(m.b.heartbeat)
	defer ticker.Stop()
	notes := m.sub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-notes:
			if !ok {
				return
			}
			m.notify(ctx)
		case <-ticker.C:
			m.mu.Lock()
			meta := m.meta
			m.mu.Unlock()
			if meta != nil {
				if err := m.write(ctx, *meta); err != nil {
					m.b.log.Warn("presence heartbeat failed", zap.String("channel", m.channel), zap.Error(err))
				}
			}
			m.notify(ctx)
		}
	}
}

func (m *redisMembership) notify(ctx context.Context) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		m.b.log.Warn("presence snapshot failed", zap.String("channel", m.channel), zap.Error(err))
		return
	}
	m.mu.Lock()
	fns := make([]func(Snapshot), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

func (m *redisMembership) snapshot(ctx context.Context) (Snapshot, error) {
	fields, err := m.b.client.HGetAll(ctx, hashKey(m.channel)).Result()
	if err != nil {
		return nil, err
	}
	now := time.Now().UnixMilli()
	snap := Snapshot{}
	var expired []string
	for field, raw := range fields {
		var entry redisEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.ExpiresAt < now {
			expired = append(expired, field)
			continue
		}
		snap[entry.Meta.UserID] = append(snap[entry.Meta.UserID], entry.Meta)
	}
	if len(expired) > 0 {
		if err := m.b.client.HDel(ctx, hashKey(m.channel), expired...).Err(); err != nil {
			m.b.log.Debug("presence expiry cleanup failed", zap.Error(err))
		}
	}
	return snap, nil
}
