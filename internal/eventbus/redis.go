/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/heimdall_tsn/internal/events"
)

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker
	MaxFailures   int
	RetryInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		RetryInterval: 30 * time.Second,
	}
}

// RedisBus bridges the in-process event bus onto Redis pub/sub channels
// for consumers that cannot speak NATS. Inbound remote events feed the
// local bus; Publish mirrors locally-originated events outward. When
// Redis drops, a circuit breaker stops the outbound leg and retries on
// an interval while local delivery continues untouched.
type RedisBus struct {
	client *redis.Client
	pubsub *redis.PubSub
	local  *events.Bus
	logger zerolog.Logger
	nodeID string

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	broken    bool
	failCount int
	maxFails  int
	retryWait time.Duration
	lastRetry time.Time
}

// NewRedisBus connects to Redis and subscribes every known event
// channel into the local bus. A failed initial connection is not fatal:
// the bus comes up with the breaker open and retries from Publish.
func NewRedisBus(cfg RedisConfig, nodeID string, local *events.Bus, logger zerolog.Logger) (*RedisBus, error) {
	log := logger.With().Str("component", "redisbus").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithCancel(context.Background())
	rb := &RedisBus{
		client:    client,
		local:     local,
		logger:    log,
		nodeID:    nodeID,
		cancel:    cancel,
		maxFails:  cfg.MaxFailures,
		retryWait: cfg.RetryInterval,
	}

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	err := client.Ping(pingCtx).Err()
	pingCancel()
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unavailable, events stay local until it returns")
		rb.broken = true
		rb.lastRetry = time.Now()
		return rb, nil
	}

	rb.openSubscription(ctx)
	log.Info().Str("addr", cfg.Addr).Str("node_id", nodeID).Msg("redis event bus initialized")
	return rb, nil
}

// openSubscription starts the single pub/sub covering all event
// channels and the goroutine draining it into the local bus.
func (rb *RedisBus) openSubscription(ctx context.Context) {
	channels := make([]string, 0, len(events.Types()))
	for _, eventType := range events.Types() {
		channels = append(channels, redisChannel(eventType))
	}
	rb.pubsub = rb.client.Subscribe(ctx, channels...)

	rb.wg.Add(1)
	go rb.receive(ctx, rb.pubsub)
}

func (rb *RedisBus) receive(ctx context.Context, pubsub *redis.PubSub) {
	defer rb.wg.Done()
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Msg("redis pub/sub channel closed")
				rb.recordFailure()
				return
			}
			wire, err := unmarshalWireMessage([]byte(msg.Payload))
			if err != nil {
				rb.logger.Error().Err(err).Str("channel", msg.Channel).Msg("bad redis message")
				continue
			}
			// Our own mirrored events come back here; drop them.
			if wire.NodeID == rb.nodeID {
				continue
			}
			if wire.Payload == nil {
				wire.Payload = events.Payload{}
			}
			wire.Payload[OriginKey] = wire.NodeID
			rb.local.Publish(wire.EventType, wire.Payload)
		}
	}
}

// Publish mirrors a locally-originated event onto its Redis channel.
// Local delivery already happened on the in-process bus. With the
// breaker open this degrades to a rate-limited reconnect probe.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	if rb.isBroken() {
		rb.tryReconnect()
		return
	}

	data, err := marshalWireMessage(eventType, payload, rb.nodeID)
	if err != nil {
		rb.logger.Error().Err(err).Msg("marshal redis message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, redisChannel(eventType), data).Err(); err != nil {
		rb.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("publish to redis")
		rb.recordFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// Close stops the receiver and closes the connection.
func (rb *RedisBus) Close() error {
	rb.cancel()
	if rb.pubsub != nil {
		_ = rb.pubsub.Close()
	}
	rb.wg.Wait()
	return rb.client.Close()
}

func (rb *RedisBus) isBroken() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.broken
}

// recordFailure opens the breaker once the failure threshold is hit.
func (rb *RedisBus) recordFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.broken {
		rb.logger.Warn().Int("fail_count", rb.failCount).Msg("redis failure threshold reached, pausing mirror")
		rb.broken = true
		rb.lastRetry = time.Now()
	}
}

// tryReconnect pings Redis at most once per retry interval and closes
// the breaker on success.
func (rb *RedisBus) tryReconnect() {
	rb.mu.Lock()
	if time.Since(rb.lastRetry) < rb.retryWait {
		rb.mu.Unlock()
		return
	}
	rb.lastRetry = time.Now()
	rb.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		rb.logger.Debug().Err(err).Msg("redis still unavailable")
		return
	}

	rb.mu.Lock()
	rb.broken = false
	rb.failCount = 0
	rb.mu.Unlock()

	if rb.pubsub != nil {
		_ = rb.pubsub.Close()
	}
	subCtx, subCancel := context.WithCancel(context.Background())
	prev := rb.cancel
	rb.cancel = func() {
		subCancel()
		prev()
	}
	rb.openSubscription(subCtx)
	rb.logger.Info().Msg("redis reconnected, mirror resumed")
}

// redisChannel namespaces event types on the shared Redis instance.
func redisChannel(eventType events.EventType) string {
	return "heimdall:events:" + string(eventType)
}
