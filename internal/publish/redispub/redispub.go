// Package redispub broadcasts analytics results on a Redis pub/sub channel.
package redispub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/mains-analytics/internal/analytics"
	"github.com/mohammed-shakir/mains-analytics/internal/core/observability"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

// Publisher sends each result as JSON with PUBLISH. Nothing is stored in Redis.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

var _ analytics.Publisher = (*Publisher)(nil)

func New(ctx context.Context, addr, channel string, opts ...Option) (*Publisher, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if channel == "" {
		return nil, errors.New("redis channel is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     8,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveUpstreamLatency("redis", time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Publisher{rdb: rdb, channel: channel}, nil
}

func (p *Publisher) Channel() string { return p.channel }

func (p *Publisher) Publish(ctx context.Context, r analytics.Result) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	start := time.Now()
	err = p.rdb.Publish(ctx, p.channel, b).Err()
	observability.ObserveUpstreamLatency("redis", time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis PUBLISH %q: %w", p.channel, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if err := p.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
