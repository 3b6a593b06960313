package domain

import (
	"context"
	"time"
)

// RateCache keeps recently fetched fiat rates.
type RateCache interface {
	SetRate(ctx context.Context, fiatCode string, rate float64, ts time.Time) error
	GetRate(ctx context.Context, fiatCode string) (float64, time.Time, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// NodeStatusCache keeps the last observed Lightning node state.
type NodeStatusCache interface {
	SetNodeInfo(ctx context.Context, info NodeInfo) error
	GetNodeInfo(ctx context.Context) (NodeInfo, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides cross-process pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
