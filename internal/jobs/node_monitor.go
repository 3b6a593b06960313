package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
)

// NodeMonitor polls the Lightning node and caches its status for the API.
// Admins are warned once each time the node becomes unhealthy.
type NodeMonitor struct {
	gateway domain.Gateway
	cache   domain.NodeStatusCache
	events  domain.EventPublisher
	logger  *slog.Logger
	now     func() time.Time

	unhealthy bool
}

// NewNodeMonitor creates a NodeMonitor. cache may be nil.
func NewNodeMonitor(gateway domain.Gateway, cache domain.NodeStatusCache, events domain.EventPublisher, logger *slog.Logger) *NodeMonitor {
	return &NodeMonitor{
		gateway: gateway,
		cache:   cache,
		events:  events,
		logger:  logger.With(slog.String("component", "node_monitor")),
		now:     time.Now,
	}
}

// Run polls the node once. It never fails: an unreachable node is the
// condition being reported.
func (m *NodeMonitor) Run(ctx context.Context) error {
	info, err := m.gateway.NodeInfo(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "lightning node unreachable", slog.String("error", err.Error()))
		m.setHealthy(ctx, false, "node unreachable")
		return nil
	}
	if info.CheckedAt.IsZero() {
		info.CheckedAt = m.now().UTC()
	}
	if m.cache != nil {
		if err := m.cache.SetNodeInfo(ctx, info); err != nil {
			m.logger.WarnContext(ctx, "node status not cached", slog.String("error", err.Error()))
		}
	}
	if !info.SyncedToChain {
		m.logger.WarnContext(ctx, "lightning node not synced to chain",
			slog.Uint64("block_height", uint64(info.BlockHeight)),
		)
		m.setHealthy(ctx, false, "node not synced to chain")
		return nil
	}
	m.setHealthy(ctx, true, "")
	return nil
}

func (m *NodeMonitor) setHealthy(ctx context.Context, healthy bool, reason string) {
	if healthy {
		if m.unhealthy {
			m.logger.InfoContext(ctx, "lightning node healthy again")
		}
		m.unhealthy = false
		return
	}
	if m.unhealthy {
		return
	}
	m.unhealthy = true
	m.events.Publish(ctx, domain.Event{
		Type: domain.TopicAdminWarning,
		Data: map[string]any{"reason": reason},
	})
}
