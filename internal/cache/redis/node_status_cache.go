package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lnp2pbot/escrowd/internal/domain"
	"github.com/redis/go-redis/v9"
)

// nodeInfoTTL lets a stale snapshot disappear if the monitor stops running.
const nodeInfoTTL = 10 * time.Minute

// NodeStatusCache implements domain.NodeStatusCache as a JSON string at
// "node:info".
type NodeStatusCache struct {
	c   *Client
	rdb *redis.Client
}

// NewNodeStatusCache creates a NodeStatusCache backed by the given Client.
func NewNodeStatusCache(c *Client) *NodeStatusCache {
	return &NodeStatusCache{c: c, rdb: c.Underlying()}
}

// SetNodeInfo stores the latest node snapshot.
func (nc *NodeStatusCache) SetNodeInfo(ctx context.Context, info domain.NodeInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("redis: marshal node info: %w", err)
	}
	if err := nc.rdb.Set(ctx, nc.c.Key("node:info"), data, nodeInfoTTL).Err(); err != nil {
		return fmt.Errorf("redis: set node info: %w", err)
	}
	return nil
}

// GetNodeInfo returns the last snapshot or domain.ErrNotFound.
func (nc *NodeStatusCache) GetNodeInfo(ctx context.Context) (domain.NodeInfo, error) {
	data, err := nc.rdb.Get(ctx, nc.c.Key("node:info")).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.NodeInfo{}, domain.ErrNotFound
		}
		return domain.NodeInfo{}, fmt.Errorf("redis: get node info: %w", err)
	}
	var info domain.NodeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.NodeInfo{}, fmt.Errorf("redis: unmarshal node info: %w", err)
	}
	return info, nil
}

var _ domain.NodeStatusCache = (*NodeStatusCache)(nil)
