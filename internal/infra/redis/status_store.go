package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/vietddude/faultline/internal/resilience/breaker"
)

const statusKeyPrefix = "faultline:breakers:"

// Key helpers
func statusKey(instance string) string {
	return statusKeyPrefix + instance
}

// InstanceStatus is the set of breaker snapshots published by one instance.
type InstanceStatus struct {
	Instance string           `json:"instance"`
	Breakers []breaker.Status `json:"breakers"`
}

// PublishStatus stores st under the instance hash and refreshes its TTL.
func (c *Client) PublishStatus(ctx context.Context, instance string, st breaker.Status) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal breaker status: %w", err)
	}

	key := statusKey(instance)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, st.Name, data)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish breaker status: %w", err)
	}
	return nil
}

// InstanceStatuses returns the snapshots published by one instance, sorted by name.
func (c *Client) InstanceStatuses(ctx context.Context, instance string) ([]breaker.Status, error) {
	fields, err := c.rdb.HGetAll(ctx, statusKey(instance)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall failed: %w", err)
	}

	out := make([]breaker.Status, 0, len(fields))
	for name, raw := range fields {
		var st breaker.Status
		if err := json.Unmarshal([]byte(raw), &st); err != nil {
			return nil, fmt.Errorf("invalid status for %s: %w", name, err)
		}
		out = append(out, st)
	}
	slices.SortFunc(out, func(a, b breaker.Status) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// ClusterStatuses returns the snapshots of every live instance, sorted by instance.
func (c *Client) ClusterStatuses(ctx context.Context) ([]InstanceStatus, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, statusKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	slices.Sort(keys)

	out := make([]InstanceStatus, 0, len(keys))
	for _, key := range keys {
		instance := strings.TrimPrefix(key, statusKeyPrefix)
		list, err := c.InstanceStatuses(ctx, instance)
		if err != nil {
			return nil, err
		}
		if len(list) == 0 {
			continue
		}
		out = append(out, InstanceStatus{Instance: instance, Breakers: list})
	}
	return out, nil
}

// ClearInstance removes an instance's published snapshots.
func (c *Client) ClearInstance(ctx context.Context, instance string) error {
	if err := c.rdb.Del(ctx, statusKey(instance)).Err(); err != nil {
		return fmt.Errorf("del failed: %w", err)
	}
	return nil
}
