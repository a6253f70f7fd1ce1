// Package cache stores the latest queue snapshot in Redis so dashboard
// reads do not contend with the live queue lock.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/queuedesk-io/queuedesk/internal/queue"
)

const snapshotKey = "queuedesk:queue:snapshot"

// SnapshotStore holds the most recent queue status. A nil store is valid
// and disables caching.
type SnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSnapshotStore wraps a Redis client. TTL bounds staleness when the
// broadcaster stops writing.
func NewSnapshotStore(client *redis.Client, ttl time.Duration) *SnapshotStore {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SnapshotStore{client: client, ttl: ttl}
}

// Put stores the snapshot, replacing the previous one.
func (s *SnapshotStore) Put(ctx context.Context, st queue.Status) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal queue snapshot: %w", err)
	}
	if err := s.client.Set(ctx, snapshotKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store queue snapshot: %w", err)
	}
	return nil
}

// Get returns the latest snapshot and whether one was present.
func (s *SnapshotStore) Get(ctx context.Context) (queue.Status, bool, error) {
	var st queue.Status
	if s == nil {
		return st, false, nil
	}
	data, err := s.client.Get(ctx, snapshotKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return st, false, nil
		}
		return st, false, fmt.Errorf("load queue snapshot: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, false, fmt.Errorf("decode queue snapshot: %w", err)
	}
	return st, true, nil
}
