// Package persistence holds adapters that are not bound to a single database
// engine.
package persistence

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"mongomirror/internal/migration/domain/model"
	"mongomirror/internal/shared/eventbus"
	"mongomirror/internal/shared/logger"
)

// RedisProgressStore publishes per-collection progress snapshots to a Redis
// Stream so external monitors and dashboards can follow a run without
// touching the engine. It subscribes to the in-process event bus and mirrors
// every progress event it sees.
type RedisProgressStore struct {
	client *redis.Client
	stream string
	logger logger.Logger
}

// NewRedisProgressStore creates a Redis-backed progress publisher.
func NewRedisProgressStore(client *redis.Client, stream string, log logger.Logger) *RedisProgressStore {
	return &RedisProgressStore{
		client: client,
		stream: stream,
		logger: log.WithComponent("redis_progress_store"),
	}
}

// Attach subscribes the store to progress events on the bus.
func (r *RedisProgressStore) Attach(bus eventbus.EventBusInterface) {
	bus.Subscribe(eventbus.EventTypeProgress, func(ctx context.Context, event eventbus.Event) error {
		snapshot, ok := event.Data().(model.ProgressSnapshot)
		if !ok {
			return nil
		}
		return r.StoreSnapshot(ctx, snapshot)
	})
}

// StoreSnapshot appends one progress snapshot to the Redis Stream.
func (r *RedisProgressStore) StoreSnapshot(ctx context.Context, snapshot model.ProgressSnapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		r.logger.Error("Failed to serialize progress snapshot", zap.Error(err))
		return err
	}

	_, err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"collection":        snapshot.Collection,
			"progress_pct":      snapshot.ProgressPct,
			"source_count":      snapshot.SourceCount,
			"target_count":      snapshot.TargetCount,
			"updates_applied":   snapshot.UpdatesApplied,
			"deletions_applied": snapshot.DeletionsApplied,
			"state":             string(snapshot.State),
			"last_update":       snapshot.LastUpdate.UnixNano(),
			"snapshot":          payload,
		},
	}).Result()

	if err != nil {
		r.logger.Error("Failed to store progress snapshot in Redis",
			zap.String("stream", r.stream),
			zap.String("collection", snapshot.Collection),
			zap.Error(err))
		return err
	}

	r.logger.Debug("Progress snapshot stored in Redis",
		zap.String("stream", r.stream),
		zap.String("collection", snapshot.Collection))
	return nil
}

// LatestSnapshots reads back up to count recent snapshots, newest first.
// Used by external monitoring collaborators; the engine itself never reads.
func (r *RedisProgressStore) LatestSnapshots(ctx context.Context, count int64) ([]model.ProgressSnapshot, error) {
	entries, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", count).Result()
	if err != nil {
		r.logger.Error("Failed to read progress snapshots from Redis",
			zap.String("stream", r.stream),
			zap.Error(err))
		return nil, err
	}

	snapshots := make([]model.ProgressSnapshot, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry.Values["snapshot"].(string)
		if !ok {
			continue
		}
		var snapshot model.ProgressSnapshot
		if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
			r.logger.Warn("Skipping undecodable progress snapshot", zap.Error(err))
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}
