package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	runSnapshotKeyPattern  = "run:snapshot:%s"
	runSnapshotScanPattern = "run:snapshot:*"
	defaultSnapshotTTL     = 24 * time.Hour
)

// RedisStorage persists run snapshots in Redis.
type RedisStorage struct {
	client *redis.Client
	log    *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStorage initializes a Redis-backed Storage. A non-positive ttl uses one day.
func NewRedisStorage(client *redis.Client, ttl time.Duration, log *slog.Logger) *RedisStorage {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}

	return &RedisStorage{
		client: client,
		log:    log,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns the stored snapshot or ErrSnapshotNotFound when absent.
func (s *RedisStorage) Get(ctx context.Context, runID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, redisSnapshotKey(runID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSnapshotNotFound
		}

		s.log.Error("failed to get snapshot from redis", "run_id", runID, "error", err)
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
		s.log.Error("failed to decode snapshot", "run_id", runID, "error", err)
		return nil, err
	}

	return &snapshot, nil
}

// Save stores the snapshot with the configured TTL.
func (s *RedisStorage) Save(ctx context.Context, snapshot *Snapshot) error {
	snapshot.UpdatedAt = s.now().UTC()

	data, err := json.Marshal(snapshot)
	if err != nil {
		s.log.Error("failed to encode snapshot", "run_id", snapshot.RunID, "error", err)
		return err
	}

	if err := s.client.Set(ctx, redisSnapshotKey(snapshot.RunID), data, s.ttl).Err(); err != nil {
		s.log.Error("failed to save snapshot in redis", "run_id", snapshot.RunID, "error", err)
		return err
	}

	return nil
}

// Delete removes the stored snapshot.
func (s *RedisStorage) Delete(ctx context.Context, runID string) error {
	if err := s.client.Del(ctx, redisSnapshotKey(runID)).Err(); err != nil {
		s.log.Error("failed to delete snapshot", "run_id", runID, "error", err)
		return err
	}

	return nil
}

// List retrieves every stored snapshot by scanning Redis keys.
func (s *RedisStorage) List(ctx context.Context) ([]*Snapshot, error) {
	var (
		cursor uint64
		result []*Snapshot
	)

	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, runSnapshotScanPattern, 100).Result()
		if err != nil {
			s.log.Error("failed to scan snapshots", "error", err)
			return nil, err
		}

		for _, key := range keys {
			data, err := s.client.Get(ctx, key).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}

				s.log.Error("failed to fetch snapshot", "key", key, "error", err)
				return nil, err
			}

			var snapshot Snapshot
			if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
				s.log.Error("failed to decode snapshot", "key", key, "error", err)
				continue
			}

			copied := snapshot
			result = append(result, &copied)
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return result, nil
}

func redisSnapshotKey(runID string) string {
	return fmt.Sprintf(runSnapshotKeyPattern, runID)
}
