package syncsvc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStateStore backs State with github.com/redis/go-redis/v9 so
// last_sync_at/in_flight survive process restarts and are shared across
// replicas (§4.6 implementation note).
type RedisStateStore struct {
	client *redis.Client
	// inFlightTTL bounds how long an in_flight marker survives if the
	// background refresh that set it crashes without clearing it.
	inFlightTTL time.Duration
}

// NewRedisStateStore returns a StateStore backed by client.
func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, inFlightTTL: 2 * time.Minute}
}

func lastSyncKey(userID int64) string { return fmt.Sprintf("sync:%d:last_sync_at", userID) }
func inFlightKey(userID int64) string { return fmt.Sprintf("sync:%d:in_flight", userID) }

func (r *RedisStateStore) Get(ctx context.Context, userID int64) (State, error) {
	lastRaw, err := r.client.Get(ctx, lastSyncKey(userID)).Result()
	if err != nil && err != redis.Nil {
		return State{}, fmt.Errorf("syncsvc: redis get last_sync_at: %w", err)
	}
	var last time.Time
	if lastRaw != "" {
		nanos, convErr := strconv.ParseInt(lastRaw, 10, 64)
		if convErr == nil {
			last = time.Unix(0, nanos).UTC()
		}
	}
	inFlight, err := r.client.Exists(ctx, inFlightKey(userID)).Result()
	if err != nil {
		return State{}, fmt.Errorf("syncsvc: redis exists in_flight: %w", err)
	}
	return State{LastSyncAt: last, InFlight: inFlight > 0}, nil
}

func (r *RedisStateStore) SetLastSyncAt(ctx context.Context, userID int64, at time.Time) error {
	if err := r.client.Set(ctx, lastSyncKey(userID), strconv.FormatInt(at.UnixNano(), 10), 0).Err(); err != nil {
		return fmt.Errorf("syncsvc: redis set last_sync_at: %w", err)
	}
	return nil
}

func (r *RedisStateStore) TrySetInFlight(ctx context.Context, userID int64) (bool, error) {
	ok, err := r.client.SetNX(ctx, inFlightKey(userID), "1", r.inFlightTTL).Result()
	if err != nil {
		return false, fmt.Errorf("syncsvc: redis setnx in_flight: %w", err)
	}
	return ok, nil
}

func (r *RedisStateStore) ClearInFlight(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, inFlightKey(userID)).Err(); err != nil {
		return fmt.Errorf("syncsvc: redis del in_flight: %w", err)
	}
	return nil
}
