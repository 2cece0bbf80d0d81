package redisstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"multiplayer-life/internal/domain"
	"multiplayer-life/internal/repository"
)

// RedisStateRepository is the Redis implementation of repository.StateRepository.
// The state lives in one JSON string key per room; compare-and-swap uses WATCH/MULTI.
type RedisStateRepository struct {
	client *redis.Client
	keys   keySpace
	ttl    time.Duration
}

// NewRedisStateRepository creates a RedisStateRepository. ttl applies to both the
// state key and the room key on every write.
func NewRedisStateRepository(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStateRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisStateRepository")
	}
	return &RedisStateRepository{
		client: client,
		keys:   newKeySpace(keyPrefix),
		ttl:    ttl,
	}
}

// GetGameState reads the state key of a room.
func (r *RedisStateRepository) GetGameState(ctx context.Context, roomID string) (*domain.GameState, error) {
	key := r.keys.state(roomID)
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrGameStateNotFound
		}
		return nil, fmt.Errorf("redis: failed to get game state for room %s from %s: %w", roomID, key, err)
	}
	return decodeState(roomID, raw)
}

// CompareAndSwapGameState implements the optimistic write: the key is watched, the
// stored version compared, and the new value committed in a MULTI block that also
// refreshes the room TTL. Any interleaved write aborts the transaction.
func (r *RedisStateRepository) CompareAndSwapGameState(ctx context.Context, roomID string, expectedVersion uint64, next domain.GameState) (*domain.GameState, error) {
	stateKey := r.keys.state(roomID)
	roomKey := r.keys.room(roomID)

	var written domain.GameState
	txFn := func(tx *redis.Tx) error {
		var current uint64
		raw, err := tx.Get(ctx, stateKey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			current = 0
		case err != nil:
			return fmt.Errorf("redis: failed to read game state for room %s: %w", roomID, err)
		default:
			stored, decodeErr := decodeState(roomID, raw)
			if decodeErr != nil {
				return decodeErr
			}
			current = stored.Version
		}
		if current != expectedVersion {
			return repository.ErrConflict
		}

		written = next
		written.Version = expectedVersion + 1
		payload, err := json.Marshal(written)
		if err != nil {
			return fmt.Errorf("redis: failed to marshal game state for room %s: %w", roomID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, stateKey, payload, r.ttl)
			if r.ttl > 0 {
				pipe.Expire(ctx, roomKey, r.ttl)
			}
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txFn, stateKey)
	if err != nil {
		if errors.Is(err, redis.TxFailedErr) || errors.Is(err, repository.ErrConflict) {
			return nil, repository.ErrConflict
		}
		return nil, fmt.Errorf("redis: compare-and-swap failed for room %s on %s: %w", roomID, stateKey, err)
	}
	return &written, nil
}

func decodeState(roomID string, raw []byte) (*domain.GameState, error) {
	var state domain.GameState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal game state for room %s: %w", roomID, err)
	}
	return &state, nil
}
