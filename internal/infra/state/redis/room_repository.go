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

// RedisRoomRepository is the Redis implementation of repository.RoomRepository.
type RedisRoomRepository struct {
	client *redis.Client
	keys   keySpace
	ttl    time.Duration
}

// NewRedisRoomRepository creates a RedisRoomRepository with the room inactivity TTL.
func NewRedisRoomRepository(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisRoomRepository {
	if client == nil {
		panic("redis client cannot be nil for RedisRoomRepository")
	}
	return &RedisRoomRepository{
		client: client,
		keys:   newKeySpace(keyPrefix),
		ttl:    ttl,
	}
}

// FindByID loads the room record.
func (r *RedisRoomRepository) FindByID(ctx context.Context, roomID string) (*domain.Room, error) {
	key := r.keys.room(roomID)
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrRoomNotFound
		}
		return nil, fmt.Errorf("redis: failed to get room %s from %s: %w", roomID, key, err)
	}
	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, fmt.Errorf("redis: failed to unmarshal room %s: %w", roomID, err)
	}
	return &room, nil
}

// Save writes the room and refreshes the TTL of the room and its state key.
func (r *RedisRoomRepository) Save(ctx context.Context, room *domain.Room) error {
	if room == nil || room.ID == "" {
		return fmt.Errorf("redis: cannot save room without id")
	}
	payload, err := json.Marshal(room)
	if err != nil {
		return fmt.Errorf("redis: failed to marshal room %s: %w", room.ID, err)
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.keys.room(room.ID), payload, r.ttl)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.keys.state(room.ID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: failed to save room %s: %w", room.ID, err)
	}
	return nil
}

// Delete removes both keys of a room.
func (r *RedisRoomRepository) Delete(ctx context.Context, roomID string) error {
	if err := r.client.Del(ctx, r.keys.room(roomID), r.keys.state(roomID)).Err(); err != nil {
		return fmt.Errorf("redis: failed to delete room %s: %w", roomID, err)
	}
	return nil
}
