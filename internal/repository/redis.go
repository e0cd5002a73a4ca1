package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"libris/internal/config"
	"libris/internal/domain"
	"libris/internal/models"

	"github.com/redis/go-redis/v9"
)

const (
	sessionKeyFormat   = "assistant_session:%d"
	rateLimitKeyFormat = "assistant_rate:%d"

	maxSessionUpdateAttempts = 5
)

// RedisStateRepository keeps assistant sessions in Redis with a sliding TTL.
type RedisStateRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClient builds a Redis client from configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewRedisStateRepository(client *redis.Client, ttl time.Duration) *RedisStateRepository {
	return &RedisStateRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisStateRepository) GetSession(ctx context.Context, accountID int64) (*models.AssistantSession, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, fmt.Sprintf(sessionKeyFormat, accountID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from redis: %w", err)
	}

	var session models.AssistantSession
	if err := json.Unmarshal([]byte(val), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

func (r *RedisStateRepository) SaveSession(ctx context.Context, session *models.AssistantSession) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := r.client.Set(ctx, fmt.Sprintf(sessionKeyFormat, session.AccountID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session in redis: %w", err)
	}
	return nil
}

// UpdateSession runs fn inside WATCH/MULTI on the session key and retries
// when another client changed the key in between.
func (r *RedisStateRepository) UpdateSession(ctx context.Context, accountID int64, fn func(session *models.AssistantSession) error) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf(sessionKeyFormat, accountID)

	txf := func(tx *redis.Tx) error {
		session := &models.AssistantSession{AccountID: accountID}
		val, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("failed to get session from redis: %w", err)
		default:
			if err := json.Unmarshal(val, session); err != nil {
				return fmt.Errorf("failed to unmarshal session: %w", err)
			}
		}

		if err := fn(session); err != nil {
			return err
		}

		data, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxSessionUpdateAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("update session %d: %w", accountID, domain.ErrConcurrentModification)
}

func (r *RedisStateRepository) ClearSession(ctx context.Context, accountID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, fmt.Sprintf(sessionKeyFormat, accountID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}
	return nil
}

// CheckRateLimit counts calls in a fixed window starting at the first call.
func (r *RedisStateRepository) CheckRateLimit(ctx context.Context, accountID int64, limit int, window time.Duration) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	key := fmt.Sprintf(rateLimitKeyFormat, accountID)
	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	if count == 1 {
		if err := r.client.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	return count <= int64(limit), nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
