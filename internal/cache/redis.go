package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Medard-prog/web-whisperer-sub001/internal/logger"
)

// ConnectRedis opens a client and checks the server answers.
func ConnectRedis(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	logger.Infof("Connected to Redis at %s (db %d)", addr, db)
	return rdb, nil
}

func DisconnectRedis(client *redis.Client) error {
	if client == nil {
		return nil
	}
	if err := client.Close(); err != nil {
		return fmt.Errorf("failed to close Redis connection: %w", err)
	}
	logger.Infof("Redis connection closed")
	return nil
}

// GetJSON and SetJSON back the short-lived read cache of the REST handlers.
func GetJSON(ctx context.Context, rdb *redis.Client, key string) ([]byte, bool) {
	if rdb == nil {
		return nil, false
	}
	data, err := rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.Warnf("Cache read of %s failed: %v", key, err)
		}
		return nil, false
	}
	return data, true
}

func SetJSON(ctx context.Context, rdb *redis.Client, key string, data []byte, ttl time.Duration) {
	if rdb == nil || ttl <= 0 {
		return
	}
	if err := rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		logger.Warnf("Cache write of %s failed: %v", key, err)
	}
}

// Invalidate drops cached entries, e.g. after a write to the record.
func Invalidate(ctx context.Context, rdb *redis.Client, keys ...string) {
	if rdb == nil || len(keys) == 0 {
		return
	}
	if err := rdb.Del(ctx, keys...).Err(); err != nil {
		logger.Warnf("Cache invalidation failed: %v", err)
	}
}
