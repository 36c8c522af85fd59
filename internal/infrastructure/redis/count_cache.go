package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrCacheMiss = errors.New("キャッシュが見つかりません")
)

// CountCache はストアごとの行数をキャッシュする
type CountCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCountCache は新しいCountCacheインスタンスを作成する
func NewCountCache(client *redis.Client, ttl time.Duration) *CountCache {
	return &CountCache{client: client, ttl: ttl}
}

// Get はストアの行数をキャッシュから取得する
func (c *CountCache) Get(ctx context.Context, storeName string) (int, error) {
	val, err := c.client.Get(ctx, c.countKey(storeName)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, ErrCacheMiss
		}
		return 0, fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}
	return val, nil
}

// Set はストアの行数をキャッシュに保存する
func (c *CountCache) Set(ctx context.Context, storeName string, count int) error {
	if err := c.client.Set(ctx, c.countKey(storeName), count, c.ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
	return nil
}

// Invalidate は複数ストアのキャッシュをまとめて無効化する
func (c *CountCache) Invalidate(ctx context.Context, storeNames ...string) error {
	if len(storeNames) == 0 {
		return nil
	}
	keys := make([]string, len(storeNames))
	for i, n := range storeNames {
		keys[i] = c.countKey(n)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
	}
	return nil
}

func (c *CountCache) countKey(storeName string) string {
	return fmt.Sprintf("stores:count:%s", storeName)
}
