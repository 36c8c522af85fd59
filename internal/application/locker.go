package application

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-multistore-tx/internal/config"
	redisinfra "github.com/sanosuguru/go-multistore-tx/internal/infrastructure/redis"
	"github.com/sanosuguru/go-multistore-tx/internal/pkg/logger"
	"github.com/sanosuguru/go-multistore-tx/internal/pkg/metrics"
)

// UnlockFunc は取得したロックを解放する
type UnlockFunc func(ctx context.Context) error

// ScopeLocker はスコープが触れるストアを排他する
type ScopeLocker interface {
	Lock(ctx context.Context, storeNames []string) (UnlockFunc, error)
}

// RedisScopeLocker は Redis の分散ロックでストア集合を排他する
type RedisScopeLocker struct {
	manager *redisinfra.LockManager
	cfg     config.LockConfig
	metrics *metrics.Metrics
}

func NewRedisScopeLocker(manager *redisinfra.LockManager, cfg config.LockConfig, m *metrics.Metrics) *RedisScopeLocker {
	return &RedisScopeLocker{manager: manager, cfg: cfg, metrics: m}
}

// Lock はストアごとのロックをソート順に取得する
// 途中で失敗した場合は取得済みのロックを逆順に解放する
func (l *RedisScopeLocker) Lock(ctx context.Context, storeNames []string) (UnlockFunc, error) {
	keys := redisinfra.StoreLockKeys(storeNames)
	locks := make([]*redisinfra.DistributedLock, 0, len(keys))

	start := time.Now()
	for _, key := range keys {
		lock, err := l.manager.AcquireLockWithRetry(ctx, key, l.cfg.TTL, l.cfg.MaxRetries, l.cfg.RetryDelay)
		if err != nil {
			l.observe("acquire", start, err)
			if rerr := l.release(context.WithoutCancel(ctx), locks); rerr != nil {
				logger.Warn("取得済みロックの解放に失敗しました", zap.Error(rerr))
			}
			return nil, err
		}
		locks = append(locks, lock)
	}
	l.observe("acquire", start, nil)

	return func(ctx context.Context) error {
		start := time.Now()
		err := l.release(ctx, locks)
		l.observe("release", start, err)
		return err
	}, nil
}

func (l *RedisScopeLocker) release(ctx context.Context, locks []*redisinfra.DistributedLock) error {
	var errs []error
	for i := len(locks) - 1; i >= 0; i-- {
		err := locks[i].Release(ctx)
		if errors.Is(err, redisinfra.ErrLockNotOwned) {
			// TTL 切れで他のスコープに渡っている
			logger.Warn("ロックの有効期限が切れていました", zap.String("key", locks[i].Key()))
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *RedisScopeLocker) observe(operation string, start time.Time, err error) {
	if l.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	l.metrics.DistributedLockDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

var _ ScopeLocker = (*RedisScopeLocker)(nil)
