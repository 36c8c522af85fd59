package application

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/transaction"
	redisinfra "github.com/sanosuguru/go-multistore-tx/internal/infrastructure/redis"
	"github.com/sanosuguru/go-multistore-tx/internal/pkg/logger"
	"github.com/sanosuguru/go-multistore-tx/internal/pkg/metrics"
)

var (
	ErrJournalDisabled = errors.New("ジャーナルが設定されていません")
	ErrStoreBusy       = errors.New("ストアが他のスコープによって処理中です")
)

// スコープの終了結果
const (
	OutcomeCommitted  = "committed"
	OutcomeRolledBack = "rolled_back"
	OutcomeDryRun     = "dry_run"
	OutcomeLockFailed = "lock_failed"
	OutcomeError      = "error"
)

// Journal はスコープの操作履歴を保存するトランザクションアダプター
type Journal interface {
	transaction.Adapter
	Append(ctx context.Context, e redisinfra.JournalEntry) error
	Recent(ctx context.Context, limit int64) ([]redisinfra.JournalEntry, error)
}

// CountCache はストアの行数キャッシュ
type CountCache interface {
	Get(ctx context.Context, storeName string) (int, error)
	Set(ctx context.Context, storeName string, count int) error
	Invalidate(ctx context.Context, storeNames ...string) error
}

// QueryService はストアへの読み書きをスコープ単位で実行する
// locker, journal, cache, metrics はいずれも nil を許容する
type QueryService struct {
	registry *StoreRegistry
	locker   ScopeLocker
	journal  Journal
	cache    CountCache
	metrics  *metrics.Metrics

	// ストア自身は排他を持たないため、書き込みスコープと読み取りをここで直列化する
	mu     sync.RWMutex
	active atomic.Int32
}

func NewQueryService(registry *StoreRegistry, locker ScopeLocker, journal Journal, cache CountCache, m *metrics.Metrics) *QueryService {
	return &QueryService{
		registry: registry,
		locker:   locker,
		journal:  journal,
		cache:    cache,
		metrics:  m,
	}
}

// RunInScope は storeNames を排他した上で fn を一つのスコープとして実行する
// fn が成功すればコミット、エラーまたは panic ならロールバックする
func (s *QueryService) RunInScope(ctx context.Context, storeNames []string, fn func(ctx context.Context, sc *Scope) error) (err error) {
	names := uniqueSorted(storeNames)
	for _, name := range names {
		if _, err := s.registry.Lookup(name); err != nil {
			return err
		}
	}

	if s.locker != nil && len(names) > 0 {
		unlock, err := s.locker.Lock(ctx, names)
		if err != nil {
			s.observeOutcome(OutcomeLockFailed)
			if errors.Is(err, redisinfra.ErrLockNotAcquired) {
				return fmt.Errorf("%w: %v", ErrStoreBusy, err)
			}
			return fmt.Errorf("ロック取得に失敗: %w", err)
		}
		defer func() {
			if uerr := unlock(context.WithoutCancel(ctx)); uerr != nil {
				logger.Warn("ロック解放に失敗", zap.Strings("stores", names), zap.Error(uerr))
			}
		}()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.active.Add(1)
	defer s.active.Add(-1)

	sc := newScope(s.registry)
	log := logger.With(zap.String("scope_id", sc.ID()))

	defer func() {
		if r := recover(); r != nil {
			if rerr := s.finish(ctx, sc, transaction.OpRollback); rerr != nil {
				log.Error("panic 後のロールバックに失敗", zap.Error(rerr))
			}
			s.observeOutcome(OutcomeRolledBack)
			panic(r)
		}
	}()

	if ferr := fn(ctx, sc); ferr != nil {
		if rerr := s.finish(ctx, sc, transaction.OpRollback); rerr != nil {
			log.Error("ロールバックに失敗", zap.Error(rerr))
			ferr = errors.Join(ferr, rerr)
		}
		s.observeOutcome(OutcomeRolledBack)
		log.Info("スコープをロールバック", zap.Strings("stores", sc.Touched()), zap.Error(ferr))
		return ferr
	}

	if sc.rollbackOnly {
		if rerr := s.finish(ctx, sc, transaction.OpRollback); rerr != nil {
			s.observeOutcome(OutcomeError)
			return rerr
		}
		s.observeOutcome(OutcomeDryRun)
		log.Info("ドライランのためロールバック", zap.Strings("stores", sc.Touched()))
		return nil
	}

	if jerr := s.stageJournal(ctx, sc); jerr != nil {
		if rerr := s.finish(ctx, sc, transaction.OpRollback); rerr != nil {
			jerr = errors.Join(jerr, rerr)
		}
		s.observeOutcome(OutcomeError)
		return jerr
	}

	if cerr := s.finish(ctx, sc, transaction.OpCommit); cerr != nil {
		s.observeOutcome(OutcomeError)
		log.Error("コミットに失敗", zap.Strings("stores", sc.Touched()), zap.Error(cerr))
		s.invalidateCounts(ctx, sc.Touched())
		return cerr
	}

	s.observeOutcome(OutcomeCommitted)
	s.invalidateCounts(ctx, sc.Touched())
	log.Info("スコープをコミット",
		zap.Strings("stores", sc.Touched()),
		zap.Int("adapters", sc.coordinator.Len()),
	)
	return nil
}

// stageJournal はジャーナルを最後に参加させ、記録済みの操作をステージする
// 最後に登録されるため、コミットはデータストアの後に行われる
func (s *QueryService) stageJournal(ctx context.Context, sc *Scope) error {
	if s.journal == nil || len(sc.entries) == 0 {
		return nil
	}
	if err := sc.coordinator.Register(ctx, s.journal); err != nil {
		return err
	}
	for _, e := range sc.entries {
		if err := s.journal.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *QueryService) finish(ctx context.Context, sc *Scope, op transaction.Op) error {
	if s.metrics != nil {
		s.metrics.ScopeAdapters.Observe(float64(sc.coordinator.Len()))
	}
	start := time.Now()
	var err error
	if op == transaction.OpCommit {
		err = sc.coordinator.Commit(ctx)
	} else {
		err = sc.coordinator.Rollback(ctx)
	}
	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "failed"
		}
		s.metrics.FanOutDuration.WithLabelValues(string(op), status).Observe(time.Since(start).Seconds())
	}
	return err
}

func (s *QueryService) observeOutcome(outcome string) {
	if s.metrics != nil {
		s.metrics.ScopesTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *QueryService) invalidateCounts(ctx context.Context, names []string) {
	if s.cache == nil || len(names) == 0 {
		return
	}
	if err := s.cache.Invalidate(ctx, names...); err != nil {
		logger.Warn("キャッシュ無効化エラー", zap.Strings("stores", names), zap.Error(err))
	}
}

// Rows はストアの全レコードを返す
func (s *QueryService) Rows(ctx context.Context, name string) ([]store.Record, error) {
	st, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return st.Rows(ctx)
}

// FieldNames はストアのカラム名を返す
func (s *QueryService) FieldNames(ctx context.Context, name string) ([]string, error) {
	st, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return st.FieldNames(ctx)
}

// Count はストアの行数を返す
func (s *QueryService) Count(ctx context.Context, name string) (int, error) {
	st, err := s.registry.Lookup(name)
	if err != nil {
		return 0, err
	}

	// キャッシュから取得を試みる
	if s.cache != nil {
		count, err := s.cache.Get(ctx, name)
		if err == nil {
			logger.Debug("キャッシュヒット", zap.String("store", name), zap.Int("count", count))
			return count, nil
		}
		if !errors.Is(err, redisinfra.ErrCacheMiss) {
			logger.Warn("キャッシュ取得エラー", zap.Error(err))
		}
	}

	// 保存までロックを保持し、コミット後の無効化より前に古い件数が書かれるようにする
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := st.Rows(ctx)
	if err != nil {
		return 0, err
	}
	count := len(rows)

	if s.cache != nil {
		if cacheErr := s.cache.Set(ctx, name, count); cacheErr != nil {
			logger.Warn("キャッシュ保存エラー", zap.Error(cacheErr))
		}
	}
	return count, nil
}

// StoreInfo はストアの概要
type StoreInfo struct {
	Name    string
	Backend store.Backend
	Depth   int
}

// Stores は登録順にストアの概要を返す
func (s *QueryService) Stores() []StoreInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.registry.All()
	out := make([]StoreInfo, len(all))
	for i, st := range all {
		out[i] = StoreInfo{Name: st.Name(), Backend: st.Backend(), Depth: depthOf(st)}
	}
	return out
}

// CheckpointDepths はストアごとの未解決チェックポイント数を返す
func (s *QueryService) CheckpointDepths() []StoreInfo {
	return s.Stores()
}

// ActiveScopes は実行中のスコープ数を返す
func (s *QueryService) ActiveScopes() int {
	return int(s.active.Load())
}

// RecentJournal はジャーナルの新しいエントリを返す
func (s *QueryService) RecentJournal(ctx context.Context, limit int64) ([]redisinfra.JournalEntry, error) {
	if s.journal == nil {
		return nil, ErrJournalDisabled
	}
	return s.journal.Recent(ctx, limit)
}

func depthOf(st store.Store) int {
	if d, ok := st.(store.DepthReporter); ok {
		return d.Depth()
	}
	return 0
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
