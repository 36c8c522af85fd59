package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-multistore-tx/internal/application"
	"github.com/sanosuguru/go-multistore-tx/internal/pkg/logger"
	"github.com/sanosuguru/go-multistore-tx/internal/pkg/metrics"
)

// DepthSource はストアごとのチェックポイントの深さを提供するインターフェース
type DepthSource interface {
	CheckpointDepths() []application.StoreInfo
	ActiveScopes() int
}

// CheckpointMonitor はチェックポイントの深さを定期的に収集するワーカー
// スコープ外で深さが残っているストアは Begin に対応する Commit/Rollback が漏れている
type CheckpointMonitor struct {
	source   DepthSource
	metrics  *metrics.Metrics
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  atomic.Bool
	stopOnce sync.Once
}

// NewCheckpointMonitor は新しいモニターを作成
func NewCheckpointMonitor(source DepthSource, m *metrics.Metrics, interval time.Duration) *CheckpointMonitor {
	return &CheckpointMonitor{
		source:   source,
		metrics:  m,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start はモニターを開始し、停止するまでブロックする
// 2回目以降の呼び出しは何もしない
func (m *CheckpointMonitor) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	logger.Info("チェックポイント監視開始", zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	defer close(m.doneCh)

	for {
		select {
		case <-ctx.Done():
			logger.Info("チェックポイント監視停止（コンテキストキャンセル）")
			return
		case <-m.stopCh:
			logger.Info("チェックポイント監視停止（シグナル受信）")
			return
		case <-ticker.C:
			m.check()
		}
	}
}

// Stop はモニターを停止し、Start の終了を待つ
// Start 前や2回目の呼び出しではブロックしない
func (m *CheckpointMonitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if !m.started.Load() {
		return
	}
	<-m.doneCh
}

// check は深さを収集し、未解決のチェックポイントを持つストアの数を返す
func (m *CheckpointMonitor) check() int {
	log := logger.Get()
	infos := m.source.CheckpointDepths()
	active := m.source.ActiveScopes()

	dangling := 0
	for _, info := range infos {
		if m.metrics != nil {
			m.metrics.CheckpointDepth.WithLabelValues(info.Name, string(info.Backend)).Set(float64(info.Depth))
		}
		if info.Depth > 0 && active == 0 {
			dangling++
			log.Warn("スコープ外で未解決のチェックポイントが残っています",
				zap.String("store", info.Name),
				zap.String("backend", string(info.Backend)),
				zap.Int("depth", info.Depth),
			)
		}
	}

	if dangling == 0 {
		log.Debug("未解決のチェックポイントなし", zap.Int("stores", len(infos)))
	}
	return dangling
}
