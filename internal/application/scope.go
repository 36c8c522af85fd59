package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/transaction"
	redisinfra "github.com/sanosuguru/go-multistore-tx/internal/infrastructure/redis"
)

// Scope は一つのコーディネーターにまとめられた作業単位
// Use で初めて触れたストアはその場でトランザクションに参加する
type Scope struct {
	id           string
	coordinator  *transaction.Coordinator
	registry     *StoreRegistry
	touched      []string
	entries      []redisinfra.JournalEntry
	rollbackOnly bool
}

func newScope(registry *StoreRegistry) *Scope {
	return &Scope{
		id:          uuid.New().String(),
		coordinator: transaction.NewCoordinator(true),
		registry:    registry,
	}
}

func (s *Scope) ID() string {
	return s.id
}

// Use はストアを解決し、スコープのトランザクションに参加させる
func (s *Scope) Use(ctx context.Context, name string) (store.Store, error) {
	st, err := s.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	before := s.coordinator.Len()
	if err := s.coordinator.Register(ctx, st); err != nil {
		return nil, err
	}
	if s.coordinator.Len() > before {
		s.touched = append(s.touched, name)
	}
	return st, nil
}

// Record は操作をジャーナル用に記録する
func (s *Scope) Record(storeName, op string, affected int) {
	s.entries = append(s.entries, redisinfra.JournalEntry{
		ScopeID:    s.id,
		Store:      storeName,
		Op:         op,
		Affected:   affected,
		RecordedAt: time.Now(),
	})
}

// RollbackOnly はスコープ終了時に必ずロールバックさせる
func (s *Scope) RollbackOnly() {
	s.rollbackOnly = true
}

// Touched はスコープに参加したストア名を参加順に返す
func (s *Scope) Touched() []string {
	out := make([]string, len(s.touched))
	copy(out, s.touched)
	return out
}
