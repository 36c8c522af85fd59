package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/transaction"
	"github.com/sanosuguru/go-multistore-tx/internal/infrastructure/memory"
	redisinfra "github.com/sanosuguru/go-multistore-tx/internal/infrastructure/redis"
)

// === Mock implementations ===

// MockScopeLocker implements ScopeLocker
type MockScopeLocker struct {
	mock.Mock
}

func (m *MockScopeLocker) Lock(ctx context.Context, storeNames []string) (UnlockFunc, error) {
	args := m.Called(ctx, storeNames)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(UnlockFunc), args.Error(1)
}

// MockCountCache implements CountCache
type MockCountCache struct {
	mock.Mock
}

func (m *MockCountCache) Get(ctx context.Context, storeName string) (int, error) {
	args := m.Called(ctx, storeName)
	return args.Int(0), args.Error(1)
}

func (m *MockCountCache) Set(ctx context.Context, storeName string, count int) error {
	args := m.Called(ctx, storeName, count)
	return args.Error(0)
}

func (m *MockCountCache) Invalidate(ctx context.Context, storeNames ...string) error {
	args := m.Called(ctx, storeNames)
	return args.Error(0)
}

// fakeJournal は Redis を使わない Journal。最外側のコミットでエントリを確定する
type fakeJournal struct {
	depth     int
	pending   []redisinfra.JournalEntry
	flushed   []redisinfra.JournalEntry
	commitErr error
}

func (f *fakeJournal) TransactionID() transaction.ID { return "journal:test" }

func (f *fakeJournal) Begin(ctx context.Context) error {
	f.depth++
	return nil
}

func (f *fakeJournal) Commit(ctx context.Context) error {
	if f.depth == 0 {
		return nil
	}
	f.depth--
	if f.depth == 0 {
		f.flushed = append(f.flushed, f.pending...)
		f.pending = nil
	}
	return f.commitErr
}

func (f *fakeJournal) Rollback(ctx context.Context) error {
	if f.depth > 0 {
		f.depth--
	}
	f.pending = nil
	return nil
}

func (f *fakeJournal) Append(ctx context.Context, e redisinfra.JournalEntry) error {
	f.pending = append(f.pending, e)
	return nil
}

func (f *fakeJournal) Recent(ctx context.Context, limit int64) ([]redisinfra.JournalEntry, error) {
	out := make([]redisinfra.JournalEntry, 0, len(f.flushed))
	for i := len(f.flushed) - 1; i >= 0 && int64(len(out)) < limit; i-- {
		out = append(out, f.flushed[i])
	}
	return out, nil
}

// failingStore は指定した操作で失敗するストア
type failingStore struct {
	*memory.SnapshotStore
	commitErr error
	insertErr error
}

func (f *failingStore) Insert(ctx context.Context, r store.Record) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.SnapshotStore.Insert(ctx, r)
}

func (f *failingStore) Commit(ctx context.Context) error {
	if err := f.SnapshotStore.Commit(ctx); err != nil {
		return err
	}
	return f.commitErr
}

func newMemoryStore(t *testing.T, name string, rows ...store.Record) *memory.SnapshotStore {
	t.Helper()
	s, err := memory.NewSnapshotStore(name, rows)
	require.NoError(t, err)
	return s
}

// newTestRegistry は users と orders のインメモリストアを持つ登録簿を作成する
func newTestRegistry(t *testing.T) (*StoreRegistry, *memory.SnapshotStore, *memory.SnapshotStore) {
	t.Helper()
	users := newMemoryStore(t, "users", store.MustRecord("id", 1, "name", "a"))
	orders := newMemoryStore(t, "orders")
	r := NewStoreRegistry()
	require.NoError(t, r.Register(users))
	require.NoError(t, r.Register(orders))
	return r, users, orders
}
