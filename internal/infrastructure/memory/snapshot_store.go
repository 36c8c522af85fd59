package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/transaction"
)

// snapshot はBegin時点の行データの値コピー
// previous を辿るとより外側のチェックポイントになる単方向スタック
type snapshot struct {
	data     []store.Record
	previous *snapshot
}

// SnapshotStore はネイティブなトランザクション機構を持たないインメモリの行集合
// Begin ごとに行データを値コピーしてスタックへ積み、Commit/Rollback で1段ずつ畳み込む
//
// 内部ロックは持たない。並行アクセスの直列化は呼び出し側（クエリ層）の責務
type SnapshotStore struct {
	name       string
	id         transaction.ID
	data       []store.Record
	previous   *snapshot
	depth      int
	fieldNames []string
}

// NewSnapshotStore は新しい SnapshotStore を作成する
// name が英数字・'-'・'_' 以外を含む場合は store.ErrInvalidArgument を返す
func NewSnapshotStore(name string, data []store.Record) (*SnapshotStore, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	return &SnapshotStore{
		name: name,
		id:   transaction.ID(name + ":" + uuid.New().String()),
		data: cloneRows(data),
	}, nil
}

func (s *SnapshotStore) TransactionID() transaction.ID {
	return s.id
}

func (s *SnapshotStore) Name() string {
	return s.name
}

func (s *SnapshotStore) Backend() store.Backend {
	return store.BackendMemory
}

// Depth は未解決の Begin の数を返す
func (s *SnapshotStore) Depth() int {
	return s.depth
}

// Begin は現在の行データを値コピーしてチェックポイントを積む
func (s *SnapshotStore) Begin(ctx context.Context) error {
	s.BeginTx()
	return nil
}

// Commit は最新のチェックポイントを破棄する。現在の行データはそのまま残る
func (s *SnapshotStore) Commit(ctx context.Context) error {
	s.CommitTx()
	return nil
}

// Rollback は最新のチェックポイントの行データを復元してから破棄する
func (s *SnapshotStore) Rollback(ctx context.Context) error {
	s.RollbackTx()
	return nil
}

// BeginTx は Begin のチェーン版
func (s *SnapshotStore) BeginTx() *SnapshotStore {
	s.previous = &snapshot{
		data:     cloneRows(s.data),
		previous: s.previous,
	}
	s.depth++
	return s
}

// CommitTx は Commit のチェーン版
func (s *SnapshotStore) CommitTx() *SnapshotStore {
	if s.previous == nil {
		return s
	}
	s.pop()
	return s
}

// RollbackTx は Rollback のチェーン版
func (s *SnapshotStore) RollbackTx() *SnapshotStore {
	if s.previous == nil {
		return s
	}
	s.setData(cloneRows(s.previous.data))
	s.pop()
	return s
}

// pop はチェックポイントを1段外側へ畳み込む
// 最外側（深さ1）ではスタックを空にし、コミット済みのストアに古いチェックポイントを残さない
func (s *SnapshotStore) pop() {
	s.previous = s.previous.previous
	s.depth--
}

// Data は現在の行データの値コピーを返す
func (s *SnapshotStore) Data() []store.Record {
	return cloneRows(s.data)
}

// SetData は行データを置き換える
func (s *SnapshotStore) SetData(data []store.Record) {
	s.setData(cloneRows(data))
}

// Rows は全レコードを返す
func (s *SnapshotStore) Rows(ctx context.Context) ([]store.Record, error) {
	return s.Data(), nil
}

// FieldNames は先頭レコードのカラム名を返す。結果は行データが変わるまでキャッシュする
func (s *SnapshotStore) FieldNames(ctx context.Context) ([]string, error) {
	if s.fieldNames == nil {
		if len(s.data) == 0 {
			s.fieldNames = []string{}
		} else {
			s.fieldNames = s.data[0].Names()
		}
	}
	out := make([]string, len(s.fieldNames))
	copy(out, s.fieldNames)
	return out, nil
}

func (s *SnapshotStore) Insert(ctx context.Context, r store.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.setData(append(s.data, r.Clone()))
	return nil
}

func (s *SnapshotStore) Update(ctx context.Context, m store.Match, set store.Record) (int, error) {
	if err := set.Validate(); err != nil {
		return 0, err
	}
	rows := make([]store.Record, len(s.data))
	count := 0
	for i, r := range s.data {
		if m.Matches(r) {
			rows[i] = r.Merge(set)
			count++
			continue
		}
		rows[i] = r
	}
	if count > 0 {
		s.setData(rows)
	}
	return count, nil
}

func (s *SnapshotStore) Delete(ctx context.Context, m store.Match) (int, error) {
	rows := make([]store.Record, 0, len(s.data))
	for _, r := range s.data {
		if !m.Matches(r) {
			rows = append(rows, r)
		}
	}
	count := len(s.data) - len(rows)
	if count > 0 {
		s.setData(rows)
	}
	return count, nil
}

// setData は行データを差し替えてカラム名キャッシュを破棄する
// 呼び出し側は所有権を持つスライスを渡すこと
func (s *SnapshotStore) setData(rows []store.Record) {
	s.data = rows
	s.fieldNames = nil
}

func cloneRows(rows []store.Record) []store.Record {
	out := make([]store.Record, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

var _ store.Store = (*SnapshotStore)(nil)
var _ store.DepthReporter = (*SnapshotStore)(nil)
