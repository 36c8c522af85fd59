package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/transaction"
)

// recordRow はDBの行を表す構造体
type recordRow struct {
	Position int64  `db:"position"`
	Data     []byte `db:"data"`
}

// toRecord はrecordRowをRecordに変換する
func (r *recordRow) toRecord() (store.Record, error) {
	var rec store.Record
	if err := json.Unmarshal(r.Data, &rec); err != nil {
		return nil, fmt.Errorf("レコードのデコードに失敗 (position=%d): %w", r.Position, err)
	}
	return rec, nil
}

// RecordStore は store_records テーブル上の名前付き行集合
// ネイティブトランザクションを持つバックエンドとして、ネストはセーブポイントで表現する
type RecordStore struct {
	name string
	id   transaction.ID
	tx   *nestedTx
}

// NewRecordStore はRecordStoreを作成する
func NewRecordStore(db *sqlx.DB, name string) (*RecordStore, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	return &RecordStore{
		name: name,
		id:   transaction.ID("pg:" + name + ":" + uuid.New().String()),
		tx:   newNestedTx(db),
	}, nil
}

func (s *RecordStore) TransactionID() transaction.ID {
	return s.id
}

func (s *RecordStore) Name() string {
	return s.name
}

func (s *RecordStore) Backend() store.Backend {
	return store.BackendPostgres
}

// Depth は未解決の Begin の数を返す
func (s *RecordStore) Depth() int {
	return s.tx.depth
}

func (s *RecordStore) Begin(ctx context.Context) error {
	return s.tx.begin(ctx)
}

func (s *RecordStore) Commit(ctx context.Context) error {
	return s.tx.commit(ctx)
}

func (s *RecordStore) Rollback(ctx context.Context) error {
	return s.tx.rollback(ctx)
}

// Rows は全レコードを挿入順に返す
func (s *RecordStore) Rows(ctx context.Context) ([]store.Record, error) {
	rows, err := s.selectRows(ctx, s.tx.queryer())
	if err != nil {
		return nil, err
	}
	out := make([]store.Record, len(rows))
	for i, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

// FieldNames は先頭レコードのカラム名を返す
func (s *RecordStore) FieldNames(ctx context.Context) ([]string, error) {
	query := `SELECT position, data FROM store_records WHERE store = $1 ORDER BY position LIMIT 1`
	var row recordRow
	if err := sqlx.GetContext(ctx, s.tx.queryer(), &row, query, s.name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("カラム名取得に失敗: %w", err)
	}
	rec, err := row.toRecord()
	if err != nil {
		return nil, err
	}
	return rec.Names(), nil
}

func (s *RecordStore) Insert(ctx context.Context, r store.Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("レコードのエンコードに失敗: %w", err)
	}
	return s.tx.within(ctx, func(ext sqlx.ExtContext) error {
		query := `INSERT INTO store_records (store, data) VALUES ($1, $2)`
		if _, err := ext.ExecContext(ctx, query, s.name, data); err != nil {
			return fmt.Errorf("レコード挿入に失敗: %w", err)
		}
		return nil
	})
}

// Update は条件に一致するレコードへ set をマージする
// 比較の意味をインメモリ実装と揃えるため、照合はアプリケーション側で行う
func (s *RecordStore) Update(ctx context.Context, m store.Match, set store.Record) (int, error) {
	if err := set.Validate(); err != nil {
		return 0, err
	}
	count := 0
	err := s.tx.within(ctx, func(ext sqlx.ExtContext) error {
		rows, err := s.selectRows(ctx, ext)
		if err != nil {
			return err
		}
		query := `UPDATE store_records SET data = $1, updated_at = NOW() WHERE position = $2`
		for _, row := range rows {
			rec, err := row.toRecord()
			if err != nil {
				return err
			}
			if !m.Matches(rec) {
				continue
			}
			data, err := json.Marshal(rec.Merge(set))
			if err != nil {
				return fmt.Errorf("レコードのエンコードに失敗: %w", err)
			}
			if _, err := ext.ExecContext(ctx, query, data, row.Position); err != nil {
				return fmt.Errorf("レコード更新に失敗: %w", err)
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *RecordStore) Delete(ctx context.Context, m store.Match) (int, error) {
	var positions []int64
	err := s.tx.within(ctx, func(ext sqlx.ExtContext) error {
		rows, err := s.selectRows(ctx, ext)
		if err != nil {
			return err
		}
		for _, row := range rows {
			rec, err := row.toRecord()
			if err != nil {
				return err
			}
			if m.Matches(rec) {
				positions = append(positions, row.Position)
			}
		}
		if len(positions) == 0 {
			return nil
		}
		query := `DELETE FROM store_records WHERE position = ANY($1)`
		if _, err := ext.ExecContext(ctx, query, pq.Array(positions)); err != nil {
			return fmt.Errorf("レコード削除に失敗: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(positions), nil
}

// Truncate はストアの全レコードを削除する（テスト・初期化用）
func (s *RecordStore) Truncate(ctx context.Context) error {
	return s.tx.within(ctx, func(ext sqlx.ExtContext) error {
		if _, err := ext.ExecContext(ctx, `DELETE FROM store_records WHERE store = $1`, s.name); err != nil {
			return fmt.Errorf("ストアの初期化に失敗: %w", err)
		}
		return nil
	})
}

func (s *RecordStore) selectRows(ctx context.Context, q sqlx.QueryerContext) ([]recordRow, error) {
	query := `SELECT position, data FROM store_records WHERE store = $1 ORDER BY position`
	var rows []recordRow
	if err := sqlx.SelectContext(ctx, q, &rows, query, s.name); err != nil {
		return nil, fmt.Errorf("レコード取得に失敗: %w", err)
	}
	return rows, nil
}

var _ store.Store = (*RecordStore)(nil)
var _ store.DepthReporter = (*RecordStore)(nil)
