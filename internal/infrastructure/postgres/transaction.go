package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// nestedTx は sqlx.Tx の上にセーブポイントでネストしたトランザクションを表現する
// 深さ 0→1 で BEGIN、それ以降の Begin は SAVEPOINT sp_N を発行する
type nestedTx struct {
	db    *sqlx.DB
	tx    *sqlx.Tx
	depth int
}

func newNestedTx(db *sqlx.DB) *nestedTx {
	return &nestedTx{db: db}
}

// savepointName は深さ depth で作成されるセーブポイント名を返す
func savepointName(depth int) string {
	return fmt.Sprintf("sp_%d", depth)
}

func (n *nestedTx) begin(ctx context.Context) error {
	if n.depth == 0 {
		tx, err := n.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("トランザクション開始に失敗: %w", err)
		}
		n.tx = tx
		n.depth = 1
		return nil
	}
	if _, err := n.tx.ExecContext(ctx, "SAVEPOINT "+savepointName(n.depth)); err != nil {
		return fmt.Errorf("セーブポイント作成に失敗: %w", err)
	}
	n.depth++
	return nil
}

// commit は最も内側の階層を確定する。深さ 0 では何もしない
func (n *nestedTx) commit(ctx context.Context) error {
	switch {
	case n.depth == 0:
		return nil
	case n.depth == 1:
		tx := n.tx
		n.tx = nil
		n.depth = 0
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("コミットに失敗: %w", err)
		}
		return nil
	default:
		n.depth--
		if _, err := n.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+savepointName(n.depth)); err != nil {
			return fmt.Errorf("セーブポイント解放に失敗: %w", err)
		}
		return nil
	}
}

// rollback は最も内側の階層を取り消す。深さ 0 では何もしない
func (n *nestedTx) rollback(ctx context.Context) error {
	switch {
	case n.depth == 0:
		return nil
	case n.depth == 1:
		tx := n.tx
		n.tx = nil
		n.depth = 0
		if err := tx.Rollback(); err != nil {
			return fmt.Errorf("ロールバックに失敗: %w", err)
		}
		return nil
	default:
		n.depth--
		sp := savepointName(n.depth)
		if _, err := n.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); err != nil {
			return fmt.Errorf("セーブポイントへのロールバックに失敗: %w", err)
		}
		if _, err := n.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
			return fmt.Errorf("セーブポイント解放に失敗: %w", err)
		}
		return nil
	}
}

// within は開いているトランザクション内で fn を実行する
// トランザクションが開いていない場合は一時的なトランザクションで包む
func (n *nestedTx) within(ctx context.Context, fn func(ext sqlx.ExtContext) error) error {
	if n.tx != nil {
		return fn(n.tx)
	}
	tx, err := n.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// queryer は読み取りに使う接続を返す。トランザクション中はその中で読む
func (n *nestedTx) queryer() sqlx.QueryerContext {
	if n.tx != nil {
		return n.tx
	}
	return n.db
}
