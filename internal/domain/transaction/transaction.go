package transaction

import (
	"context"
	"fmt"
)

// ID はアダプターインスタンスを識別する不透明な文字列
// コーディネーター内での重複排除キーとしてのみ使用し、順序の意味は持たない
type ID string

// Adapter はコーディネートされたトランザクションに参加するバックエンドの最小インターフェース
// ドメイン層が個々のストレージ実装（sqlx, Redis, インメモリ）に依存しないようにするための抽象化
type Adapter interface {
	// TransactionID はインスタンスごとに不変のIDを返す
	TransactionID() ID
	// Begin はチェックポイントを1段積む（ネスト可能）
	Begin(ctx context.Context) error
	// Commit は最新のチェックポイントを畳み込む。チェックポイントがなければ何もしない
	Commit(ctx context.Context) error
	// Rollback は最新のチェックポイントへ戻して畳み込む。チェックポイントがなければ何もしない
	Rollback(ctx context.Context) error
}

// Op はファンアウトされる操作の種類
type Op string

const (
	OpBegin    Op = "begin"
	OpCommit   Op = "commit"
	OpRollback Op = "rollback"
)

// OperationError はファンアウト中に個々のアダプターが返したエラー
type OperationError struct {
	Op  Op
	ID  ID
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("アダプター %s の %s に失敗: %v", e.ID, e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
