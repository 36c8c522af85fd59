package store

import (
	"context"
	"fmt"
	"regexp"

	"github.com/sanosuguru/go-multistore-tx/internal/domain/transaction"
)

// Backend はストアの実装種別
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName はストア名が英数字・ハイフン・アンダースコアのみで構成されているかを検証する
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: ストア名 %q には英数字, '-', '_' のみ使用できます", ErrInvalidArgument, name)
	}
	return nil
}

// Store はクエリ層から読み書きされる名前付きの行集合
// トランザクションへの参加は transaction.Adapter を通して行う
type Store interface {
	transaction.Adapter

	Name() string
	Backend() Backend

	// Rows は全レコードを挿入順に返す
	Rows(ctx context.Context) ([]Record, error)
	// FieldNames は先頭レコードのカラム名を返す。空の場合は空スライス
	FieldNames(ctx context.Context) ([]string, error)
	// Insert はレコードを末尾に追加する
	Insert(ctx context.Context, r Record) error
	// Update は条件に一致するレコードへ set をマージし、更新件数を返す
	Update(ctx context.Context, m Match, set Record) (int, error)
	// Delete は条件に一致するレコードを削除し、削除件数を返す
	Delete(ctx context.Context, m Match) (int, error)
}

// DepthReporter はチェックポイントの深さを公開するストア
type DepthReporter interface {
	Depth() int
}
