package handler

import (
	"context"

	"github.com/sanosuguru/go-multistore-tx/internal/application"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
	redisinfra "github.com/sanosuguru/go-multistore-tx/internal/infrastructure/redis"
)

// StoreServiceInterface はストア参照のインターフェース
type StoreServiceInterface interface {
	Stores() []application.StoreInfo
	Rows(ctx context.Context, name string) ([]store.Record, error)
	FieldNames(ctx context.Context, name string) ([]string, error)
	Count(ctx context.Context, name string) (int, error)
}

// TransactionServiceInterface はスコープ実行のインターフェース
type TransactionServiceInterface interface {
	Execute(ctx context.Context, input application.ExecuteInput) (*application.ExecuteResult, error)
}

// JournalServiceInterface はジャーナル参照のインターフェース
type JournalServiceInterface interface {
	RecentJournal(ctx context.Context, limit int64) ([]redisinfra.JournalEntry, error)
}
