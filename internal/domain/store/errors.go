package store

import "errors"

// Store ドメインのエラー定義
var (
	ErrInvalidArgument = errors.New("不正な引数です")
	ErrInvalidRecord   = errors.New("不正なレコードです")
	ErrStoreNotFound   = errors.New("ストアが見つかりません")
)
