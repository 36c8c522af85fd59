package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/transaction"
)

// JournalEntry はスコープ内で行われた操作の記録
type JournalEntry struct {
	ScopeID    string    `json:"scope_id"`
	Store      string    `json:"store"`
	Op         string    `json:"op"`
	Affected   int       `json:"affected"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal は操作履歴を Redis のリストへ書き出すトランザクションアダプター
// エントリはメモリ上にステージされ、最外側の Commit でまとめて MULTI/EXEC で書き込まれる
// ネストした Begin はステージ位置のマーカーを積み、Rollback はマーカーまで切り詰める
type Journal struct {
	client    *redis.Client
	name      string
	id        transaction.ID
	maxLength int64
	pending   []JournalEntry
	markers   []int
}

// NewJournal は新しいJournalを作成する
// maxLength が正の場合、リストは直近 maxLength 件に切り詰められる
func NewJournal(client *redis.Client, name string, maxLength int64) (*Journal, error) {
	if err := store.ValidateName(name); err != nil {
		return nil, err
	}
	return &Journal{
		client:    client,
		name:      name,
		id:        transaction.ID("journal:" + name + ":" + uuid.New().String()),
		maxLength: maxLength,
	}, nil
}

func (j *Journal) TransactionID() transaction.ID {
	return j.id
}

// Depth は未解決の Begin の数を返す
func (j *Journal) Depth() int {
	return len(j.markers)
}

// Pending はステージ中のエントリ数を返す
func (j *Journal) Pending() int {
	return len(j.pending)
}

func (j *Journal) Begin(ctx context.Context) error {
	j.markers = append(j.markers, len(j.pending))
	return nil
}

// Commit は最も内側の階層を確定する。最外側ではステージ済みエントリを書き出す
func (j *Journal) Commit(ctx context.Context) error {
	if len(j.markers) == 0 {
		return nil
	}
	j.markers = j.markers[:len(j.markers)-1]
	if len(j.markers) > 0 {
		return nil
	}
	entries := j.pending
	j.pending = nil
	return j.flush(ctx, entries)
}

// Rollback は最も内側の階層でステージしたエントリを破棄する
func (j *Journal) Rollback(ctx context.Context) error {
	if len(j.markers) == 0 {
		return nil
	}
	mark := j.markers[len(j.markers)-1]
	j.markers = j.markers[:len(j.markers)-1]
	j.pending = j.pending[:mark]
	return nil
}

// Append はエントリを記録する
// トランザクション外では即座に書き込み、トランザクション中はステージする
func (j *Journal) Append(ctx context.Context, e JournalEntry) error {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	if len(j.markers) == 0 {
		return j.flush(ctx, []JournalEntry{e})
	}
	j.pending = append(j.pending, e)
	return nil
}

// Recent は新しい順に最大 limit 件のエントリを返す
func (j *Journal) Recent(ctx context.Context, limit int64) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	values, err := j.client.LRange(ctx, j.key(), -limit, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ジャーナル取得に失敗: %w", err)
	}
	entries := make([]JournalEntry, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		var e JournalEntry
		if err := json.Unmarshal([]byte(values[i]), &e); err != nil {
			return nil, fmt.Errorf("ジャーナルのデコードに失敗: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (j *Journal) flush(ctx context.Context, entries []JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	values := make([]interface{}, len(entries))
	for i, e := range entries {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("ジャーナルのエンコードに失敗: %w", err)
		}
		values[i] = b
	}

	key := j.key()
	_, err := j.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, values...)
		if j.maxLength > 0 {
			pipe.LTrim(ctx, key, -j.maxLength, -1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ジャーナル書き込みに失敗: %w", err)
	}
	return nil
}

func (j *Journal) key() string {
	return fmt.Sprintf("journal:%s", j.name)
}

var _ transaction.Adapter = (*Journal)(nil)
