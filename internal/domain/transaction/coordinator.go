package transaction

import "context"

// Coordinator は1つの論理トランザクションを複数のアダプターへファンアウトする
// 実行中に見つかったアダプターを遅延登録でき、オープン中に参加したアダプターは
// その場で Begin されて現在の深さに追いつく
//
// 内部ロックは持たない。同一スコープ内での呼び出しの直列化は呼び出し側の責務
type Coordinator struct {
	open     bool
	order    []ID
	adapters map[ID]Adapter
}

// NewCoordinator は新しいコーディネーターを作成する
// open=true の場合は「トランザクション中」として開始する
func NewCoordinator(open bool) *Coordinator {
	return &Coordinator{
		open:     open,
		adapters: make(map[ID]Adapter),
	}
}

// IsOpen はトランザクションが開いているかを返す
func (c *Coordinator) IsOpen() bool {
	return c.open
}

// Len は登録済みアダプター数を返す
func (c *Coordinator) Len() int {
	return len(c.order)
}

// Adapters は登録順のアダプター一覧を返す
func (c *Coordinator) Adapters() []Adapter {
	out := make([]Adapter, len(c.order))
	for i, id := range c.order {
		out[i] = c.adapters[id]
	}
	return out
}

// Register はアダプターを登録する
// 既知のIDなら何もしない。未知のIDでオープン中なら直ちに Begin を呼ぶ
// Begin が失敗してもアダプターは登録されたまま残る
func (c *Coordinator) Register(ctx context.Context, a Adapter) error {
	id := a.TransactionID()
	if _, ok := c.adapters[id]; ok {
		return nil
	}
	c.adapters[id] = a
	c.order = append(c.order, id)

	if !c.open {
		return nil
	}
	if err := a.Begin(ctx); err != nil {
		return &OperationError{Op: OpBegin, ID: id, Err: err}
	}
	return nil
}

// Begin は閉じている場合のみ全アダプターへ Begin を配る
// 既に開いている場合は何もしない（各アダプターのネストを深くしない）
func (c *Coordinator) Begin(ctx context.Context) error {
	if c.open {
		return nil
	}
	err := c.fanOut(ctx, OpBegin)
	c.open = true
	return err
}

// Commit は開いている場合のみ全アダプターへ Commit を配る
func (c *Coordinator) Commit(ctx context.Context) error {
	if !c.open {
		return nil
	}
	err := c.fanOut(ctx, OpCommit)
	c.open = false
	return err
}

// Rollback は開いている場合のみ全アダプターへ Rollback を配る
func (c *Coordinator) Rollback(ctx context.Context) error {
	if !c.open {
		return nil
	}
	err := c.fanOut(ctx, OpRollback)
	c.open = false
	return err
}

// fanOut は登録順に全アダプターへ操作を配り、最初の失敗を返す
// 失敗後も残りのアダプターには操作を配る（補償処理はしない）
func (c *Coordinator) fanOut(ctx context.Context, op Op) error {
	var first error
	for _, id := range c.order {
		a := c.adapters[id]
		var err error
		switch op {
		case OpBegin:
			err = a.Begin(ctx)
		case OpCommit:
			err = a.Commit(ctx)
		case OpRollback:
			err = a.Rollback(ctx)
		}
		if err != nil && first == nil {
			first = &OperationError{Op: op, ID: id, Err: err}
		}
	}
	return first
}
