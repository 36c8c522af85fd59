package memory

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/transaction"
)

func user(id int, name string) store.Record {
	return store.MustRecord("id", id, "name", name)
}

func newUsers(t *testing.T) *SnapshotStore {
	t.Helper()
	s, err := NewSnapshotStore("users", []store.Record{user(1, "a")})
	require.NoError(t, err)
	return s
}

func TestNewSnapshotStore(t *testing.T) {
	t.Run("正常に作成できる", func(t *testing.T) {
		s := newUsers(t)

		assert.Equal(t, "users", s.Name())
		assert.Equal(t, store.BackendMemory, s.Backend())
		assert.Equal(t, 0, s.Depth())
		assert.True(t, strings.HasPrefix(string(s.TransactionID()), "users:"))
	})

	t.Run("不正な名前はエラーでストアは返らない", func(t *testing.T) {
		s, err := NewSnapshotStore("bad name!", []store.Record{user(1, "a")})

		assert.ErrorIs(t, err, store.ErrInvalidArgument)
		assert.Nil(t, s)
	})

	t.Run("インスタンスごとにIDが異なり呼び出し間で不変", func(t *testing.T) {
		s1 := newUsers(t)
		s2 := newUsers(t)

		assert.NotEqual(t, s1.TransactionID(), s2.TransactionID())
		assert.Equal(t, s1.TransactionID(), s1.TransactionID())
	})

	t.Run("渡したスライスを後から変更しても影響しない", func(t *testing.T) {
		rows := []store.Record{user(1, "a")}
		s, err := NewSnapshotStore("users", rows)
		require.NoError(t, err)

		rows[0] = user(9, "z")

		assert.True(t, s.Data()[0].Equal(user(1, "a")))
	})
}

func TestSnapshotStore_Rollback(t *testing.T) {
	ctx := context.Background()

	t.Run("Begin して変更してロールバックすると元に戻る", func(t *testing.T) {
		s := newUsers(t)

		require.NoError(t, s.Begin(ctx))
		s.SetData([]store.Record{user(1, "a"), user(2, "b")})
		require.NoError(t, s.Rollback(ctx))

		assert.Equal(t, []store.Record{user(1, "a")}, s.Data())
		names, err := s.FieldNames(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"id", "name"}, names)
		assert.Equal(t, 0, s.Depth())
	})

	t.Run("チェックポイントがなければ何もしない", func(t *testing.T) {
		s := newUsers(t)

		require.NoError(t, s.Rollback(ctx))

		assert.Equal(t, []store.Record{user(1, "a")}, s.Data())
		assert.Equal(t, 0, s.Depth())
	})

	t.Run("2回続けてロールバックしても2回目は no-op", func(t *testing.T) {
		s := newUsers(t)

		require.NoError(t, s.Begin(ctx))
		require.NoError(t, s.Insert(ctx, user(2, "b")))
		require.NoError(t, s.Rollback(ctx))
		require.NoError(t, s.Insert(ctx, user(3, "c")))
		require.NoError(t, s.Rollback(ctx))

		assert.Equal(t, []store.Record{user(1, "a"), user(3, "c")}, s.Data())
	})

	t.Run("スナップショットは後続の変更から独立している", func(t *testing.T) {
		s := newUsers(t)

		require.NoError(t, s.Begin(ctx))
		_, err := s.Update(ctx, store.Match{Field: "id", Value: 1}, store.MustRecord("name", "changed"))
		require.NoError(t, err)
		require.NoError(t, s.Rollback(ctx))

		assert.Equal(t, []store.Record{user(1, "a")}, s.Data())
	})

	t.Run("Go の型を持つ値を書き換えてもロールバックで戻る", func(t *testing.T) {
		s, err := NewSnapshotStore("users", []store.Record{
			store.MustRecord("id", 1, "tags", []string{"a"}, "scores", map[string]int{"x": 1}),
		})
		require.NoError(t, err)

		require.NoError(t, s.Begin(ctx))
		data := s.Data()
		tags, _ := data[0].Get("tags")
		tags.([]string)[0] = "z"
		scores, _ := data[0].Get("scores")
		scores.(map[string]int)["x"] = 99
		require.NoError(t, s.Rollback(ctx))

		got, _ := s.Data()[0].Get("tags")
		assert.Equal(t, []string{"a"}, got)
		got, _ = s.Data()[0].Get("scores")
		assert.Equal(t, map[string]int{"x": 1}, got)
	})
}

func TestSnapshotStore_Commit(t *testing.T) {
	ctx := context.Background()

	t.Run("コミットすると変更が残りチェックポイントが消える", func(t *testing.T) {
		s := newUsers(t)

		require.NoError(t, s.Begin(ctx))
		require.NoError(t, s.Insert(ctx, user(2, "b")))
		require.NoError(t, s.Commit(ctx))

		assert.Equal(t, []store.Record{user(1, "a"), user(2, "b")}, s.Data())
		assert.Equal(t, 0, s.Depth())
	})

	t.Run("最終コミット後の不一致なロールバックはコミット済みデータを戻さない", func(t *testing.T) {
		s := newUsers(t)

		require.NoError(t, s.Begin(ctx))
		require.NoError(t, s.Insert(ctx, user(2, "b")))
		require.NoError(t, s.Commit(ctx))
		require.NoError(t, s.Rollback(ctx))

		assert.Equal(t, []store.Record{user(1, "a"), user(2, "b")}, s.Data())
	})

	t.Run("チェックポイントがなければ何もしない", func(t *testing.T) {
		s := newUsers(t)

		require.NoError(t, s.Commit(ctx))

		assert.Equal(t, []store.Record{user(1, "a")}, s.Data())
	})
}

func TestSnapshotStore_Nesting(t *testing.T) {
	ctx := context.Background()

	t.Run("内側のコミット後のロールバックは外側のチェックポイントへ戻る", func(t *testing.T) {
		s := newUsers(t)

		require.NoError(t, s.Begin(ctx))
		require.NoError(t, s.Begin(ctx))
		s.SetData([]store.Record{user(9, "x")})
		require.NoError(t, s.Commit(ctx))
		assert.Equal(t, 1, s.Depth())
		require.NoError(t, s.Rollback(ctx))

		assert.Equal(t, []store.Record{user(1, "a")}, s.Data())
		assert.Equal(t, 0, s.Depth())
	})

	t.Run("外側の Begin 後の変更は外側のチェックポイントに含まれない", func(t *testing.T) {
		s := newUsers(t)

		s.BeginTx()
		require.NoError(t, s.Insert(ctx, user(2, "b")))
		s.BeginTx()
		require.NoError(t, s.Insert(ctx, user(3, "c")))

		s.RollbackTx()
		assert.Equal(t, []store.Record{user(1, "a"), user(2, "b")}, s.Data())

		s.RollbackTx()
		assert.Equal(t, []store.Record{user(1, "a")}, s.Data())
	})

	t.Run("深さは未解決の Begin の数と一致する", func(t *testing.T) {
		s := newUsers(t)

		s.BeginTx().BeginTx().BeginTx()
		assert.Equal(t, 3, s.Depth())

		s.CommitTx().RollbackTx()
		assert.Equal(t, 1, s.Depth())

		s.CommitTx().CommitTx()
		assert.Equal(t, 0, s.Depth())
	})
}

func TestSnapshotStore_FieldNames(t *testing.T) {
	ctx := context.Background()

	t.Run("空のデータは空のリスト", func(t *testing.T) {
		s, err := NewSnapshotStore("empty", nil)
		require.NoError(t, err)

		names, err := s.FieldNames(ctx)

		require.NoError(t, err)
		assert.Empty(t, names)
		assert.NotNil(t, names)
	})

	t.Run("先頭レコードのカラム順で返す", func(t *testing.T) {
		s, err := NewSnapshotStore("orders", []store.Record{
			store.MustRecord("order_id", 1, "amount", 100),
			store.MustRecord("amount", 200, "order_id", 2, "note", "x"),
		})
		require.NoError(t, err)

		names, err := s.FieldNames(ctx)

		require.NoError(t, err)
		assert.Equal(t, []string{"order_id", "amount"}, names)
	})

	t.Run("データが変わるとキャッシュが更新される", func(t *testing.T) {
		s, err := NewSnapshotStore("empty", nil)
		require.NoError(t, err)

		names, _ := s.FieldNames(ctx)
		assert.Empty(t, names)

		require.NoError(t, s.Insert(ctx, user(1, "a")))
		names, _ = s.FieldNames(ctx)
		assert.Equal(t, []string{"id", "name"}, names)
	})

	t.Run("返したスライスを変更してもキャッシュに影響しない", func(t *testing.T) {
		s := newUsers(t)

		names, _ := s.FieldNames(ctx)
		names[0] = "broken"

		names, _ = s.FieldNames(ctx)
		assert.Equal(t, []string{"id", "name"}, names)
	})
}

func TestSnapshotStore_Mutations(t *testing.T) {
	ctx := context.Background()

	t.Run("不正なレコードは挿入できない", func(t *testing.T) {
		s := newUsers(t)

		err := s.Insert(ctx, store.Record{})

		assert.ErrorIs(t, err, store.ErrInvalidRecord)
		assert.Len(t, s.Data(), 1)
	})

	t.Run("条件に一致する行を更新する", func(t *testing.T) {
		s := newUsers(t)
		require.NoError(t, s.Insert(ctx, user(2, "b")))

		n, err := s.Update(ctx, store.Match{Field: "id", Value: float64(2)}, store.MustRecord("name", "B"))

		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, []store.Record{user(1, "a"), user(2, "B")}, s.Data())
	})

	t.Run("条件に一致する行を削除する", func(t *testing.T) {
		s := newUsers(t)
		require.NoError(t, s.Insert(ctx, user(2, "b")))
		require.NoError(t, s.Insert(ctx, user(3, "b")))

		n, err := s.Delete(ctx, store.Match{Field: "name", Value: "b"})

		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []store.Record{user(1, "a")}, s.Data())
	})

	t.Run("Rows は値コピーを返す", func(t *testing.T) {
		s := newUsers(t)

		rows, err := s.Rows(ctx)
		require.NoError(t, err)
		rows[0][1].Value = "mutated"

		assert.Equal(t, []store.Record{user(1, "a")}, s.Data())
	})
}

func TestSnapshotStore_WithCoordinator(t *testing.T) {
	ctx := context.Background()

	t.Run("遅れて参加したストアも同じスコープでロールバックされる", func(t *testing.T) {
		users := newUsers(t)
		orders, err := NewSnapshotStore("orders", nil)
		require.NoError(t, err)

		c := transaction.NewCoordinator(true)
		require.NoError(t, c.Register(ctx, users))
		require.NoError(t, users.Insert(ctx, user(2, "b")))

		require.NoError(t, c.Register(ctx, orders))
		require.NoError(t, c.Register(ctx, users))
		require.NoError(t, orders.Insert(ctx, store.MustRecord("order_id", 1)))

		assert.Equal(t, 1, users.Depth())
		assert.Equal(t, 1, orders.Depth())

		require.NoError(t, c.Rollback(ctx))

		assert.Equal(t, []store.Record{user(1, "a")}, users.Data())
		assert.Empty(t, orders.Data())
		assert.Equal(t, 0, users.Depth())
		assert.Equal(t, 0, orders.Depth())
	})

	t.Run("再オープンしたスコープでコミットできる", func(t *testing.T) {
		users := newUsers(t)

		c := transaction.NewCoordinator(false)
		require.NoError(t, c.Register(ctx, users))
		assert.Equal(t, 0, users.Depth())

		require.NoError(t, c.Begin(ctx))
		require.NoError(t, users.Insert(ctx, user(2, "b")))
		require.NoError(t, c.Commit(ctx))

		assert.Len(t, users.Data(), 2)
		assert.Equal(t, 0, users.Depth())
	})
}
