package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insert(storeName string, record map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"op": "insert", "store": storeName, "record": record}
}

func update(storeName, field string, value interface{}, set map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"op": "update", "store": storeName,
		"match": map[string]interface{}{"field": field, "value": value},
		"set":   set,
	}
}

func remove(storeName, field string, value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"op": "delete", "store": storeName,
		"match": map[string]interface{}{"field": field, "value": value},
	}
}

func selectAll(storeName string) map[string]interface{} {
	return map[string]interface{}{"op": "select", "store": storeName}
}

func rowsOf(t *testing.T, s *TestServer, storeName string) []map[string]interface{} {
	t.Helper()
	rec := s.Request("GET", fmt.Sprintf("/api/v1/stores/%s/rows", storeName), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Rows []map[string]interface{} `json:"rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Rows
}

// TestE2E_HealthCheck はヘルスチェックをテスト
func TestE2E_HealthCheck(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	rec := server.Request("GET", "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

// TestE2E_MultiStoreJourney は複数ストアをまたぐ一連の操作をテスト
func TestE2E_MultiStoreJourney(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	t.Run("ストア一覧", func(t *testing.T) {
		rec := server.Request("GET", "/api/v1/stores", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[
			{"name":"users","backend":"memory","depth":0},
			{"name":"orders","backend":"memory","depth":0}
		]`, rec.Body.String())
	})

	t.Run("空のストアのカラム名は空", func(t *testing.T) {
		rec := server.Request("GET", "/api/v1/stores/users/fields", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"store":"users","fields":[]}`, rec.Body.String())
	})

	t.Run("ユーザーと注文を同時に作成", func(t *testing.T) {
		rec := server.Execute(false,
			insert("users", map[string]interface{}{"id": 1, "name": "yamada"}),
			insert("orders", map[string]interface{}{"id": 100, "user_id": 1, "amount": 5000}),
		)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["committed"])
		assert.NotEmpty(t, resp["scope_id"])

		assert.Len(t, rowsOf(t, server, "users"), 1)
		assert.Len(t, rowsOf(t, server, "orders"), 1)
	})

	t.Run("カラム名は先頭行のキー順", func(t *testing.T) {
		rec := server.Request("GET", "/api/v1/stores/orders/fields", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"store":"orders","fields":["id","user_id","amount"]}`, rec.Body.String())
	})

	t.Run("途中で失敗すると両方のストアが元に戻る", func(t *testing.T) {
		rec := server.Execute(false,
			insert("users", map[string]interface{}{"id": 2, "name": "suzuki"}),
			update("orders", "id", 100, map[string]interface{}{"amount": 0}),
			insert("missing", map[string]interface{}{"id": 1}),
		)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		assert.Len(t, rowsOf(t, server, "users"), 1)
		orders := rowsOf(t, server, "orders")
		require.Len(t, orders, 1)
		assert.Equal(t, float64(5000), orders[0]["amount"])
	})

	t.Run("ドライランは結果を返すが変更を残さない", func(t *testing.T) {
		rec := server.Execute(true,
			remove("orders", "user_id", 1),
			selectAll("orders"),
		)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		var resp struct {
			Committed bool `json:"committed"`
			Results   []struct {
				Affected int `json:"affected"`
			} `json:"results"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Committed)
		assert.Equal(t, 1, resp.Results[0].Affected)
		assert.Equal(t, 0, resp.Results[1].Affected)

		assert.Len(t, rowsOf(t, server, "orders"), 1)
	})

	t.Run("更新と削除", func(t *testing.T) {
		rec := server.Execute(false,
			update("users", "id", 1, map[string]interface{}{"name": "YAMADA", "vip": true}),
			remove("orders", "id", 100),
		)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		users := rowsOf(t, server, "users")
		require.Len(t, users, 1)
		assert.Equal(t, "YAMADA", users[0]["name"])
		assert.Equal(t, true, users[0]["vip"])
		assert.Empty(t, rowsOf(t, server, "orders"))

		rec = server.Request("GET", "/api/v1/stores/orders/count", nil)
		assert.JSONEq(t, `{"store":"orders","count":0}`, rec.Body.String())
	})

	t.Run("スコープ終了後はチェックポイントが残らない", func(t *testing.T) {
		assert.Equal(t, 0, server.Users.Depth())
		assert.Equal(t, 0, server.Orders.Depth())
	})
}

// TestE2E_InvalidRequests は不正なリクエストをテスト
func TestE2E_InvalidRequests(t *testing.T) {
	server := newTestServer(t, serverOptions{})

	tests := []struct {
		name string
		body interface{}
		code int
	}{
		{"操作なし", map[string]interface{}{"operations": []interface{}{}}, http.StatusBadRequest},
		{"未知の操作", map[string]interface{}{"operations": []interface{}{map[string]interface{}{"op": "merge", "store": "users"}}}, http.StatusBadRequest},
		{"空のレコード", map[string]interface{}{"operations": []interface{}{insert("users", map[string]interface{}{})}}, http.StatusBadRequest},
		{"不正なストア名", map[string]interface{}{"operations": []interface{}{selectAll("bad name")}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := server.Request("POST", "/api/v1/transactions", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}

	assert.Empty(t, rowsOf(t, server, "users"))
}

// TestE2E_PostgresAndMemory はネイティブトランザクションを持つストアとインメモリストアの組み合わせをテスト
func TestE2E_PostgresAndMemory(t *testing.T) {
	server := newTestServer(t, serverOptions{postgres: true})

	t.Run("両方にコミットされる", func(t *testing.T) {
		rec := server.Execute(false,
			insert(server.Ledger, map[string]interface{}{"id": 1, "amount": 100}),
			insert("users", map[string]interface{}{"id": 1}),
		)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Len(t, rowsOf(t, server, server.Ledger), 1)
		assert.Len(t, rowsOf(t, server, "users"), 1)
	})

	t.Run("失敗すると PostgreSQL 側もロールバックされる", func(t *testing.T) {
		rec := server.Execute(false,
			insert(server.Ledger, map[string]interface{}{"id": 2, "amount": 200}),
			insert("users", map[string]interface{}{"id": 2}),
			insert("missing", map[string]interface{}{"id": 1}),
		)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		assert.Len(t, rowsOf(t, server, server.Ledger), 1)
		assert.Len(t, rowsOf(t, server, "users"), 1)
	})

	t.Run("ドライランは PostgreSQL にも残らない", func(t *testing.T) {
		rec := server.Execute(true, remove(server.Ledger, "id", 1))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		assert.Len(t, rowsOf(t, server, server.Ledger), 1)
	})
}

// TestE2E_Journal はコミットされた操作がジャーナルに残ることをテスト
func TestE2E_Journal(t *testing.T) {
	server := newTestServer(t, serverOptions{redis: true})

	rec := server.Execute(false,
		insert("users", map[string]interface{}{"id": 1}),
		insert("orders", map[string]interface{}{"id": 10}),
	)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = server.Execute(true, insert("users", map[string]interface{}{"id": 2}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = server.Request("GET", "/api/v1/journal?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var entries []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, "orders", entries[0]["store"])
	assert.Equal(t, "users", entries[1]["store"])
	assert.Equal(t, entries[0]["scope_id"], entries[1]["scope_id"])

	rec = server.Request("GET", "/api/v1/stores/users/count", nil)
	assert.JSONEq(t, `{"store":"users","count":1}`, rec.Body.String())
}
