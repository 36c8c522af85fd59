package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
)

// Field はレコードの1カラム
type Field struct {
	Name  string
	Value any
}

// Record は順序付きカラムの集合を表す
// JSON ではキー順を保持したオブジェクトとして表現される
type Record []Field

// NewRecord は name, value の組からレコードを作成する
// 例: NewRecord("id", 1, "name", "a")
func NewRecord(pairs ...any) (Record, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("%w: name と value の組が揃っていません", ErrInvalidRecord)
	}
	r := make(Record, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: カラム名が不正です: %v", ErrInvalidRecord, pairs[i])
		}
		r = r.Set(name, pairs[i+1])
	}
	return r, nil
}

// MustRecord は NewRecord のパニック版（テスト・初期データ用）
func MustRecord(pairs ...any) Record {
	r, err := NewRecord(pairs...)
	if err != nil {
		panic(err)
	}
	return r
}

// Names はカラム名を順序通りに返す
func (r Record) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// Get はカラム値を返す
func (r Record) Get(name string) (any, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Set はカラム値を設定した新しいレコードを返す。既存カラムは位置を保ったまま上書きする
func (r Record) Set(name string, value any) Record {
	out := r.Clone()
	for i := range out {
		if out[i].Name == name {
			out[i].Value = cloneValue(value)
			return out
		}
	}
	return append(out, Field{Name: name, Value: cloneValue(value)})
}

// Merge は other のカラムで上書きした新しいレコードを返す
func (r Record) Merge(other Record) Record {
	out := r.Clone()
	for _, f := range other {
		out = out.Set(f.Name, f.Value)
	}
	return out
}

// Clone はレコードの値コピーを返す。ネストしたマップやスライスも複製する
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for i, f := range r {
		out[i] = Field{Name: f.Name, Value: cloneValue(f.Value)}
	}
	return out
}

// Equal は2つのレコードがカラム順も含めて等しいかを返す
func (r Record) Equal(other Record) bool {
	if len(r) != len(other) {
		return false
	}
	for i := range r {
		if r[i].Name != other[i].Name || !valuesEqual(r[i].Value, other[i].Value) {
			return false
		}
	}
	return true
}

// Validate はレコードの検証を行う
func (r Record) Validate() error {
	if len(r) == 0 {
		return fmt.Errorf("%w: カラムがありません", ErrInvalidRecord)
	}
	seen := make(map[string]struct{}, len(r))
	for _, f := range r {
		if f.Name == "" {
			return fmt.Errorf("%w: 空のカラム名", ErrInvalidRecord)
		}
		if _, ok := seen[f.Name]; ok {
			return fmt.Errorf("%w: カラム %q が重複しています", ErrInvalidRecord, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// MarshalJSON はキー順を保持したJSONオブジェクトを出力する
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON はJSONオブジェクトをキー順を保持して読み込む
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*r = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("%w: JSONオブジェクトが必要です", ErrInvalidRecord)
	}
	out := Record{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: 不正なキー %v", ErrInvalidRecord, tok)
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		out = append(out, Field{Name: name, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

// Match はカラム値の等価条件
type Match struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Matches はレコードが条件を満たすかを返す
// ゼロ値の Match はすべてのレコードにマッチする
func (m Match) Matches(r Record) bool {
	if m.Field == "" {
		return true
	}
	v, ok := r.Get(m.Field)
	if !ok {
		return false
	}
	return valuesEqual(v, m.Value)
}

// cloneValue は値の所有権を持つコピーを返す
// JSON 由来の型は高速に、それ以外のスライス・マップ・ポインタ・配列・構造体は reflect で再帰的に複製する
// 循環参照を持つ値は扱わない
func cloneValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = cloneValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = cloneValue(vv)
		}
		return out
	case Record:
		return t.Clone()
	case string, bool, float64, int, int64, json.Number:
		return v
	}
	return cloneReflect(reflect.ValueOf(v)).Interface()
}

func cloneReflect(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneReflect(v.Elem()))
		return out
	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneReflect(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	case reflect.Array:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneReflect(v.Index(i)))
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return v
		}
		out := reflect.MakeMapWithSize(v.Type(), v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), cloneReflect(iter.Value()))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		out.Set(v)
		for i := 0; i < v.NumField(); i++ {
			// 非公開フィールドは値コピーのまま
			if out.Field(i).CanSet() {
				out.Field(i).Set(cloneReflect(v.Field(i)))
			}
		}
		return out
	default:
		return v
	}
}

// valuesEqual は数値型の違い（JSON の float64 と int など）を吸収して比較する
func valuesEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if reflect.TypeOf(a).Comparable() && reflect.TypeOf(b).Comparable() {
		return a == b
	}
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, !math.IsNaN(n)
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
