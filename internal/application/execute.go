package application

import (
	"context"
	"fmt"

	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
)

// 実行できる操作
const (
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpSelect = "select"
)

// Operation はスコープ内で実行する一つの操作
type Operation struct {
	Op     string
	Store  string
	Record store.Record
	Match  store.Match
	Set    store.Record
}

func (o Operation) validate() error {
	if err := store.ValidateName(o.Store); err != nil {
		return err
	}
	switch o.Op {
	case OpInsert:
		return o.Record.Validate()
	case OpUpdate:
		return o.Set.Validate()
	case OpDelete, OpSelect:
		return nil
	default:
		return fmt.Errorf("%w: 未知の操作 %q", store.ErrInvalidArgument, o.Op)
	}
}

type ExecuteInput struct {
	Operations []Operation
	DryRun     bool
}

// OperationResult は操作ごとの結果。Rows は select のときだけ設定される
type OperationResult struct {
	Op       string
	Store    string
	Affected int
	Rows     []store.Record
}

type ExecuteResult struct {
	ScopeID   string
	Committed bool
	DryRun    bool
	Results   []OperationResult
}

// Execute は操作列を一つのスコープで原子的に実行する
// いずれかが失敗すると全ストアがロールバックされる。DryRun では常にロールバックする
func (s *QueryService) Execute(ctx context.Context, input ExecuteInput) (*ExecuteResult, error) {
	if len(input.Operations) == 0 {
		return nil, fmt.Errorf("%w: 操作が空です", store.ErrInvalidArgument)
	}
	names := make([]string, 0, len(input.Operations))
	for i, op := range input.Operations {
		if err := op.validate(); err != nil {
			return nil, fmt.Errorf("操作 %d: %w", i, err)
		}
		names = append(names, op.Store)
	}

	result := &ExecuteResult{DryRun: input.DryRun}
	err := s.RunInScope(ctx, names, func(ctx context.Context, sc *Scope) error {
		result.ScopeID = sc.ID()
		for i, op := range input.Operations {
			res, err := runOperation(ctx, sc, op)
			if err != nil {
				return fmt.Errorf("操作 %d (%s %s): %w", i, op.Op, op.Store, err)
			}
			result.Results = append(result.Results, res)
		}
		if input.DryRun {
			sc.RollbackOnly()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.Committed = !input.DryRun
	return result, nil
}

func runOperation(ctx context.Context, sc *Scope, op Operation) (OperationResult, error) {
	res := OperationResult{Op: op.Op, Store: op.Store}
	st, err := sc.Use(ctx, op.Store)
	if err != nil {
		return res, err
	}

	switch op.Op {
	case OpInsert:
		if err := st.Insert(ctx, op.Record); err != nil {
			return res, err
		}
		res.Affected = 1
	case OpUpdate:
		n, err := st.Update(ctx, op.Match, op.Set)
		if err != nil {
			return res, err
		}
		res.Affected = n
	case OpDelete:
		n, err := st.Delete(ctx, op.Match)
		if err != nil {
			return res, err
		}
		res.Affected = n
	case OpSelect:
		rows, err := st.Rows(ctx)
		if err != nil {
			return res, err
		}
		for _, r := range rows {
			if op.Match.Matches(r) {
				res.Rows = append(res.Rows, r)
			}
		}
		res.Affected = len(res.Rows)
		if res.Rows == nil {
			res.Rows = []store.Record{}
		}
	}

	if op.Op != OpSelect {
		sc.Record(op.Store, op.Op, res.Affected)
	}
	return res, nil
}
