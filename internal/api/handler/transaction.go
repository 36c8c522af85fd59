package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-multistore-tx/internal/application"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
)

type TransactionHandler struct {
	service TransactionServiceInterface
}

func NewTransactionHandler(s TransactionServiceInterface) *TransactionHandler {
	return &TransactionHandler{service: s}
}

type OperationRequest struct {
	Op     string       `json:"op" validate:"required,oneof=insert update delete select" example:"insert"`
	Store  string       `json:"store" validate:"required" example:"users"`
	Record store.Record `json:"record,omitempty"`
	Match  *store.Match `json:"match,omitempty"`
	Set    store.Record `json:"set,omitempty"`
}

type ExecuteRequest struct {
	Operations []OperationRequest `json:"operations" validate:"required,min=1,max=100,dive"`
	DryRun     bool               `json:"dry_run"`
}

type OperationResultResponse struct {
	Op       string         `json:"op" example:"insert"`
	Store    string         `json:"store" example:"users"`
	Affected int            `json:"affected" example:"1"`
	Rows     []store.Record `json:"rows,omitempty"`
}

type ExecuteResponse struct {
	ScopeID   string                    `json:"scope_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Committed bool                      `json:"committed"`
	DryRun    bool                      `json:"dry_run"`
	Results   []OperationResultResponse `json:"results"`
}

func (r OperationRequest) toOperation() application.Operation {
	op := application.Operation{Op: r.Op, Store: r.Store, Record: r.Record, Set: r.Set}
	if r.Match != nil {
		op.Match = *r.Match
	}
	return op
}

func toExecuteResponse(res *application.ExecuteResult) ExecuteResponse {
	results := make([]OperationResultResponse, len(res.Results))
	for i, r := range res.Results {
		results[i] = OperationResultResponse{Op: r.Op, Store: r.Store, Affected: r.Affected, Rows: r.Rows}
	}
	return ExecuteResponse{
		ScopeID: res.ScopeID, Committed: res.Committed,
		DryRun: res.DryRun, Results: results,
	}
}

// Execute godoc
// @Summary 操作列をひとつのトランザクションで実行
// @Description 複数ストアへの操作を原子的に実行します。いずれかが失敗すると全て取り消されます
// @Tags transactions
// @Accept json
// @Produce json
// @Param request body ExecuteRequest true "操作列"
// @Success 200 {object} ExecuteResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string "ストアが存在しない"
// @Failure 409 {object} map[string]string "ストアが処理中"
// @Router /transactions [post]
func (h *TransactionHandler) Execute(c echo.Context) error {
	var req ExecuteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "無効なリクエスト").SetInternal(err)
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ops := make([]application.Operation, len(req.Operations))
	for i, o := range req.Operations {
		ops[i] = o.toOperation()
	}
	res, err := h.service.Execute(c.Request().Context(), application.ExecuteInput{
		Operations: ops, DryRun: req.DryRun,
	})
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, toExecuteResponse(res))
}
