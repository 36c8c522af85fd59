package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/OneOfOne/xxhash"
	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-multistore-tx/internal/application"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
)

type StoreHandler struct {
	service StoreServiceInterface
}

func NewStoreHandler(s StoreServiceInterface) *StoreHandler {
	return &StoreHandler{service: s}
}

type StoreResponse struct {
	Name    string `json:"name" example:"users"`
	Backend string `json:"backend" example:"memory"`
	Depth   int    `json:"depth" example:"0"`
}

type RowsResponse struct {
	Store string         `json:"store" example:"users"`
	Rows  []store.Record `json:"rows"`
}

type FieldsResponse struct {
	Store  string   `json:"store" example:"users"`
	Fields []string `json:"fields" example:"id,name"`
}

type CountResponse struct {
	Store string `json:"store" example:"users"`
	Count int    `json:"count" example:"3"`
}

func toStoreResponse(info application.StoreInfo) StoreResponse {
	return StoreResponse{Name: info.Name, Backend: string(info.Backend), Depth: info.Depth}
}

// List godoc
// @Summary ストア一覧を取得
// @Description 登録済みのストアをバックエンドとチェックポイントの深さ付きで返します
// @Tags stores
// @Produce json
// @Success 200 {array} StoreResponse
// @Router /stores [get]
func (h *StoreHandler) List(c echo.Context) error {
	infos := h.service.Stores()
	resp := make([]StoreResponse, len(infos))
	for i, info := range infos {
		resp[i] = toStoreResponse(info)
	}
	return c.JSON(http.StatusOK, resp)
}

// Rows godoc
// @Summary ストアの全行を取得
// @Tags stores
// @Produce json
// @Param name path string true "ストア名"
// @Param If-None-Match header string false "前回の ETag"
// @Success 200 {object} RowsResponse
// @Success 304
// @Failure 404 {object} map[string]string
// @Router /stores/{name}/rows [get]
func (h *StoreHandler) Rows(c echo.Context) error {
	name := c.Param("name")
	rows, err := h.service.Rows(c.Request().Context(), name)
	if err != nil {
		return toHTTPError(err)
	}
	if rows == nil {
		rows = []store.Record{}
	}

	body, err := json.Marshal(RowsResponse{Store: name, Rows: rows})
	if err != nil {
		return err
	}
	etag := rowsETag(body)
	c.Response().Header().Set("ETag", etag)
	if c.Request().Header.Get("If-None-Match") == etag {
		return c.NoContent(http.StatusNotModified)
	}
	return c.JSONBlob(http.StatusOK, body)
}

// rowsETag はレスポンス本文の xxhash から ETag を作る
func rowsETag(body []byte) string {
	return `"` + strconv.FormatUint(xxhash.Checksum64(body), 16) + `"`
}

// Fields godoc
// @Summary ストアのカラム名を取得
// @Description 先頭行のカラム名を返します。空のストアでは空配列です
// @Tags stores
// @Produce json
// @Param name path string true "ストア名"
// @Success 200 {object} FieldsResponse
// @Failure 404 {object} map[string]string
// @Router /stores/{name}/fields [get]
func (h *StoreHandler) Fields(c echo.Context) error {
	name := c.Param("name")
	fields, err := h.service.FieldNames(c.Request().Context(), name)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, FieldsResponse{Store: name, Fields: fields})
}

// Count godoc
// @Summary ストアの行数を取得
// @Tags stores
// @Produce json
// @Param name path string true "ストア名"
// @Success 200 {object} CountResponse
// @Failure 404 {object} map[string]string
// @Router /stores/{name}/count [get]
func (h *StoreHandler) Count(c echo.Context) error {
	name := c.Param("name")
	n, err := h.service.Count(c.Request().Context(), name)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, CountResponse{Store: name, Count: n})
}
