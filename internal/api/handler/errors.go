package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-multistore-tx/internal/application"
	"github.com/sanosuguru/go-multistore-tx/internal/domain/store"
)

// toHTTPError はサービスのエラーをステータスコード付きのエラーに変換する
// メッセージには分類となる番兵エラーを、原因は Internal に保持する
func toHTTPError(err error) error {
	var (
		code     int
		sentinel error
	)
	switch {
	case errors.Is(err, store.ErrStoreNotFound):
		code, sentinel = http.StatusNotFound, store.ErrStoreNotFound
	case errors.Is(err, store.ErrInvalidRecord):
		code, sentinel = http.StatusBadRequest, store.ErrInvalidRecord
	case errors.Is(err, store.ErrInvalidArgument):
		code, sentinel = http.StatusBadRequest, store.ErrInvalidArgument
	case errors.Is(err, application.ErrStoreBusy):
		code, sentinel = http.StatusConflict, application.ErrStoreBusy
	case errors.Is(err, application.ErrJournalDisabled):
		code, sentinel = http.StatusNotFound, application.ErrJournalDisabled
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)).SetInternal(err)
	}
	return echo.NewHTTPError(code, sentinel.Error()).SetInternal(err)
}
