package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-multistore-tx/internal/pkg/logger"
)

const internalErrorMessage = "内部サーバーエラー"

// ErrorResponse はエラーレスポンスの統一フォーマット
// Error はエラーの分類、Details は原因となったエラーの内容（4xx のみ）
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// CustomHTTPErrorHandler はカスタムエラーハンドラー
func CustomHTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	resp := toErrorResponse(err)

	// 5xx の原因はログにだけ残す
	if resp.Code >= 500 {
		logger.Error("サーバーエラー",
			zap.Int("status", resp.Code),
			zap.String("path", c.Request().URL.Path),
			zap.Error(err),
		)
	}

	if err := c.JSON(resp.Code, resp); err != nil {
		logger.Error("エラーレスポンス送信失敗", zap.Error(err))
	}
}

func toErrorResponse(err error) ErrorResponse {
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		return ErrorResponse{Error: internalErrorMessage, Code: http.StatusInternalServerError}
	}

	resp := ErrorResponse{Code: he.Code}
	if m, ok := he.Message.(string); ok {
		resp.Error = m
	} else {
		resp.Error = http.StatusText(he.Code)
	}
	if he.Code >= 500 {
		resp.Error = internalErrorMessage
		return resp
	}
	if he.Internal != nil {
		resp.Details = describe(he.Internal)
	}
	return resp
}

// describe はバリデーションエラーをフィールド単位に、それ以外はエラー文字列にする
func describe(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, len(verrs))
		for i, fe := range verrs {
			fields[i] = fe.Namespace() + ": " + fe.Tag()
		}
		return strings.Join(fields, "; ")
	}
	return err.Error()
}
