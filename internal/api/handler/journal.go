package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	redisinfra "github.com/sanosuguru/go-multistore-tx/internal/infrastructure/redis"
)

const (
	defaultJournalLimit = 20
	maxJournalLimit     = 1000
)

type JournalHandler struct {
	service JournalServiceInterface
}

func NewJournalHandler(s JournalServiceInterface) *JournalHandler {
	return &JournalHandler{service: s}
}

// Recent godoc
// @Summary 最近のジャーナルを取得
// @Description コミットされたスコープの操作履歴を新しい順に返します
// @Tags journal
// @Produce json
// @Param limit query int false "取得件数" default(20)
// @Success 200 {array} redisinfra.JournalEntry
// @Failure 404 {object} map[string]string "ジャーナル未設定"
// @Router /journal [get]
func (h *JournalHandler) Recent(c echo.Context) error {
	limit, _ := strconv.ParseInt(c.QueryParam("limit"), 10, 64)
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	if limit > maxJournalLimit {
		limit = maxJournalLimit
	}
	entries, err := h.service.RecentJournal(c.Request().Context(), limit)
	if err != nil {
		return toHTTPError(err)
	}
	if entries == nil {
		entries = []redisinfra.JournalEntry{}
	}
	return c.JSON(http.StatusOK, entries)
}
