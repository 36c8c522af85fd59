package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanosuguru/go-multistore-tx/internal/api"
	"github.com/sanosuguru/go-multistore-tx/internal/api/handler"
	"github.com/sanosuguru/go-multistore-tx/internal/api/middleware"
	"github.com/sanosuguru/go-multistore-tx/internal/application"
	"github.com/sanosuguru/go-multistore-tx/internal/config"
	"github.com/sanosuguru/go-multistore-tx/internal/pkg/metrics"
)

// Options はルーター構築に必要な依存
type Options struct {
	Service      *application.QueryService
	HealthChecks []handler.HealthCheck

	// Metrics が nil の場合は HTTP メトリクスと /metrics を無効にする
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	MetricsAuth config.MetricsConfig
}

// New はルーティング済みの Echo インスタンスを作成する
func New(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler
	middleware.SetupMiddleware(e)

	if opts.Metrics != nil {
		e.Use(middleware.PrometheusMiddleware(opts.Metrics))
		gatherer := opts.Gatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		e.GET("/metrics",
			echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})),
			middleware.MetricsBasicAuth(opts.MetricsAuth),
		)
	}

	healthHandler := handler.NewHealthHandler(opts.HealthChecks...)
	storeHandler := handler.NewStoreHandler(opts.Service)
	transactionHandler := handler.NewTransactionHandler(opts.Service)
	journalHandler := handler.NewJournalHandler(opts.Service)

	e.GET("/health", healthHandler.Check)

	v1 := e.Group("/api/v1")
	v1.GET("/stores", storeHandler.List)
	v1.GET("/stores/:name/rows", storeHandler.Rows)
	v1.GET("/stores/:name/fields", storeHandler.Fields)
	v1.GET("/stores/:name/count", storeHandler.Count)

	v1.POST("/transactions", transactionHandler.Execute)

	v1.GET("/journal", journalHandler.Recent)

	return e
}
