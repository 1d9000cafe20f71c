package common

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/metrics"
)

func GetMetricsRoute(s *api.Server) *echo.Route {
	metrics.Ensure()
	return s.Router.Management.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
