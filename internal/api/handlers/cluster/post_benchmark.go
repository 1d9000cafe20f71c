package cluster

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/api/httperrors"
)

func PostBenchmarkRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/benchmark", postBenchmarkHandler(s))
}

// postBenchmarkHandler asks every peer to benchmark and returns the local
// result once it is measured.
func postBenchmarkHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		result, err := s.Coordinator.RequestBenchmarks(c.Request().Context())
		if err != nil {
			log.Warn().Err(err).Msg("Benchmark failed")
			return httperrors.NewHTTPError(http.StatusConflict, "BENCHMARK", err.Error())
		}
		return c.JSON(http.StatusOK, result)
	}
}
