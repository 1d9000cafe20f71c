package cluster

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ulfberto/zerocloud/internal/api"
)

func GetClusterRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.GET("/cluster", getClusterHandler(s))
}

func getClusterHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, s.Coordinator.State())
	}
}
