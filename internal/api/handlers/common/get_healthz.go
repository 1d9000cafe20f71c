package common

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/compute/node"
)

type healthResponse struct {
	NodeID      string      `json:"nodeId"`
	Coordinator bool        `json:"coordinator"`
	Health      node.Health `json:"health"`
	ActiveNodes int         `json:"activeNodes"`
}

func GetHealthzRoute(s *api.Server) *echo.Route {
	return s.Router.Management.GET("/healthz", getHealthzHandler(s))
}

// getHealthzHandler answers 200 while the local node is serving, even when
// the cluster is critical: a lone node still runs tasks locally.
func getHealthzHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		state := s.Coordinator.State()
		return c.JSON(http.StatusOK, &healthResponse{
			NodeID:      s.Coordinator.Table().LocalID(),
			Coordinator: state.IsCoordinator,
			Health:      state.Health,
			ActiveNodes: state.ActiveNodes,
		})
	}
}
