package cluster

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/api/httperrors"
)

func PostPlanRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1.POST("/cluster/plan", postPlanHandler(s))
}

// postPlanHandler forces a replan. Only the coordinator accepts it.
func postPlanHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		plan, err := s.Coordinator.Plan(c.Request().Context())
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create distribution plan")
			return httperrors.FromError(err)
		}
		return c.JSON(http.StatusCreated, plan)
	}
}
