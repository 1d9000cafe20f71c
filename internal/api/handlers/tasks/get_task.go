package tasks

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/api/httperrors"
)

func GetTaskRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Tasks.GET("/:id", getTaskHandler(s))
}

// getTaskHandler prefers the live registry entry and falls back to the
// persisted snapshot of a settled task.
func getTaskHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		if t, ok := s.Coordinator.Task(id); ok {
			return c.JSON(http.StatusOK, t)
		}

		t, err := s.Store.GetTask(c.Request().Context(), id)
		if err != nil {
			return httperrors.FromError(err)
		}
		return c.JSON(http.StatusOK, t)
	}
}
