package tasks

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/api/httperrors"
	"github.com/ulfberto/zerocloud/internal/compute/protocol"
)

func DeleteTaskRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Tasks.DELETE("/:id", deleteTaskHandler(s))
}

// deleteTaskHandler cancels a pending task. Remote stages are not stopped.
func deleteTaskHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.Coordinator.CancelTask(c.Param("id")) {
			return httperrors.FromError(protocol.ErrUnknownTask)
		}
		return c.NoContent(http.StatusAccepted)
	}
}
