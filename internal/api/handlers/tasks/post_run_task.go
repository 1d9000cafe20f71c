package tasks

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/api/httperrors"
)

// PostRunTaskPayload is the body of POST /api/v1/tasks.
type PostRunTaskPayload struct {
	TaskID string `json:"taskId"`
	Input  string `json:"input"`
}

func PostRunTaskRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Tasks.POST("", postRunTaskHandler(s))
}

// postRunTaskHandler runs the input through the cluster and answers once
// the task settled, on whichever path produced the result.
func postRunTaskHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body PostRunTaskPayload
		if err := c.Bind(&body); err != nil {
			return httperrors.NewHTTPError(http.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		if body.Input == "" {
			return httperrors.NewHTTPError(http.StatusBadRequest, "INVALID_BODY", "input is required")
		}

		res, err := s.Coordinator.RunWithFallback(c.Request().Context(), body.TaskID, []byte(body.Input))
		if err != nil {
			log.Error().Err(err).Str("task_id", body.TaskID).Msg("Task failed")
			return httperrors.FromError(err)
		}
		return c.JSON(http.StatusOK, res)
	}
}
