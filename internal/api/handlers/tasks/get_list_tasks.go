package tasks

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/api/httperrors"
	"github.com/ulfberto/zerocloud/internal/compute/task"
)

type listTasksResponse struct {
	Tasks []*task.Task `json:"tasks"`
	Limit int          `json:"limit"`
}

func GetListTasksRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1Tasks.GET("", getListTasksHandler(s))
}

func getListTasksHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit := 50
		if limitStr := c.QueryParam("limit"); limitStr != "" {
			if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
				limit = l
			}
		}

		tasks, err := s.Store.ListTasks(c.Request().Context(), limit)
		if err != nil {
			return httperrors.FromError(err)
		}
		if tasks == nil {
			tasks = []*task.Task{}
		}
		return c.JSON(http.StatusOK, &listTasksResponse{Tasks: tasks, Limit: limit})
	}
}
