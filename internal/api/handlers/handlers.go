package handlers

import (
	"github.com/labstack/echo/v4"
	"github.com/ulfberto/zerocloud/internal/api"
	"github.com/ulfberto/zerocloud/internal/api/handlers/cluster"
	"github.com/ulfberto/zerocloud/internal/api/handlers/common"
	"github.com/ulfberto/zerocloud/internal/api/handlers/tasks"
)

func AttachAllRoutes(s *api.Server) {
	// attach our routes
	s.Router.Routes = []*echo.Route{
		common.GetHealthzRoute(s),
		common.GetMetricsRoute(s),
		cluster.GetClusterRoute(s),
		cluster.PostPlanRoute(s),
		cluster.PostBenchmarkRoute(s),
		tasks.GetListTasksRoute(s),
		tasks.GetTaskRoute(s),
		tasks.PostRunTaskRoute(s),
		tasks.DeleteTaskRoute(s),
	}
}
