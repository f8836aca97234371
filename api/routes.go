package api

import (
	"net/http"

	"scholarmis-apps/api/handlers"
	"scholarmis-apps/api/routegroups"

	"github.com/go-chi/chi/v5"
)

type routeHandlers struct {
	apps     *handlers.AppsHandler
	admin    *handlers.AdminHandler
	installs *handlers.InstallsHandler
	tasks    *handlers.TasksHandler
	logs     *handlers.LogsHandler
}

func (s *Server) newRouteHandlers() routeHandlers {
	pageSize, maxPageSize := s.cfg.PageSizes()
	return routeHandlers{
		apps:     handlers.NewAppsHandler(s.apps, s.registry, s.installer, s.audits, pageSize, maxPageSize, s.logger),
		admin:    handlers.NewAdminHandler(s.apps, s.permissions, s.audits, s.logger),
		installs: handlers.NewInstallsHandler(s.runs, s.logger),
		tasks:    handlers.NewTasksHandler(s.tasks, s.taskRunner, s.audits, s.logger),
		logs:     handlers.NewLogsHandler(s.audits),
	}
}

func (s *Server) guards() routegroups.Guards {
	return routegroups.Guards{
		WithToken:         s.withToken,
		RequirePermission: s.requirePermission,
		PublicTenantOnly:  s.publicTenantOnly,
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.tenants.Middleware)

	r.MethodFunc(http.MethodGet, "/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h := s.newRouteHandlers()
	g := s.guards()
	r.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)
		routegroups.RegisterApps(apiRouter, g, h.apps)
		routegroups.RegisterAdmin(apiRouter, g, h.admin)
		routegroups.RegisterInstallsAndTasks(apiRouter, g, h.installs, h.tasks)
		routegroups.RegisterLogs(apiRouter, g, h.logs)
	})
	return r
}
