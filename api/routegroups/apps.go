package routegroups

import (
	"net/http"

	"scholarmis-apps/api/handlers"
	"scholarmis-apps/core/rbac"

	"github.com/go-chi/chi/v5"
)

func RegisterApps(apiRouter chi.Router, g Guards, apps *handlers.AppsHandler) {
	apiRouter.Route("/apps", func(appsRouter chi.Router) {
		appsRouter.MethodFunc(http.MethodGet, "/", g.TokenPerm(rbac.AppsRead, apps.List))
		appsRouter.MethodFunc(http.MethodPost, "/", g.TokenPerm(rbac.AppsWrite, apps.Create))
		appsRouter.MethodFunc(http.MethodGet, "/current", g.TokenPerm(rbac.AppsRead, apps.Current))
		appsRouter.MethodFunc(http.MethodGet, "/{id:[0-9]+}", g.TokenPerm(rbac.AppsRead, apps.Get))
		appsRouter.MethodFunc(http.MethodPut, "/{id:[0-9]+}", g.TokenPerm(rbac.AppsWrite, apps.Update))
		appsRouter.MethodFunc(http.MethodPatch, "/{id:[0-9]+}", g.TokenPerm(rbac.AppsWrite, apps.PartialUpdate))
		appsRouter.MethodFunc(http.MethodDelete, "/{id:[0-9]+}", g.TokenPerm(rbac.AppsWrite, apps.Delete))
		appsRouter.MethodFunc(http.MethodPost, "/{id:[0-9]+}/install", g.TokenPerm(rbac.InstallRun, apps.Install))
	})
}

func RegisterAdmin(apiRouter chi.Router, g Guards, admin *handlers.AdminHandler) {
	apiRouter.Route("/admin/apps", func(adminRouter chi.Router) {
		adminRouter.MethodFunc(http.MethodGet, "/", g.PublicTokenPerm(rbac.AdminAppsRead, admin.List))
		adminRouter.MethodFunc(http.MethodGet, "/{id:[0-9]+}/permissions", g.PublicTokenPerm(rbac.AdminAppsRead, admin.ListPermissions))
		adminRouter.MethodFunc(http.MethodPut, "/{id:[0-9]+}/permissions", g.PublicTokenPerm(rbac.AdminAppsWrite, admin.SetPermissions))
	})
}

func RegisterInstallsAndTasks(apiRouter chi.Router, g Guards, installs *handlers.InstallsHandler, tasks *handlers.TasksHandler) {
	apiRouter.MethodFunc(http.MethodGet, "/installs", g.TokenPerm(rbac.InstallView, installs.List))
	apiRouter.MethodFunc(http.MethodGet, "/installs/{run_id}", g.TokenPerm(rbac.InstallView, installs.Get))
	apiRouter.MethodFunc(http.MethodGet, "/tasks", g.TokenPerm(rbac.TasksRead, tasks.List))
	apiRouter.MethodFunc(http.MethodPost, "/tasks/run/{name}", g.TokenPerm(rbac.TasksRun, tasks.Run))
	apiRouter.MethodFunc(http.MethodPost, "/tasks/{name}/enable", g.TokenPerm(rbac.TasksRun, tasks.Enable))
	apiRouter.MethodFunc(http.MethodPost, "/tasks/{name}/disable", g.TokenPerm(rbac.TasksRun, tasks.Disable))
}

func RegisterLogs(apiRouter chi.Router, g Guards, logs *handlers.LogsHandler) {
	apiRouter.MethodFunc(http.MethodGet, "/logs", g.TokenPerm(rbac.AuditRead, logs.List))
	apiRouter.MethodFunc(http.MethodGet, "/logs/export", g.TokenPerm(rbac.AuditRead, logs.Export))
}
