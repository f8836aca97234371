package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"scholarmis-apps/api/handlers"
	"scholarmis-apps/config"
	"scholarmis-apps/core/auth"
	"scholarmis-apps/core/rbac"
	"scholarmis-apps/core/registry"
	"scholarmis-apps/core/store"
	"scholarmis-apps/core/tenancy"
	"scholarmis-apps/core/utils"

	"github.com/go-chi/chi/v5"
)

// BackgroundWorker runs next to the HTTP server for the whole process lifetime.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context)
	StopWithContext(ctx context.Context) error
}

type ServerDeps struct {
	Apps        store.AppsStore
	Permissions store.PermissionsStore
	Tasks       store.PeriodicTasksStore
	Runs        store.InstallRunsStore
	Audits      store.AuditStore
	Registry    *registry.Registry
	Installer   handlers.AppInstaller
	TaskRunner  handlers.TaskRunner
	Policy      *rbac.Policy
	Tokens      *auth.TokenAuthenticator
	Tenants     *tenancy.Resolver
}

type Server struct {
	cfg         *config.AppConfig
	logger      *utils.Logger
	router      chi.Router
	httpServer  *http.Server
	apps        store.AppsStore
	permissions store.PermissionsStore
	tasks       store.PeriodicTasksStore
	runs        store.InstallRunsStore
	audits      store.AuditStore
	registry    *registry.Registry
	installer   handlers.AppInstaller
	taskRunner  handlers.TaskRunner
	policy      *rbac.Policy
	tokens      *auth.TokenAuthenticator
	tenants     *tenancy.Resolver
	workers     []BackgroundWorker
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger, workers ...BackgroundWorker) *Server {
	if logger == nil {
		logger = utils.NopLogger()
	}
	if deps.Tenants == nil {
		deps.Tenants = tenancy.NewResolver(cfg.Tenancy)
	}
	if deps.Tokens == nil {
		deps.Tokens = auth.NewTokenAuthenticator(cfg.Auth.Tokens)
	}
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		apps:        deps.Apps,
		permissions: deps.Permissions,
		tasks:       deps.Tasks,
		runs:        deps.Runs,
		audits:      deps.Audits,
		registry:    deps.Registry,
		installer:   deps.Installer,
		taskRunner:  deps.TaskRunner,
		policy:      deps.Policy,
		tokens:      deps.Tokens,
		tenants:     deps.Tenants,
		workers:     workers,
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves HTTP until ctx is done, then shuts down the server and the workers.
func (s *Server) Start(ctx context.Context) error {
	for _, w := range s.workers {
		w.StartWithContext(ctx)
	}
	s.httpServer = s.newHTTPServer()
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		s.stopWorkers()
		return err
	case <-ctx.Done():
	}
	return s.Shutdown()
}

// newHTTPServer routes net/http's own error output (TLS handshakes, panics in
// hijacked connections) through the service logger.
func (s *Server) newHTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Slog().Handler(), slog.LevelError),
	}
}

func (s *Server) Shutdown() error {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.stopWorkersWithContext(ctx)
	return err
}

func (s *Server) stopWorkers() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.stopWorkersWithContext(ctx)
}

func (s *Server) stopWorkersWithContext(ctx context.Context) {
	for _, w := range s.workers {
		if err := w.StopWithContext(ctx); err != nil {
			s.logger.Errorf("stop worker: %v", err)
		}
	}
}
