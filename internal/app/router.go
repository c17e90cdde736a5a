package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/guard"
	"github.com/mowesport/mowe/internal/identity"
	"github.com/mowesport/mowe/internal/navigation"
	"github.com/mowesport/mowe/internal/observability"
	"github.com/mowesport/mowe/internal/registration"
	"github.com/mowesport/mowe/internal/session"
	"github.com/mowesport/mowe/internal/view"
	"github.com/mowesport/mowe/jobs"
	"github.com/mowesport/mowe/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	Tables              *access.Tables
	Pages               *view.Pages
	Guard               *guard.Guard
	Cookies             *session.CookieManager
	Sessions            *session.Registry
	CSRF                *session.CSRFManager
	IdentityHandler     *identity.Handler
	NavigationHandler   *navigation.Handler
	RegistrationHandler *registration.Handler
	JobHandler          *jobs.Handler
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with the dashboard defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := web.StaticFS()
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		// Static assets skip the session and CSRF layers.
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:   params.Logger,
			Config:   params.Config,
			Cookies:  params.Cookies,
			Sessions: params.Sessions,
			CSRF:     params.CSRF,
			Metrics:  params.Metrics,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.StripSlashes, chimw.Logger)

		defaultPath := "/dashboard"
		if params.Config != nil && params.Config.DefaultPath != "" {
			defaultPath = params.Config.DefaultPath
		}
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, defaultPath, http.StatusSeeOther)
		})

		params.IdentityHandler.MountRoutes(r)

		mw := guard.Middleware{Guard: params.Guard, Views: params.Pages, Logger: params.Logger}
		// Everything past sign-in waits until a temporary password is replaced.
		r.Group(func(r chi.Router) {
			r.Use(params.IdentityHandler.RequirePermanentPassword)
			if params.NavigationHandler != nil {
				params.NavigationHandler.MountRoutes(r)
			}
			if params.RegistrationHandler != nil {
				params.RegistrationHandler.MountRoutes(r)
			}
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
			for _, route := range params.Tables.Routes {
				r.With(mw.Require(route)).Get(route.Path, params.Pages.Shell(route))
			}
		})
		r.NotFound(mw.Unknown().ServeHTTP)
	})

	return r
}

// staticCacheHandler wraps a file server with Cache-Control headers.
// Static assets are cached for 1 hour in browser.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
