package guard

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/session"
)

// Views renders the non-content states of a guarded route.
type Views interface {
	RenderLoading(w http.ResponseWriter, r *http.Request, route access.RouteDescriptor)
	RenderForbidden(w http.ResponseWriter, r *http.Request, route access.RouteDescriptor, out Outcome, snap session.Snapshot)
}

// Middleware wires the guard into HTTP handlers.
type Middleware struct {
	Guard  *Guard
	Views  Views
	Logger *slog.Logger
}

// Require gates next behind route. Loading sessions get a placeholder and no
// redirect; anonymous sessions are redirected to sign-in; forbidden sessions
// get the forbidden view and stay on the requested path.
func (m Middleware) Require(route access.RouteDescriptor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := session.SnapshotFromContext(r.Context())
			m.respond(w, r, route, m.Guard.Check(route, snap), snap, next)
		})
	}
}

// Unknown handles paths absent from the route table. They go through the
// same decision flow and never reach content.
func (m Middleware) Unknown() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := session.SnapshotFromContext(r.Context())
		route := access.RouteDescriptor{Path: r.URL.Path, RequiresAuth: true}
		m.respond(w, r, route, m.Guard.CheckPath(r.URL.Path, snap), snap, http.NotFoundHandler())
	})
}

func (m Middleware) respond(w http.ResponseWriter, r *http.Request, route access.RouteDescriptor, out Outcome, snap session.Snapshot, next http.Handler) {
	if m.Guard.observe != nil {
		m.Guard.observe(route.Path, out.Decision)
	}
	switch out.Decision {
	case Allowed:
		next.ServeHTTP(w, r)
	case Checking:
		w.Header().Set("Cache-Control", "no-store")
		if m.Views == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}
		m.Views.RenderLoading(w, r, route)
	case DeniedUnauthenticated:
		http.Redirect(w, r, signInURL(out.Redirect, r.URL.RequestURI()), http.StatusSeeOther)
	default:
		if m.Logger != nil {
			m.Logger.Info("route forbidden",
				slog.String("path", route.Path),
				slog.String("role", string(snap.Role())),
				slog.String("reason", string(out.Reason)))
		}
		if m.Views == nil {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		m.Views.RenderForbidden(w, r, route, out, snap)
	}
}

func signInURL(signIn, next string) string {
	if next == "" || next == "/" {
		return signIn
	}
	return signIn + "?next=" + url.QueryEscape(next)
}
