package view

import (
	"bytes"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/guard"
	"github.com/mowesport/mowe/internal/navigation"
	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
)

// Pages renders the dashboard shell and the guard placeholder views.
type Pages struct {
	engine   *Engine
	tables   *access.Tables
	routes   navigation.RouteAccess
	registry *roles.Registry
	csrf     *session.CSRFManager
	logger   *slog.Logger
}

// NewPages wires the page renderer. The menu hides links routes would refuse.
func NewPages(engine *Engine, tables *access.Tables, routes navigation.RouteAccess, registry *roles.Registry, csrf *session.CSRFManager, logger *slog.Logger) *Pages {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if registry == nil {
		registry = roles.Default()
	}
	return &Pages{engine: engine, tables: tables, routes: routes, registry: registry, csrf: csrf, logger: logger}
}

// Data builds the template data shared by every page of the request.
func (p *Pages) Data(r *http.Request, title string, data any) TemplateData {
	td := TemplateData{
		Title:       title,
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if p.csrf != nil {
		if id := session.BrowserIDFromContext(r.Context()); id != "" {
			td.CSRFToken = p.csrf.Token(id)
		}
	}
	snap := session.SnapshotFromContext(r.Context())
	if snap.Authenticated {
		name := strings.TrimSpace(snap.Profile.FirstName + " " + snap.Profile.LastName)
		if name == "" {
			name = snap.Profile.Email
		}
		td.User = &UserData{
			Name:   name,
			Email:  snap.Profile.Email,
			Role:   p.registry.Describe(snap.Role()),
			Status: roles.DescribeStatus(snap.Status()),
		}
		td.User.Inactive = snap.Status() != "" && snap.Status() != roles.StatusActive
		td.Sections = navigation.VisibleBySection(p.tables.Navigation, snap, p.routes)
	}
	return td
}

// Render writes page with status. Rendering happens into a buffer first so a
// template failure still yields a clean 500.
func (p *Pages) Render(w http.ResponseWriter, status int, page string, data TemplateData) {
	var buf bytes.Buffer
	if err := p.engine.templates.ExecuteTemplate(&buf, page, data); err != nil {
		p.logger.Error("render page", slog.String("page", page), slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Shell serves the dashboard shell for route.
func (p *Pages) Shell(route access.RouteDescriptor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Render(w, http.StatusOK, "pages/shell.html", p.Data(r, route.Title, route))
	}
}

// RenderLoading shows the placeholder while the session is being resolved.
func (p *Pages) RenderLoading(w http.ResponseWriter, r *http.Request, route access.RouteDescriptor) {
	p.Render(w, http.StatusAccepted, "pages/loading.html", p.Data(r, route.Title, route))
}

type forbiddenData struct {
	Route    access.RouteDescriptor
	Reason   guard.Reason
	Fallback string
	Message  string
}

// RenderForbidden shows the access-denied view on the requested path.
func (p *Pages) RenderForbidden(w http.ResponseWriter, r *http.Request, route access.RouteDescriptor, out guard.Outcome, snap session.Snapshot) {
	msg := "Tu rol no tiene acceso a esta sección."
	switch out.Reason {
	case guard.ReasonAccountStatus:
		msg = "Tu cuenta está " + strings.ToLower(roles.DescribeStatus(snap.Status()).Label) + ". Solo puedes acceder a tu perfil y configuración."
	case guard.ReasonUnknownRole:
		msg = "Tu cuenta tiene un rol no reconocido."
	case guard.ReasonUnknownRoute:
		msg = "Esta sección no existe."
	}
	p.Render(w, http.StatusForbidden, "pages/forbidden.html", p.Data(r, "Acceso denegado", forbiddenData{
		Route:    route,
		Reason:   out.Reason,
		Fallback: out.Fallback,
		Message:  msg,
	}))
}

var _ guard.Views = (*Pages)(nil)
