package navigation

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/platform/httpx"
	"github.com/mowesport/mowe/internal/session"
)

// Handler serves the navigation menu of the current session.
type Handler struct {
	tables *access.Tables
	routes RouteAccess
}

// NewHandler builds a Handler over the configured navigation table. Linked
// entries are also checked against routes when it is not nil.
func NewHandler(tables *access.Tables, routes RouteAccess) *Handler {
	return &Handler{tables: tables, routes: routes}
}

// MountRoutes registers the navigation endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/api/navigation", h.list)
}

type response struct {
	Entries  []access.NavigationEntry `json:"entries"`
	Sections []Section                `json:"sections"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	snap := session.SnapshotFromContext(r.Context())
	if snap.Loading {
		w.Header().Set("Cache-Control", "no-store")
		httpx.JSON(w, http.StatusAccepted, response{Entries: []access.NavigationEntry{}, Sections: []Section{}})
		return
	}
	if !snap.Authenticated {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	sections := VisibleBySection(h.tables.Navigation, snap, h.routes)
	if sections == nil {
		sections = []Section{}
	}
	httpx.JSON(w, http.StatusOK, response{
		Entries:  VisibleEntries(h.tables.Navigation, snap, h.routes),
		Sections: sections,
	})
}
