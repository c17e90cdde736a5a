package registration

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mowesport/mowe/internal/platform/httpx"
	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
)

// Handler exposes the registration endpoints.
type Handler struct {
	service *Service
	logger  *slog.Logger
}

// NewHandler constructs a registration handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{service: service, logger: logger}
}

// MountRoutes registers registration routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/registration", func(r chi.Router) {
		r.Get("/targets", h.targets)
		r.Post("/", h.register)
	})
}

type targetsResponse struct {
	Targets []roles.Descriptor `json:"targets"`
}

func (h *Handler) targets(w http.ResponseWriter, r *http.Request) {
	snap := session.SnapshotFromContext(r.Context())
	if !snap.Authenticated {
		httpx.RespondError(w, ErrUnauthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, targetsResponse{Targets: h.service.Targets(snap)})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	snap := session.SnapshotFromContext(r.Context())
	if !snap.Authenticated {
		httpx.RespondError(w, ErrUnauthenticated)
		return
	}
	var req Request
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Register(r.Context(), snap, req)
	if err != nil {
		if !httpx.Known(err) {
			h.logger.Error("registration failed", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusCreated, result)
}
