package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/mowesport/mowe/internal/platform/httpx"
	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
	"github.com/mowesport/mowe/internal/view"
)

const invalidCredentialsMessage = "Correo o contraseña inválidos"

// PasswordPath serves the change-password form.
const PasswordPath = "/auth/password"

// HandlerConfig groups the collaborators of Handler.
type HandlerConfig struct {
	Logger      *slog.Logger
	Provider    Authenticator
	// Passwords serves the change-password flow. When nil, Provider is used
	// if it implements PasswordChanger.
	Passwords   PasswordChanger
	Pages       *view.Pages
	CSRF        *session.CSRFManager
	Registry    *roles.Registry
	DefaultPath string
	// SignInLimit caps sign-in attempts per IP and minute; zero disables it.
	SignInLimit int
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger      *slog.Logger
	provider    Authenticator
	passwords   PasswordChanger
	pages       *view.Pages
	csrf        *session.CSRFManager
	registry    *roles.Registry
	defaultPath string
	signInLimit int
	validator   *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	registry := cfg.Registry
	if registry == nil {
		registry = roles.Default()
	}
	passwords := cfg.Passwords
	if passwords == nil {
		passwords, _ = cfg.Provider.(PasswordChanger)
	}
	defaultPath := cfg.DefaultPath
	if defaultPath == "" {
		defaultPath = "/dashboard"
	}
	return &Handler{
		logger:      logger,
		provider:    cfg.Provider,
		passwords:   passwords,
		pages:       cfg.Pages,
		csrf:        cfg.CSRF,
		registry:    registry,
		defaultPath: defaultPath,
		signInLimit: cfg.SignInLimit,
		validator:   validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Get("/sign-in", h.showSignIn)
		r.Group(func(r chi.Router) {
			if h.signInLimit > 0 {
				r.Use(httprate.LimitByIP(h.signInLimit, time.Minute))
			}
			r.Post("/sign-in", h.handleSignIn)
			if h.passwords != nil {
				r.Post("/password", h.handleChangePassword)
			}
		})
		if h.passwords != nil {
			r.Get("/password", h.showPassword)
		}
		r.Post("/sign-out", h.handleSignOut)
		r.Post("/refresh", h.handleRefresh)
	})
	r.Get("/api/session", h.current)
}

type signInForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Next     string `json:"next"`
}

type signInPageData struct {
	Email  string
	Next   string
	Errors map[string]string
}

func (h *Handler) showSignIn(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"), h.defaultPath)
	if session.SnapshotFromContext(r.Context()).Authenticated {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	h.pages.Render(w, http.StatusOK, "pages/sign-in.html",
		h.pages.Data(r, "Iniciar sesión", signInPageData{Next: next}))
}

func (h *Handler) handleSignIn(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	if st == nil {
		h.logger.Error("session missing during sign-in")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	asJSON := wantsJSON(r)

	var form signInForm
	if asJSON {
		if err := httpx.DecodeJSON(w, r, &form); err != nil {
			httpx.RespondError(w, err)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		form = signInForm{
			Email:    r.PostFormValue("email"),
			Password: r.PostFormValue("password"),
			Next:     r.PostFormValue("next"),
		}
	}
	form.Email = strings.TrimSpace(form.Email)
	next := safeNext(form.Next, h.defaultPath)

	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}

	if len(errs) == 0 {
		result, err := h.provider.Authenticate(r.Context(), form.Email, form.Password)
		if err == nil {
			err = st.OnSignedIn(r.Context(), result.Token, result.Profile)
		}
		if err == nil {
			h.logger.Info("signed in", slog.String("user_id", result.Profile.ID), slog.String("role", string(result.Profile.Role)))
			if asJSON {
				httpx.JSON(w, http.StatusOK, h.sessionBody(r, st.Snapshot()))
				return
			}
			if result.Profile.MustChangePassword && h.passwords != nil {
				next = PasswordPath + "?next=" + url.QueryEscape(next)
			}
			http.Redirect(w, r, next, http.StatusSeeOther)
			return
		}
		if !errors.Is(err, ErrInvalidCredentials) {
			h.logger.Warn("sign-in failed", slog.Any("error", err))
		}
		errs["general"] = invalidCredentialsMessage
	}

	if asJSON {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", invalidCredentialsMessage)
		return
	}
	h.pages.Render(w, http.StatusBadRequest, "pages/sign-in.html",
		h.pages.Data(r, "Iniciar sesión", signInPageData{Email: form.Email, Next: next, Errors: errs}))
}

func (h *Handler) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if st := session.FromContext(r.Context()); st != nil {
		st.OnSignedOut(r.Context())
	}
	if wantsJSON(r) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/auth/sign-in", http.StatusSeeOther)
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	if st == nil {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	snap, err := st.Refresh(r.Context(), true)
	if err != nil {
		if errors.Is(err, session.ErrProfileUnavailable) {
			httpx.Problem(w, http.StatusServiceUnavailable, "Profile Unavailable", "No se pudo obtener el perfil")
			return
		}
		h.logger.Warn("session refresh", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, h.sessionBody(r, snap))
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.sessionBody(r, session.SnapshotFromContext(r.Context())))
}

type sessionResponse struct {
	Session   session.Snapshot        `json:"session"`
	Role      *roles.Descriptor       `json:"role,omitempty"`
	Status    *roles.StatusDescriptor `json:"status,omitempty"`
	CSRFToken string                  `json:"csrf_token,omitempty"`
}

func (h *Handler) sessionBody(r *http.Request, snap session.Snapshot) sessionResponse {
	body := sessionResponse{Session: snap}
	if snap.Authenticated {
		desc := h.registry.Describe(snap.Role())
		status := roles.DescribeStatus(snap.Status())
		body.Role, body.Status = &desc, &status
	}
	if h.csrf != nil {
		if id := session.BrowserIDFromContext(r.Context()); id != "" {
			body.CSRFToken = h.csrf.Token(id)
		}
	}
	return body
}

func fieldMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "Este campo es obligatorio"
	case "email":
		return "Introduce un correo válido"
	case "min":
		return "Debe tener al menos " + err.Param() + " caracteres"
	case "max":
		return "Debe tener como máximo " + err.Param() + " caracteres"
	case "eqfield":
		return "Las contraseñas no coinciden"
	case "nefield":
		return "La nueva contraseña debe ser distinta de la actual"
	default:
		return "Valor no válido"
	}
}

// safeNext keeps redirects on this origin.
func safeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return fallback
	}
	if strings.HasPrefix(next, "/auth/") {
		return fallback
	}
	return next
}

func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}
