package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mowesport/mowe/internal/platform/httpx"
	"github.com/mowesport/mowe/internal/session"
)

type passwordForm struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,nefield=CurrentPassword"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=NewPassword"`
	Next            string `json:"next"`
}

type passwordPageData struct {
	Next      string
	Temporary bool
	Errors    map[string]string
}

func (h *Handler) showPassword(w http.ResponseWriter, r *http.Request) {
	snap := session.SnapshotFromContext(r.Context())
	if !snap.Authenticated {
		http.Redirect(w, r, "/auth/sign-in", http.StatusSeeOther)
		return
	}
	h.pages.Render(w, http.StatusOK, "pages/password.html", h.pages.Data(r, "Cambiar contraseña", passwordPageData{
		Next:      safeNext(r.URL.Query().Get("next"), h.defaultPath),
		Temporary: snap.Profile.MustChangePassword,
	}))
}

func (h *Handler) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	asJSON := wantsJSON(r)
	if st == nil || !st.Snapshot().Authenticated {
		if asJSON {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		http.Redirect(w, r, "/auth/sign-in", http.StatusSeeOther)
		return
	}
	snap := st.Snapshot()

	var form passwordForm
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
		form = passwordForm{
			CurrentPassword: r.PostFormValue("current_password"),
			NewPassword:     r.PostFormValue("new_password"),
			ConfirmPassword: r.PostFormValue("confirm_password"),
			Next:            r.PostFormValue("next"),
		}
	}
	next := safeNext(form.Next, h.defaultPath)

	errs := make(map[string]string)
	status := http.StatusBadRequest
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}

	if len(errs) == 0 {
		err := h.passwords.ChangePassword(r.Context(), snap.Token, PasswordChange{Current: form.CurrentPassword, New: form.NewPassword})
		switch {
		case err == nil:
			if _, err := st.Refresh(r.Context(), true); err != nil {
				h.logger.Warn("refresh after password change", slog.Any("error", err))
			}
			h.logger.Info("password changed", slog.String("user_id", snap.UserID()))
			if asJSON {
				httpx.JSON(w, http.StatusOK, h.sessionBody(r, st.Snapshot()))
				return
			}
			http.Redirect(w, r, next, http.StatusSeeOther)
			return
		case errors.Is(err, ErrWrongPassword):
			errs["CurrentPassword"] = "La contraseña actual no es correcta"
		case errors.Is(err, ErrWeakPassword):
			errs["NewPassword"] = "Debe tener entre " + strconv.Itoa(MinPasswordLength) + " y " + strconv.Itoa(MaxPasswordLength) + " caracteres y ser distinta de la actual"
		case errors.Is(err, session.ErrTokenRejected):
			st.OnSignedOut(r.Context())
			if asJSON {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			http.Redirect(w, r, "/auth/sign-in", http.StatusSeeOther)
			return
		default:
			h.logger.Error("change password", slog.String("user_id", snap.UserID()), slog.Any("error", err))
			errs["general"] = "No se pudo cambiar la contraseña. Inténtalo de nuevo."
			status = http.StatusInternalServerError
		}
	}

	if asJSON {
		messages := make([]string, 0, len(errs))
		for _, field := range []string{"general", "CurrentPassword", "NewPassword", "ConfirmPassword"} {
			if msg, ok := errs[field]; ok {
				messages = append(messages, msg)
			}
		}
		httpx.Problem(w, status, "Password Not Changed", strings.Join(messages, "; "))
		return
	}
	h.pages.Render(w, status, "pages/password.html", h.pages.Data(r, "Cambiar contraseña", passwordPageData{
		Next:      next,
		Temporary: snap.Profile.MustChangePassword,
		Errors:    errs,
	}))
}

// RequirePermanentPassword holds sessions that still sign in with a temporary
// password on the password page. Pages are redirected there and API calls get
// a 403 problem.
func (h *Handler) RequirePermanentPassword(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := session.SnapshotFromContext(r.Context())
		if h.passwords == nil || !snap.Authenticated || !snap.Profile.MustChangePassword {
			next.ServeHTTP(w, r)
			return
		}
		if wantsJSON(r) || strings.HasPrefix(r.URL.Path, "/api/") {
			httpx.Problem(w, http.StatusForbidden, "Password Change Required", "Debes cambiar tu contraseña temporal")
			return
		}
		http.Redirect(w, r, PasswordPath+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
	})
}
