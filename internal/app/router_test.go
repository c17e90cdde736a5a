package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/guard"
	"github.com/mowesport/mowe/internal/identity"
	"github.com/mowesport/mowe/internal/navigation"
	"github.com/mowesport/mowe/internal/observability"
	"github.com/mowesport/mowe/internal/registration"
	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
	"github.com/mowesport/mowe/internal/view"
	"github.com/mowesport/mowe/jobs"
)

type fakeIdentity struct {
	accounts map[string]session.Profile
}

func (f fakeIdentity) Authenticate(ctx context.Context, email, password string) (identity.SignIn, error) {
	profile, ok := f.accounts[identity.NormalizeEmail(email)]
	if !ok || password != "secret" {
		return identity.SignIn{}, identity.ErrInvalidCredentials
	}
	return identity.SignIn{Token: "tok-" + profile.ID, Profile: profile}, nil
}

func (f fakeIdentity) FetchProfile(ctx context.Context, token string) (session.Profile, error) {
	for _, p := range f.accounts {
		if "tok-"+p.ID == token {
			return p, nil
		}
	}
	return session.Profile{}, session.ErrTokenRejected
}

func (f fakeIdentity) ChangePassword(ctx context.Context, token string, change identity.PasswordChange) error {
	for email, p := range f.accounts {
		if "tok-"+p.ID != token {
			continue
		}
		if change.Current != "secret" {
			return identity.ErrWrongPassword
		}
		p.MustChangePassword = false
		f.accounts[email] = p
		return nil
	}
	return session.ErrTokenRejected
}

type memoryAccounts struct{}

func (memoryAccounts) CreateAccount(ctx context.Context, account registration.NewAccount) error {
	return nil
}

type harness struct {
	router  http.Handler
	cookies *session.CookieManager
	csrf    *session.CSRFManager
	metrics *observability.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &Config{
		AppEnv:            "test",
		AppRequestTimeout: 5 * time.Second,
		RateLimit:         1000,
		SignInPath:        "/auth/sign-in",
		DefaultPath:       "/dashboard",
	}
	provider := fakeIdentity{accounts: map[string]session.Profile{
		"owner@mowe.test":  {ID: "u-owner", Email: "owner@mowe.test", FirstName: "Olga", Role: roles.Owner, Status: roles.StatusActive},
		"player@mowe.test": {ID: "u-player", Email: "player@mowe.test", FirstName: "Pablo", Role: roles.Player, Status: roles.StatusSuspended},
		"city@mowe.test":   {ID: "u-city", Email: "city@mowe.test", FirstName: "Celia", Role: roles.CityAdmin, Status: roles.StatusSuspended},
		"fresh@mowe.test":  {ID: "u-fresh", Email: "fresh@mowe.test", FirstName: "Fran", Role: roles.Owner, Status: roles.StatusActive, MustChangePassword: true},
	}}

	tables := access.Default()
	registry, err := tables.Registry()
	require.NoError(t, err)
	sessions, err := session.NewRegistry(16, func(string) *session.State {
		return session.NewState(session.Config{Provider: provider})
	})
	require.NoError(t, err)
	cookies := session.NewCookieManager("mowe_session", "cookie-secret", time.Hour, false)
	csrf := session.NewCSRFManager("csrf-secret")
	engine, err := view.NewEngine()
	require.NoError(t, err)
	metrics := observability.NewMetrics(func() float64 { return float64(sessions.Len()) })
	routeGuard := guard.New(tables, guard.Options{Observe: func(route string, d guard.Decision) { metrics.ObserveDecision(route, string(d)) }})
	pages := view.NewPages(engine, tables, routeGuard, registry, csrf, nil)

	router := NewRouter(RouterParams{
		Logger:   newLogger(cfg, &strings.Builder{}),
		Config:   cfg,
		Tables:   tables,
		Pages:    pages,
		Guard:    routeGuard,
		Cookies:  cookies,
		Sessions: sessions,
		CSRF:     csrf,
		IdentityHandler: identity.NewHandler(identity.HandlerConfig{
			Provider: provider,
			Pages:    pages,
			CSRF:     csrf,
			Registry: registry,
		}),
		NavigationHandler:   navigation.NewHandler(tables, routeGuard),
		RegistrationHandler: registration.NewHandler(registration.NewService(registration.Config{Repo: memoryAccounts{}, Registry: registry}), nil),
		JobHandler:          jobs.NewHandler(nil, nil),
		Metrics:             metrics,
	})
	return &harness{router: router, cookies: cookies, csrf: csrf, metrics: metrics}
}

// browser carries one signed cookie across requests.
type browser struct {
	h  *harness
	id string
}

func (h *harness) browser() *browser {
	return &browser{h: h, id: uuid.NewString()}
}

func (b *browser) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	req.AddCookie(&http.Cookie{Name: b.h.cookies.Name(), Value: b.h.cookies.Value(b.id)})
	rec := httptest.NewRecorder()
	b.h.router.ServeHTTP(rec, req)
	return rec
}

func (b *browser) get(t *testing.T, target string) *httptest.ResponseRecorder {
	return b.do(t, httptest.NewRequest(http.MethodGet, target, nil))
}

func (b *browser) signIn(t *testing.T, email string) *httptest.ResponseRecorder {
	form := url.Values{"email": {email}, "password": {"secret"}, "csrf_token": {b.h.csrf.Token(b.id)}}
	req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(t, req)
}

func TestHealthzAndStatic(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Empty(t, rec.Result().Cookies())

	rec = httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/css/app.css", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
}

func TestFreshBrowserGetsCookieAndRedirect(t *testing.T) {
	h := newHarness(t)

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/administration/users", nil))
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/sign-in?next=%2Fadministration%2Fusers", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "mowe_session", cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestRootRedirectsToDefault(t *testing.T) {
	h := newHarness(t)
	rec := h.browser().get(t, "/")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestSignInRequiresCSRF(t *testing.T) {
	h := newHarness(t)
	b := h.browser()

	form := url.Values{"email": {"owner@mowe.test"}, "password": {"secret"}}
	req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := b.do(t, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusSeeOther, b.get(t, "/dashboard").Code)
}

func TestOwnerSession(t *testing.T) {
	h := newHarness(t)
	b := h.browser()

	rec := b.signIn(t, "Owner@Mowe.test")
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))

	rec = b.get(t, "/dashboard")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `href="/administration/users"`)
	assert.NotContains(t, body, `href="/administration/referees"`)
	assert.Contains(t, body, h.csrf.Token(b.id))

	assert.Equal(t, http.StatusOK, b.get(t, "/main/teams/").Code)
	assert.Equal(t, http.StatusForbidden, b.get(t, "/administration/referees").Code)
	assert.Equal(t, http.StatusForbidden, b.get(t, "/nowhere").Code)

	rec = b.get(t, "/api/navigation")
	require.Equal(t, http.StatusOK, rec.Code)
	var nav struct {
		Sections []struct {
			Name string `json:"name"`
		} `json:"sections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nav))
	assert.NotEmpty(t, nav.Sections)

	rec = b.get(t, "/api/session")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"primary_role":"owner"`)
}

func TestOwnerRegistersPlayer(t *testing.T) {
	h := newHarness(t)
	b := h.browser()
	require.Equal(t, http.StatusSeeOther, b.signIn(t, "owner@mowe.test").Code)

	payload := `{"first_name":"Ana","last_name":"Ruiz","email":"ana@mowe.test","role":"player"}`
	req := httptest.NewRequest(http.MethodPost, "/api/registration", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(session.CSRFHeader, h.csrf.Token(b.id))
	rec := b.do(t, req)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	payload = `{"first_name":"Rafa","last_name":"Gil","email":"rafa@mowe.test","role":"referee"}`
	req = httptest.NewRequest(http.MethodPost, "/api/registration", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(session.CSRFHeader, h.csrf.Token(b.id))
	rec = b.do(t, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSuspendedAccountLimitedToProfile(t *testing.T) {
	h := newHarness(t)
	b := h.browser()
	require.Equal(t, http.StatusSeeOther, b.signIn(t, "player@mowe.test").Code)

	rec := b.get(t, "/dashboard")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "suspendida")
	rec = b.get(t, "/profile")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `href="/profile"`)
	assert.NotContains(t, rec.Body.String(), `href="/main/calendar"`)
}

func TestSuspendedAdminCannotRegister(t *testing.T) {
	h := newHarness(t)
	b := h.browser()
	require.Equal(t, http.StatusSeeOther, b.signIn(t, "city@mowe.test").Code)

	assert.Equal(t, http.StatusForbidden, b.get(t, "/administration/users").Code)

	rec := b.get(t, "/api/registration/targets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"targets":[]}`, rec.Body.String())

	payload := `{"first_name":"Omar","last_name":"Paz","email":"omar@mowe.test","role":"owner"}`
	req := httptest.NewRequest(http.MethodPost, "/api/registration", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(session.CSRFHeader, h.csrf.Token(b.id))
	rec = b.do(t, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())
}

func (b *browser) postForm(t *testing.T, target string, form url.Values) *httptest.ResponseRecorder {
	form.Set("csrf_token", b.h.csrf.Token(b.id))
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return b.do(t, req)
}

func TestTemporaryPasswordMustBeChanged(t *testing.T) {
	h := newHarness(t)
	b := h.browser()

	rec := b.signIn(t, "fresh@mowe.test")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/password?next=%2Fdashboard", rec.Header().Get("Location"))

	rec = b.get(t, "/main/teams")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/auth/password?next=%2Fmain%2Fteams", rec.Header().Get("Location"))
	assert.Equal(t, http.StatusForbidden, b.get(t, "/api/navigation").Code)
	assert.Equal(t, http.StatusOK, b.get(t, "/api/session").Code)

	rec = b.get(t, "/auth/password?next=/main/teams")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "temporal")
	assert.Contains(t, rec.Body.String(), `value="/main/teams"`)

	rec = b.postForm(t, "/auth/password", url.Values{
		"current_password": {"secret"}, "new_password": {"a-better-secret"}, "confirm_password": {"another-secret"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Las contraseñas no coinciden")

	rec = b.postForm(t, "/auth/password", url.Values{
		"current_password": {"wrong-secret"}, "new_password": {"a-better-secret"}, "confirm_password": {"a-better-secret"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "La contraseña actual no es correcta")

	rec = b.postForm(t, "/auth/password", url.Values{
		"current_password": {"secret"}, "new_password": {"a-better-secret"}, "confirm_password": {"a-better-secret"}, "next": {"/main/teams"},
	})
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	assert.Equal(t, "/main/teams", rec.Header().Get("Location"))

	assert.Equal(t, http.StatusOK, b.get(t, "/main/teams").Code)
	assert.Equal(t, http.StatusOK, b.get(t, "/api/navigation").Code)
}

func TestSignOutEndsSession(t *testing.T) {
	h := newHarness(t)
	b := h.browser()
	require.Equal(t, http.StatusSeeOther, b.signIn(t, "owner@mowe.test").Code)
	require.Equal(t, http.StatusOK, b.get(t, "/dashboard").Code)

	form := url.Values{"csrf_token": {h.csrf.Token(b.id)}}
	req := httptest.NewRequest(http.MethodPost, "/auth/sign-out", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := b.do(t, req)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	assert.Equal(t, http.StatusSeeOther, b.get(t, "/dashboard").Code)
}

func TestGuardDecisionsReachMetrics(t *testing.T) {
	h := newHarness(t)
	b := h.browser()
	b.get(t, "/dashboard")

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `mowe_guard_decisions_total{decision="denied_unauthenticated",route="/dashboard"} 1`)
	assert.Contains(t, rec.Body.String(), "mowe_sessions_live 1")
}
