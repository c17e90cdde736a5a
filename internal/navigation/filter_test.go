package navigation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/guard"
	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
)

func as(role roles.Role) session.Snapshot {
	return session.Snapshot{Authenticated: true, Token: "tok", Profile: session.Profile{ID: "u-1", Role: role}}
}

var everyone = []roles.Role{roles.SuperAdmin, roles.CityAdmin, roles.TournamentAdmin, roles.Owner, roles.Coach, roles.Referee, roles.Player, roles.Client}

func labels(entries []access.NavigationEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Label)
	}
	return out
}

func TestPlayerSeesOnlyEntriesAllowedToPlayers(t *testing.T) {
	entries := []access.NavigationEntry{
		{Label: "Torneos", Href: "/main/tournaments", AllowedRoles: everyone},
		{Label: "Árbitros", Href: "/administration/referees", AllowedRoles: []roles.Role{roles.SuperAdmin, roles.CityAdmin}},
		{Label: "Equipos", Href: "/main/teams", AllowedRoles: everyone},
		{Label: "Super Admin", Href: "/administration/super_admin", AllowedRoles: []roles.Role{roles.SuperAdmin, roles.CityAdmin}},
		{Label: "Calendario", Href: "/main/calendar", AllowedRoles: everyone},
	}

	visible := VisibleEntries(entries, as(roles.Player), nil)
	assert.Equal(t, []string{"Torneos", "Equipos", "Calendario"}, labels(visible))
}

func TestSuperAdminSeesEverything(t *testing.T) {
	entries := []access.NavigationEntry{
		{Label: "Restricted", Href: "/x", AllowedRoles: []roles.Role{roles.Owner}},
		{Label: "Empty", Href: "/y"},
	}

	assert.Equal(t, []string{"Restricted", "Empty"}, labels(VisibleEntries(entries, as(roles.SuperAdmin), nil)))
}

func TestAnonymousSeesNothing(t *testing.T) {
	assert.Empty(t, VisibleEntries(access.Default().Navigation, session.Snapshot{}, nil))
}

func TestSectionHeaderShownOnlyWithVisibleChildren(t *testing.T) {
	nav := access.Default().Navigation

	visible := VisibleEntries(nav, as(roles.Player), nil)
	assert.Equal(t, []string{"Dashboard", "Principal", "Configuración"}, labels(visible))
	require.Len(t, visible, 3)
	assert.Equal(t, []string{"Torneos", "Equipos", "Partidos", "Estadísticas", "Deportes", "Calendario"}, labels(visible[1].Children))
	assert.Equal(t, []string{"Perfil"}, labels(visible[2].Children))

	owner := VisibleEntries(nav, as(roles.Owner), nil)
	require.Len(t, owner, 4)
	assert.Equal(t, []string{"Usuarios", "Jugadores"}, labels(owner[1].Children))

	referee := VisibleEntries(nav, as(roles.Referee), nil)
	assert.NotContains(t, labels(referee), "Administración")
}

func TestLinkedHeaderLosesHrefWhenDenied(t *testing.T) {
	entries := []access.NavigationEntry{{
		Label:        "Equipos",
		Href:         "/teams",
		AllowedRoles: []roles.Role{roles.Owner},
		Children: []access.NavigationEntry{
			{Label: "Mis equipos", Href: "/teams/mine", AllowedRoles: []roles.Role{roles.Player}},
		},
	}}

	visible := VisibleEntries(entries, as(roles.Player), nil)
	require.Len(t, visible, 1)
	assert.Empty(t, visible[0].Href)
	assert.Len(t, visible[0].Children, 1)

	visible = VisibleEntries(entries, as(roles.Owner), nil)
	require.Len(t, visible, 1)
	assert.Equal(t, "/teams", visible[0].Href)
	assert.Empty(t, visible[0].Children)

	assert.Empty(t, VisibleEntries(entries, as(roles.Coach), nil))
}

func TestInputIsNotMutated(t *testing.T) {
	nav := access.Default().Navigation
	before, err := json.Marshal(nav)
	require.NoError(t, err)

	visible := VisibleEntries(nav, as(roles.Player), nil)
	visible[1].Children[0].Label = "changed"
	visible[1].AllowedRoles = append(visible[1].AllowedRoles, roles.Client)

	after, err := json.Marshal(nav)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestUnknownRoleSeesNothing(t *testing.T) {
	assert.Empty(t, VisibleEntries(access.Default().Navigation, as("venue_manager"), nil))
}

func TestInactiveAccountSeesOnlyReachableLinks(t *testing.T) {
	tables := access.Default()
	routes := guard.New(tables, guard.Options{})
	suspended := as(roles.Player)
	suspended.Profile.Status = roles.StatusSuspended

	visible := VisibleEntries(tables.Navigation, suspended, routes)
	assert.Equal(t, []string{"Configuración"}, labels(visible))
	require.Len(t, visible, 1)
	assert.Equal(t, []string{"Perfil"}, labels(visible[0].Children))

	active := as(roles.Player)
	active.Profile.Status = roles.StatusActive
	assert.Equal(t, labels(VisibleEntries(tables.Navigation, active, nil)), labels(VisibleEntries(tables.Navigation, active, routes)))

	sections := VisibleBySection(tables.Navigation, suspended, routes)
	require.Len(t, sections, 1)
	assert.Equal(t, "settings", sections[0].Name)
}

func TestVisibleBySection(t *testing.T) {
	sections := VisibleBySection(access.Default().Navigation, as(roles.CityAdmin), nil)

	names := make([]string, 0, len(sections))
	for _, s := range sections {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"dashboard", "administration", "main", "settings"}, names)
	assert.Equal(t, []string{"Usuarios", "Jugadores", "Árbitros"}, labels(sections[1].Entries))
	assert.Equal(t, []string{"Perfil", "Configuración"}, labels(sections[3].Entries))
}

func serveNavigation(t *testing.T, st *session.State) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(access.Default(), guard.New(access.Default(), guard.Options{})).MountRoutes(r)
	req := httptest.NewRequest(http.MethodGet, "/api/navigation", nil)
	if st != nil {
		req = req.WithContext(session.ContextWithState(req.Context(), "b-1", st))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandler(t *testing.T) {
	rec := serveNavigation(t, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	st := session.NewState(session.Config{})
	require.NoError(t, st.OnSignedIn(context.Background(), "tok", session.Profile{ID: "u-1", Role: roles.Coach}))
	rec = serveNavigation(t, st)
	require.Equal(t, http.StatusOK, rec.Code)

	var body response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"Dashboard", "Administración", "Principal", "Configuración"}, labels(body.Entries))
	assert.Equal(t, []string{"Jugadores"}, labels(body.Entries[1].Children))
	assert.Len(t, body.Sections, 4)

	suspended := session.NewState(session.Config{})
	require.NoError(t, suspended.OnSignedIn(context.Background(), "tok", session.Profile{ID: "u-2", Role: roles.Coach, Status: roles.StatusPaymentPending}))
	rec = serveNavigation(t, suspended)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []string{"Configuración"}, labels(body.Entries))
}
