package guard

import (
	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
)

// Decision is the outcome state of one navigation attempt.
type Decision string

const (
	Checking              Decision = "checking"
	Allowed               Decision = "allowed"
	DeniedUnauthenticated Decision = "denied_unauthenticated"
	DeniedForbidden       Decision = "denied_forbidden"
)

// Reason qualifies a forbidden decision.
type Reason string

const (
	ReasonRole          Reason = "role"
	ReasonUnknownRole   Reason = "unknown_role"
	ReasonAccountStatus Reason = "account_status"
	ReasonUnknownRoute  Reason = "unknown_route"
)

// Outcome is the guard verdict together with where the shell should send the user.
type Outcome struct {
	Decision Decision `json:"decision"`
	Reason   Reason   `json:"reason,omitempty"`
	// Redirect is set for DeniedUnauthenticated.
	Redirect string `json:"redirect,omitempty"`
	// Fallback is the safe route offered by the forbidden view.
	Fallback string `json:"fallback,omitempty"`
}

// Options configures a Guard.
type Options struct {
	SignInPath  string
	DefaultPath string
	// Observe, when set, is called with every decision taken by Require.
	Observe func(route string, d Decision)
}

// Guard decides whether a session may render a route.
type Guard struct {
	tables      *access.Tables
	signInPath  string
	defaultPath string
	observe     func(string, Decision)
}

// New constructs a Guard over the given route table.
func New(tables *access.Tables, opts Options) *Guard {
	if opts.SignInPath == "" {
		opts.SignInPath = "/auth/sign-in"
	}
	if opts.DefaultPath == "" {
		opts.DefaultPath = "/dashboard"
	}
	return &Guard{tables: tables, signInPath: opts.SignInPath, defaultPath: opts.DefaultPath, observe: opts.Observe}
}

// SignInPath returns where unauthenticated users are sent.
func (g *Guard) SignInPath() string {
	return g.signInPath
}

// DefaultPath returns the safe route offered from the forbidden view.
func (g *Guard) DefaultPath() string {
	return g.defaultPath
}

// Check evaluates route for snap. super_admin is allowed on every route that
// is reached with an authenticated session, whatever its allowed roles say.
func (g *Guard) Check(route access.RouteDescriptor, snap session.Snapshot) Outcome {
	if snap.Loading {
		return Outcome{Decision: Checking}
	}
	if !route.RequiresAuth {
		return Outcome{Decision: Allowed}
	}
	if !snap.Authenticated {
		return Outcome{Decision: DeniedUnauthenticated, Redirect: g.signInPath}
	}

	role := snap.Role()
	if role == roles.SuperAdmin {
		return Outcome{Decision: Allowed}
	}
	if !role.Valid() {
		return g.forbidden(ReasonUnknownRole)
	}
	if !route.Allows(role) {
		return g.forbidden(ReasonRole)
	}
	if status := snap.Status(); status != "" && status != roles.StatusActive && !route.AllowInactive {
		return g.forbidden(ReasonAccountStatus)
	}
	return Outcome{Decision: Allowed}
}

// CheckPath looks path up in the route table first. Paths absent from the
// table are forbidden to authenticated sessions.
func (g *Guard) CheckPath(path string, snap session.Snapshot) Outcome {
	route, ok := g.tables.Route(path)
	if !ok {
		out := g.Check(access.RouteDescriptor{Path: path, RequiresAuth: true}, snap)
		if out.Decision == Allowed {
			return g.forbidden(ReasonUnknownRoute)
		}
		return out
	}
	return g.Check(route, snap)
}

// CanAccessRoute reports whether snap would be allowed on href.
func (g *Guard) CanAccessRoute(href string, snap session.Snapshot) bool {
	return g.CheckPath(href, snap).Decision == Allowed
}

func (g *Guard) forbidden(reason Reason) Outcome {
	return Outcome{Decision: DeniedForbidden, Reason: reason, Fallback: g.defaultPath}
}
