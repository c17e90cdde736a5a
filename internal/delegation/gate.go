// Package delegation decides which roles a signed-in session may create accounts for.
package delegation

import (
	"errors"
	"fmt"

	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
)

// ErrNotDelegable is returned when the session may not register the target role.
var ErrNotDelegable = errors.New("delegation: role not delegable")

// Gate answers delegation questions against a role registry.
type Gate struct {
	registry *roles.Registry
}

// NewGate builds a Gate. A nil registry uses the default hierarchy.
func NewGate(registry *roles.Registry) *Gate {
	if registry == nil {
		registry = roles.Default()
	}
	return &Gate{registry: registry}
}

// AllowedTargets returns the roles snap may register. Anonymous sessions,
// unknown roles and accounts that are not active get an empty set. The super
// admin is exempt from the status check, as it is on the route guard.
func (g *Gate) AllowedTargets(snap session.Snapshot) roles.Set {
	if !snap.Authenticated {
		return roles.Set{}
	}
	role := snap.Role()
	if status := snap.Status(); status != "" && status != roles.StatusActive && role != roles.SuperAdmin {
		return roles.Set{}
	}
	return g.registry.DelegatesOf(role)
}

// Authorize reports whether snap may register target.
func (g *Gate) Authorize(snap session.Snapshot, target roles.Role) bool {
	return g.AllowedTargets(snap).Has(target)
}

// Check is Authorize with an error naming the refused pair.
func (g *Gate) Check(snap session.Snapshot, target roles.Role) error {
	if g.Authorize(snap, target) {
		return nil
	}
	actor := snap.Role()
	if actor == "" {
		actor = "anonymous"
	}
	return fmt.Errorf("%w: %s cannot register %s", ErrNotDelegable, actor, target)
}

// Targets returns the descriptors of the roles snap may register, in hierarchy order.
func (g *Gate) Targets(snap session.Snapshot) []roles.Descriptor {
	set := g.AllowedTargets(snap)
	out := make([]roles.Descriptor, 0, set.Len())
	for _, r := range set.Slice() {
		out = append(out, g.registry.Describe(r))
	}
	return out
}
