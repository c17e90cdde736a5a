package roles

import (
	"fmt"
	"strings"
)

// Role identifies one member of the closed set of platform roles.
type Role string

const (
	SuperAdmin      Role = "super_admin"
	CityAdmin       Role = "city_admin"
	TournamentAdmin Role = "tournament_admin"
	Owner           Role = "owner"
	Coach           Role = "coach"
	Referee         Role = "referee"
	Player          Role = "player"
	Client          Role = "client"
)

// All lists every role in hierarchy order. Slices and sets derived from the
// registry are ordered the same way.
func All() []Role {
	return []Role{SuperAdmin, CityAdmin, TournamentAdmin, Owner, Coach, Referee, Player, Client}
}

// Valid reports whether r belongs to the closed role set.
func (r Role) Valid() bool {
	return rank(r) >= 0
}

func (r Role) String() string {
	return string(r)
}

// Parse normalises raw input and maps it onto a known role.
func Parse(raw string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
	}
	return r, nil
}

func rank(r Role) int {
	for i, known := range All() {
		if known == r {
			return i
		}
	}
	return -1
}

// Status is the account status carried by a profile.
type Status string

const (
	StatusActive         Status = "active"
	StatusSuspended      Status = "suspended"
	StatusPaymentPending Status = "payment_pending"
	StatusDisabled       Status = "disabled"
)

// Valid reports whether s is a recognised account status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusPaymentPending, StatusDisabled:
		return true
	}
	return false
}

// Capabilities summarises coarse feature switches per role.
type Capabilities struct {
	ManageUsers   bool `json:"manage_users"`
	ManageSystem  bool `json:"manage_system"`
	ViewAnalytics bool `json:"view_analytics"`
	ExportData    bool `json:"export_data"`
	DeleteAccount bool `json:"delete_account"`
}

// Descriptor is the read-only metadata attached to a role.
type Descriptor struct {
	Role         Role         `json:"role"`
	Label        string       `json:"label"`
	Color        string       `json:"color"`
	Description  string       `json:"description"`
	Delegates    []Role       `json:"delegates"`
	Capabilities Capabilities `json:"capabilities"`
}

// StatusDescriptor is the display metadata of an account status.
type StatusDescriptor struct {
	Status      Status `json:"status"`
	Label       string `json:"label"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// Set is an unordered collection of roles.
type Set map[Role]struct{}

// NewSet builds a Set from the given roles, ignoring unknown ones.
func NewSet(rs ...Role) Set {
	s := make(Set, len(rs))
	for _, r := range rs {
		if r.Valid() {
			s[r] = struct{}{}
		}
	}
	return s
}

// Has reports membership.
func (s Set) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

// Len returns the number of roles in the set.
func (s Set) Len() int {
	return len(s)
}

// Slice returns the members in hierarchy order.
func (s Set) Slice() []Role {
	out := make([]Role, 0, len(s))
	for _, r := range All() {
		if s.Has(r) {
			out = append(out, r)
		}
	}
	return out
}

// Equal reports whether both sets hold the same roles.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for r := range s {
		if !other.Has(r) {
			return false
		}
	}
	return true
}
