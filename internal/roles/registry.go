package roles

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownRole indicates a role identifier outside the closed set.
	ErrUnknownRole = errors.New("roles: unknown role")
	// ErrInvalidDelegation indicates a delegation table that cannot be honoured.
	ErrInvalidDelegation = errors.New("roles: invalid delegation")
)

// DefaultDelegations is the registration hierarchy used when no override is configured.
func DefaultDelegations() map[Role][]Role {
	return map[Role][]Role{
		SuperAdmin: {CityAdmin},
		CityAdmin:  {Owner, Referee},
		Owner:      {Player, Coach},
	}
}

var baseDescriptors = map[Role]Descriptor{
	SuperAdmin: {
		Label:        "Super Administrador",
		Color:        "danger",
		Description:  "Acceso total al sistema",
		Capabilities: Capabilities{ManageUsers: true, ManageSystem: true, ViewAnalytics: true, ExportData: true},
	},
	CityAdmin: {
		Label:        "Administrador de Ciudad",
		Color:        "warning",
		Description:  "Gestión de ciudad y deportes",
		Capabilities: Capabilities{ManageUsers: true, ViewAnalytics: true, ExportData: true},
	},
	TournamentAdmin: {
		Label:        "Administrador de Torneo",
		Color:        "secondary",
		Description:  "Gestión de torneos",
		Capabilities: Capabilities{ViewAnalytics: true, ExportData: true, DeleteAccount: true},
	},
	Owner: {
		Label:        "Propietario",
		Color:        "primary",
		Description:  "Gestión de equipos",
		Capabilities: Capabilities{ExportData: true, DeleteAccount: true},
	},
	Coach: {
		Label:        "Entrenador",
		Color:        "success",
		Description:  "Entrenamiento y tácticas",
		Capabilities: Capabilities{DeleteAccount: true},
	},
	Referee: {
		Label:        "Árbitro",
		Color:        "default",
		Description:  "Arbitraje de partidos",
		Capabilities: Capabilities{DeleteAccount: true},
	},
	Player: {
		Label:        "Jugador",
		Color:        "success",
		Description:  "Participación en equipos",
		Capabilities: Capabilities{DeleteAccount: true},
	},
	Client: {
		Label:        "Cliente",
		Color:        "default",
		Description:  "Visualización de contenido",
		Capabilities: Capabilities{DeleteAccount: true},
	},
}

var unknownDescriptor = Descriptor{
	Role:         Client,
	Label:        "Usuario",
	Color:        "default",
	Description:  "Usuario del sistema",
	Capabilities: Capabilities{},
}

var statusDescriptors = map[Status]StatusDescriptor{
	StatusActive:         {Status: StatusActive, Label: "Activa", Color: "success", Description: "Cuenta completamente funcional"},
	StatusSuspended:      {Status: StatusSuspended, Label: "Suspendida", Color: "danger", Description: "Cuenta temporalmente suspendida"},
	StatusPaymentPending: {Status: StatusPaymentPending, Label: "Pago Pendiente", Color: "warning", Description: "Requiere actualización de pago"},
	StatusDisabled:       {Status: StatusDisabled, Label: "Deshabilitada", Color: "default", Description: "Cuenta deshabilitada por administrador"},
}

// Registry maps every role to its descriptor. It is immutable once built and
// safe for concurrent use.
type Registry struct {
	descriptors map[Role]Descriptor
	delegates   map[Role]Set
}

// Default returns a registry built from DefaultDelegations.
func Default() *Registry {
	reg, err := NewRegistry(DefaultDelegations())
	if err != nil {
		panic(fmt.Sprintf("roles: default registry: %v", err))
	}
	return reg
}

// NewRegistry builds a registry using the given delegation table. Roles absent
// from the table are leaves. Unknown roles on either side are rejected and a
// role may never delegate to super_admin or to itself.
func NewRegistry(delegations map[Role][]Role) (*Registry, error) {
	reg := &Registry{
		descriptors: make(map[Role]Descriptor, len(baseDescriptors)),
		delegates:   make(map[Role]Set, len(baseDescriptors)),
	}
	for role, targets := range delegations {
		if !role.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
		}
		set := make(Set, len(targets))
		for _, target := range targets {
			if !target.Valid() {
				return nil, fmt.Errorf("%w: %s delegates to unknown role %q", ErrInvalidDelegation, role, target)
			}
			if target == SuperAdmin || target == role {
				return nil, fmt.Errorf("%w: %s cannot register %s", ErrInvalidDelegation, role, target)
			}
			set[target] = struct{}{}
		}
		reg.delegates[role] = set
	}
	for _, role := range All() {
		desc := baseDescriptors[role]
		desc.Role = role
		desc.Delegates = reg.delegates[role].Slice()
		reg.descriptors[role] = desc
	}
	return reg, nil
}

// Describe returns the descriptor for role, or a generic client descriptor
// when role is not recognised.
func (r *Registry) Describe(role Role) Descriptor {
	desc, ok := r.descriptors[role]
	if !ok {
		return unknownDescriptor
	}
	out := desc
	out.Delegates = append([]Role(nil), desc.Delegates...)
	return out
}

// DelegatesOf returns the roles that role may directly register. The result is
// a fresh copy; unknown and leaf roles yield an empty set.
func (r *Registry) DelegatesOf(role Role) Set {
	src := r.delegates[role]
	out := make(Set, len(src))
	for target := range src {
		out[target] = struct{}{}
	}
	return out
}

// Known reports whether role is present in the registry.
func (r *Registry) Known(role Role) bool {
	_, ok := r.descriptors[role]
	return ok
}

// Descriptors lists all descriptors in hierarchy order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, role := range All() {
		out = append(out, r.Describe(role))
	}
	return out
}

// DescribeStatus returns display metadata for an account status.
func DescribeStatus(s Status) StatusDescriptor {
	if desc, ok := statusDescriptors[s]; ok {
		return desc
	}
	return StatusDescriptor{Status: s, Label: "Desconocido", Color: "default", Description: "Estado no definido"}
}
