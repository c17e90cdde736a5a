package access

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mowesport/mowe/internal/roles"
)

//go:embed default.yaml
var defaultTables []byte

// ErrInvalidTables indicates a route or navigation table that cannot be loaded.
var ErrInvalidTables = errors.New("access: invalid tables")

// RouteDescriptor binds a navigable path to the roles allowed to render it.
type RouteDescriptor struct {
	Path          string       `yaml:"path" json:"path" validate:"required,startswith=/"`
	Title         string       `yaml:"title" json:"title"`
	AllowedRoles  []roles.Role `yaml:"allowed_roles" json:"allowed_roles"`
	RequiresAuth  bool         `yaml:"requires_auth" json:"requires_auth"`
	AllowInactive bool         `yaml:"allow_inactive" json:"allow_inactive"`
}

// Allows reports whether role appears in the allowed list. Unknown roles never match.
func (r RouteDescriptor) Allows(role roles.Role) bool {
	return containsRole(r.AllowedRoles, role)
}

// NavigationEntry is a menu item. Entries without Href are section headers.
type NavigationEntry struct {
	Label        string            `yaml:"label" json:"label" validate:"required"`
	Href         string            `yaml:"href,omitempty" json:"href,omitempty" validate:"omitempty,startswith=/"`
	Icon         string            `yaml:"icon,omitempty" json:"icon,omitempty"`
	Description  string            `yaml:"description,omitempty" json:"description,omitempty"`
	Section      string            `yaml:"section,omitempty" json:"section,omitempty" validate:"omitempty,oneof=dashboard administration main settings"`
	AllowedRoles []roles.Role      `yaml:"allowed_roles,omitempty" json:"allowed_roles,omitempty"`
	Children     []NavigationEntry `yaml:"children,omitempty" json:"children,omitempty" validate:"dive"`
}

// Allows reports whether role appears in the allowed list.
func (n NavigationEntry) Allows(role roles.Role) bool {
	return containsRole(n.AllowedRoles, role)
}

// Tables is the static access configuration shared by the guard, the
// delegation gate and the navigation filter.
type Tables struct {
	Delegations map[roles.Role][]roles.Role `yaml:"delegations"`
	Routes      []RouteDescriptor           `yaml:"routes" validate:"dive"`
	Navigation  []NavigationEntry           `yaml:"navigation" validate:"dive"`

	// Warnings lists references to unrecognised roles. Such references are
	// kept but never match a session, so they deny.
	Warnings []string `yaml:"-"`

	routeIndex map[string]int
}

// Load reads tables from path, or the embedded defaults when path is empty.
func Load(path string) (*Tables, error) {
	if path == "" {
		return Parse(defaultTables)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("access: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Default returns the embedded tables.
func Default() *Tables {
	t, err := Parse(defaultTables)
	if err != nil {
		panic(fmt.Sprintf("access: default tables: %v", err))
	}
	return t
}

// Parse decodes and validates YAML tables.
func Parse(raw []byte) (*Tables, error) {
	var t Tables
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidTables, err)
	}
	if err := t.prepare(); err != nil {
		return nil, err
	}
	return &t, nil
}

// New builds tables from already-decoded values.
func New(routes []RouteDescriptor, nav []NavigationEntry, delegations map[roles.Role][]roles.Role) (*Tables, error) {
	t := &Tables{Routes: routes, Navigation: nav, Delegations: delegations}
	if err := t.prepare(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tables) prepare() error {
	if err := validator.New().Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTables, err)
	}
	t.routeIndex = make(map[string]int, len(t.Routes))
	for i, route := range t.Routes {
		path := normalizePath(route.Path)
		if _, dup := t.routeIndex[path]; dup {
			return fmt.Errorf("%w: duplicate route %s", ErrInvalidTables, path)
		}
		t.Routes[i].Path = path
		t.routeIndex[path] = i
		t.warnUnknown("route "+path, route.AllowedRoles)
	}
	for i := range t.Navigation {
		if err := t.prepareEntry(&t.Navigation[i], 0); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tables) prepareEntry(entry *NavigationEntry, depth int) error {
	if depth > 0 && len(entry.Children) > 0 {
		return fmt.Errorf("%w: navigation entry %q nests deeper than one level", ErrInvalidTables, entry.Label)
	}
	if entry.Href != "" {
		entry.Href = normalizePath(entry.Href)
		if len(entry.AllowedRoles) == 0 {
			if route, ok := t.Route(entry.Href); ok {
				entry.AllowedRoles = append([]roles.Role(nil), route.AllowedRoles...)
			}
		}
	}
	t.warnUnknown("navigation "+entry.Label, entry.AllowedRoles)
	for i := range entry.Children {
		if err := t.prepareEntry(&entry.Children[i], depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tables) warnUnknown(where string, list []roles.Role) {
	for _, r := range list {
		if !r.Valid() {
			t.Warnings = append(t.Warnings, fmt.Sprintf("%s references unknown role %q", where, r))
		}
	}
}

// Route looks up a route by path.
func (t *Tables) Route(path string) (RouteDescriptor, bool) {
	if t == nil {
		return RouteDescriptor{}, false
	}
	idx, ok := t.routeIndex[normalizePath(path)]
	if !ok {
		return RouteDescriptor{}, false
	}
	return t.Routes[idx], true
}

// Registry builds the role registry from the configured delegation table,
// falling back to the default hierarchy when none is configured.
func (t *Tables) Registry() (*roles.Registry, error) {
	if t == nil || len(t.Delegations) == 0 {
		return roles.NewRegistry(roles.DefaultDelegations())
	}
	return roles.NewRegistry(t.Delegations)
}

func containsRole(list []roles.Role, role roles.Role) bool {
	if !role.Valid() {
		return false
	}
	for _, r := range list {
		if r == role {
			return true
		}
	}
	return false
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}
