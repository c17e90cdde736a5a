// Package navigation derives the menu a session is allowed to see.
package navigation

import (
	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
)

// Section groups visible entries under one menu heading.
type Section struct {
	Name    string                   `json:"name"`
	Entries []access.NavigationEntry `json:"entries"`
}

// RouteAccess answers whether a session would be let through to href. The
// route guard implements it.
type RouteAccess interface {
	CanAccessRoute(href string, snap session.Snapshot) bool
}

// VisibleEntries returns the entries visible to snap in declaration order.
// The input is never modified.
//
// A leaf is visible when the session role is allowed on it, super_admin seeing
// everything. When routes is set, a linked entry must also pass it, so an
// account that is not active only sees the pages it can still open. A section
// header is visible when at least one of its children is; a header whose own
// link is denied keeps its children but loses the link.
func VisibleEntries(entries []access.NavigationEntry, snap session.Snapshot, routes RouteAccess) []access.NavigationEntry {
	if !snap.Authenticated {
		return []access.NavigationEntry{}
	}
	allowed := func(entry access.NavigationEntry) bool {
		if !roleAllowed(entry, snap.Role()) {
			return false
		}
		return routes == nil || entry.Href == "" || routes.CanAccessRoute(entry.Href, snap)
	}
	out := make([]access.NavigationEntry, 0, len(entries))
	for _, entry := range entries {
		if len(entry.Children) == 0 {
			if allowed(entry) {
				out = append(out, copyEntry(entry))
			}
			continue
		}

		children := make([]access.NavigationEntry, 0, len(entry.Children))
		for _, child := range entry.Children {
			if allowed(child) {
				children = append(children, copyEntry(child))
			}
		}
		selfAllowed := entry.Href != "" && allowed(entry)
		if len(children) == 0 && !selfAllowed {
			continue
		}
		header := copyEntry(entry)
		header.Children = children
		if !selfAllowed {
			header.Href = ""
		}
		out = append(out, header)
	}
	return out
}

// VisibleBySection filters entries and groups them by their Section tag,
// keeping the order in which sections first appear. Children inherit the
// section of their header.
func VisibleBySection(entries []access.NavigationEntry, snap session.Snapshot, routes RouteAccess) []Section {
	var sections []Section
	index := map[string]int{}
	add := func(name string, e access.NavigationEntry) {
		i, ok := index[name]
		if !ok {
			i = len(sections)
			index[name] = i
			sections = append(sections, Section{Name: name})
		}
		sections[i].Entries = append(sections[i].Entries, e)
	}
	for _, entry := range VisibleEntries(entries, snap, routes) {
		if len(entry.Children) == 0 {
			add(entry.Section, entry)
			continue
		}
		for _, child := range entry.Children {
			name := child.Section
			if name == "" {
				name = entry.Section
			}
			add(name, child)
		}
	}
	return sections
}

func roleAllowed(entry access.NavigationEntry, role roles.Role) bool {
	if role == roles.SuperAdmin {
		return true
	}
	return entry.Allows(role)
}

func copyEntry(e access.NavigationEntry) access.NavigationEntry {
	out := e
	out.AllowedRoles = append([]roles.Role(nil), e.AllowedRoles...)
	out.Children = nil
	return out
}
