package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/mowesport/mowe/internal/access"
	"github.com/mowesport/mowe/internal/delegation"
	"github.com/mowesport/mowe/internal/guard"
	"github.com/mowesport/mowe/internal/navigation"
	"github.com/mowesport/mowe/internal/roles"
	"github.com/mowesport/mowe/internal/session"
)

// explainAccess prints what role sees under tables: the verdict for every
// route, the registrable roles and the visible menu.
func explainAccess(w io.Writer, tables *access.Tables, role roles.Role, status roles.Status) error {
	registry, err := tables.Registry()
	if err != nil {
		return err
	}
	snap := session.Snapshot{
		Authenticated: true,
		Token:         "cli",
		Profile:       session.Profile{ID: "cli", Role: role, Status: status},
	}

	g := guard.New(tables, guard.Options{})
	fmt.Fprintf(w, "role=%s status=%s\n\nroutes:\n", role, status)
	for _, route := range tables.Routes {
		out := g.Check(route, snap)
		line := fmt.Sprintf("  %-32s %s", route.Path, out.Decision)
		if out.Reason != "" {
			line += " (" + string(out.Reason) + ")"
		}
		fmt.Fprintln(w, line)
	}

	targets := delegation.NewGate(registry).Targets(snap)
	names := make([]string, 0, len(targets))
	for _, d := range targets {
		names = append(names, string(d.Role))
	}
	fmt.Fprintf(w, "\nmay register: %s\n\nmenu:\n", orNone(strings.Join(names, ", ")))
	for _, section := range navigation.VisibleBySection(tables.Navigation, snap, g) {
		fmt.Fprintf(w, "  [%s]\n", section.Name)
		for _, entry := range section.Entries {
			printEntry(w, entry, 2)
		}
	}
	for _, warning := range tables.Warnings {
		fmt.Fprintf(w, "\nwarning: %s\n", warning)
	}
	return nil
}

func printEntry(w io.Writer, entry access.NavigationEntry, depth int) {
	href := entry.Href
	if href == "" {
		href = "-"
	}
	fmt.Fprintf(w, "%s%s %s\n", strings.Repeat("  ", depth), entry.Label, href)
	for _, child := range entry.Children {
		printEntry(w, child, depth+1)
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
