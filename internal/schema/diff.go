package schema

import "sheetsync/internal/domain"

// Diff returns the user columns that must be added so that current covers
// every incoming normalized header. It never proposes removals or type
// changes; a renamed header shows up as a brand-new column.
func Diff(current []domain.Column, incoming []string) []domain.Column {
	have := make(map[string]bool, len(current))
	for _, c := range current {
		have[c.Name] = true
	}
	var add []domain.Column
	for _, name := range incoming {
		if have[name] || Role(name) != domain.RoleUser {
			continue
		}
		have[name] = true
		add = append(add, domain.UserColumn(name))
	}
	return add
}

// Stale returns the user columns of current that are absent from active.
// System columns are never returned.
func Stale(current []domain.Column, active []string) []string {
	keep := make(map[string]bool, len(active))
	for _, a := range active {
		keep[a] = true
	}
	var drop []string
	for _, c := range current {
		if c.Role != domain.RoleUser || keep[c.Name] {
			continue
		}
		drop = append(drop, c.Name)
	}
	return drop
}
