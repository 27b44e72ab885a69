package auth

import (
	"slices"
	"strings"
)

// ScopeRoleMap maps an OAuth scope to the roles it confers. Keys are stored
// lower-case; lookups are case-insensitive.
type ScopeRoleMap map[string][]string

// NewScopeRoleMap builds a ScopeRoleMap from configuration. Scopes that differ
// only in case are merged.
func NewScopeRoleMap(raw map[string][]string) ScopeRoleMap {
	m := make(ScopeRoleMap, len(raw))
	for scope, roles := range raw {
		key := strings.ToLower(strings.TrimSpace(scope))
		if key == "" {
			continue
		}
		m[key] = normalizeRoles(append(m[key], roles...))
	}
	return m
}

// Roles returns the union of the roles conferred by scopes. A scope with no
// entry contributes no role.
func (m ScopeRoleMap) Roles(scopes []string) []string {
	var roles []string
	for _, scope := range scopes {
		roles = append(roles, m[strings.ToLower(strings.TrimSpace(scope))]...)
	}
	return normalizeRoles(roles)
}

// normalizeRoles trims roles, drops blanks and collapses case-insensitive
// duplicates, keeping the first spelling. The result is sorted.
func normalizeRoles(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		key := strings.ToLower(r)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	slices.SortFunc(out, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return out
}

// splitClaimList reads a list claim that is either a JSON array of strings or
// a single string separated by spaces or commas.
func splitClaimList(v any) []string {
	switch t := v.(type) {
	case string:
		return strings.FieldsFunc(t, func(r rune) bool { return r == ' ' || r == ',' })
	case []string:
		return slices.Clone(t)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
