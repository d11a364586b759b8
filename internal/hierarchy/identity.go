package hierarchy

import "strings"

// Normalize lowercases an identity, trims it and collapses inner whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// splitIdentity splits "name (role)" into its base name and role.
// Both parts are returned normalized.
func splitIdentity(s string) (base, role string) {
	s = Normalize(s)
	open := strings.Index(s, "(")
	if open < 0 || !strings.HasSuffix(s, ")") {
		return s, ""
	}
	return strings.TrimSpace(s[:open]), strings.TrimSpace(s[open+1 : len(s)-1])
}

// SameIdentity reports whether two identities name the same agent.
//
// Base names must be equal as whole strings. A role suffix on only one side
// is ignored; when both carry a role the roles must agree. Substring or
// prefix relationships between base names never match.
func SameIdentity(a, b string) bool {
	baseA, roleA := splitIdentity(a)
	baseB, roleB := splitIdentity(b)
	if baseA == "" || baseA != baseB {
		return false
	}
	if roleA != "" && roleB != "" {
		return roleA == roleB
	}
	return true
}

// BaseName returns the normalized identity without any role suffix.
func BaseName(s string) string {
	base, _ := splitIdentity(s)
	return base
}
