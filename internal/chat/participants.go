package chat

import "strings"

// DefaultProviderRoles are the roles treated as service providers when
// assigning thread slots.
var DefaultProviderRoles = []string{"consultant"}

// RolePolicy decides which participant of a new thread takes the
// counterparty slot.
type RolePolicy struct {
	providers map[string]struct{}
}

// NewRolePolicy builds a policy for the given provider roles. With no roles
// it falls back to DefaultProviderRoles.
func NewRolePolicy(roles ...string) RolePolicy {
	if len(roles) == 0 {
		roles = DefaultProviderRoles
	}
	p := RolePolicy{providers: make(map[string]struct{}, len(roles))}
	for _, r := range roles {
		if r = normalizeRole(r); r != "" {
			p.providers[r] = struct{}{}
		}
	}
	return p
}

// IsProvider reports whether role is a provider role.
func (p RolePolicy) IsProvider(role string) bool {
	_, ok := p.providers[normalizeRole(role)]
	return ok
}

// Classify returns the primary and counterparty ids. When exactly one side
// is a provider it becomes the counterparty; otherwise idA is primary.
func (p RolePolicy) Classify(idA, roleA, idB, roleB string) (primary, counterparty string) {
	if p.IsProvider(roleA) && !p.IsProvider(roleB) {
		return idB, idA
	}
	return idA, idB
}

// ClassifyParticipants applies the default provider roles.
func ClassifyParticipants(idA, roleA, idB, roleB string) (primary, counterparty string) {
	return NewRolePolicy().Classify(idA, roleA, idB, roleB)
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
