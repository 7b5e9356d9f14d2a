// Package authz is the permission evaluator. It is pure: it reads a tenancy
// snapshot and never mutates it.
package authz

import (
	"errors"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/models"
	"idsimplify/pkg/permission"
)

// Scope selects which grants of a membership are consulted.
type Scope struct {
	OrganisationID string
}

// TenancyScope checks tenancy-level grants.
func TenancyScope() Scope { return Scope{} }

// OrganisationScope checks grants scoped to orgID.
func OrganisationScope(orgID string) Scope { return Scope{OrganisationID: orgID} }

// IsOrganisation reports whether s is organisation-scoped.
func (s Scope) IsOrganisation() bool { return s.OrganisationID != "" }

// Rule pairs a scope with the codes that grant an action in it.
type Rule struct {
	Scope Scope
	Allow permission.AllowList
}

// AtTenancy is a tenancy-scope rule.
func AtTenancy(codes ...permission.Code) Rule {
	return Rule{Scope: TenancyScope(), Allow: permission.AnyOf(codes...)}
}

// AtOrganisation is an organisation-scope rule.
func AtOrganisation(orgID string, codes ...permission.Code) Rule {
	return Rule{Scope: OrganisationScope(orgID), Allow: permission.AnyOf(codes...)}
}

// Authorize returns nil when principal may act under rule, or a Forbidden
// refinement (apperr.ErrNotAMember, apperr.ErrInsufficientPermission).
func Authorize(t models.Tenancy, principal string, rule Rule) error {
	m, ok := t.Users[principal]
	if !ok {
		return apperr.ErrNotAMember
	}
	if m.Status != models.StatusMember {
		return apperr.ErrInsufficientPermission
	}
	held := m.TenancyPermissions
	if rule.Scope.IsOrganisation() {
		held = m.OrganisationPermissions[rule.Scope.OrganisationID]
	}
	if !rule.Allow.GrantedBy(held) {
		return apperr.ErrInsufficientPermission
	}
	return nil
}

// AuthorizeAny grants when any rule grants. With no rules it only requires
// an active membership.
func AuthorizeAny(t models.Tenancy, principal string, rules ...Rule) error {
	if len(rules) == 0 {
		return Member(t, principal)
	}
	var err error
	for _, r := range rules {
		if err = Authorize(t, principal, r); err == nil {
			return nil
		}
		if errors.Is(err, apperr.ErrNotAMember) {
			return err
		}
	}
	return err
}

// Member requires an active membership and nothing else.
func Member(t models.Tenancy, principal string) error {
	m, ok := t.Users[principal]
	if !ok {
		return apperr.ErrNotAMember
	}
	if m.Status != models.StatusMember {
		return apperr.ErrInsufficientPermission
	}
	return nil
}
