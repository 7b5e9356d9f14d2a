// Package models holds the Tenancy and User aggregates. Both are treated as
// immutable snapshots: every transform returns a modified deep copy and
// leaves the receiver untouched.
package models

import (
	"maps"
	"time"

	"idsimplify/pkg/permission"
)

// MemberStatus is the state of a user's membership in a tenancy.
type MemberStatus string

const (
	StatusMember  MemberStatus = "member"
	StatusPending MemberStatus = "pending"
)

// IntegrationType enumerates supported directory providers.
type IntegrationType string

const IntegrationAzureAD IntegrationType = "Microsoft Azure AD"

// Tenancy is the top-level workspace document.
type Tenancy struct {
	ID            string                  `json:"id"`
	Name          string                  `json:"name"`
	CreatedByID   string                  `json:"createdById"`
	Created       time.Time               `json:"created"`
	LastModified  time.Time               `json:"lastModified"`
	Organisations map[string]Organisation `json:"organisations"`
	Users         map[string]Membership   `json:"users"`
	Version       int64                   `json:"version"`
}

// Membership is a user's status and grants within one tenancy.
type Membership struct {
	Status                  MemberStatus              `json:"status"`
	TenancyPermissions      permission.Set            `json:"tenancyPermissions"`
	OrganisationPermissions map[string]permission.Set `json:"organisationPermissions"`
}

// Organisation is a sub-unit of a tenancy owning integrations.
type Organisation struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Integrations map[string]Integration `json:"integrations"`
}

// Integration binds an organisation to an external directory.
type Integration struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        IntegrationType `json:"type"`
	Credentials Credentials     `json:"credentials"`
}

// Credentials are owned by the tenancy document. ClientSecret holds the
// sealed form produced by pkg/secrets.
type Credentials struct {
	TenantID     string `json:"tenantId"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

// NewTenancy builds a tenancy whose creator is the sole admin member.
func NewTenancy(id, name, creatorID string, now time.Time) Tenancy {
	return Tenancy{
		ID:            id,
		Name:          name,
		CreatedByID:   creatorID,
		Created:       now,
		LastModified:  now,
		Organisations: map[string]Organisation{},
		Users: map[string]Membership{
			creatorID: {
				Status:                  StatusMember,
				TenancyPermissions:      permission.NewSet(permission.TenancyAdmin),
				OrganisationPermissions: map[string]permission.Set{},
			},
		},
	}
}

// Clone returns a deep copy.
func (t Tenancy) Clone() Tenancy {
	out := t
	out.Organisations = make(map[string]Organisation, len(t.Organisations))
	for id, o := range t.Organisations {
		out.Organisations[id] = o.clone()
	}
	out.Users = make(map[string]Membership, len(t.Users))
	for id, m := range t.Users {
		out.Users[id] = m.clone()
	}
	return out
}

func (o Organisation) clone() Organisation {
	out := o
	out.Integrations = maps.Clone(o.Integrations)
	if out.Integrations == nil {
		out.Integrations = map[string]Integration{}
	}
	return out
}

func (m Membership) clone() Membership {
	out := m
	out.TenancyPermissions = m.TenancyPermissions.Clone()
	out.OrganisationPermissions = make(map[string]permission.Set, len(m.OrganisationPermissions))
	for id, s := range m.OrganisationPermissions {
		out.OrganisationPermissions[id] = s.Clone()
	}
	return out
}

// IsAdmin reports whether the membership is active and holds TenancyAdmin.
func (m Membership) IsAdmin() bool {
	return m.Status == StatusMember && m.TenancyPermissions.Has(permission.TenancyAdmin)
}

// AdminCount counts active admins, ignoring the excluded user id.
func (t Tenancy) AdminCount(exclude string) int {
	n := 0
	for id, m := range t.Users {
		if id != exclude && m.IsAdmin() {
			n++
		}
	}
	return n
}

func (t Tenancy) touched(now time.Time) Tenancy {
	out := t.Clone()
	out.LastModified = now
	return out
}

// Renamed returns t with a new name.
func (t Tenancy) Renamed(name string, now time.Time) Tenancy {
	out := t.touched(now)
	out.Name = name
	return out
}

// WithMember returns t with userID's membership set to m.
func (t Tenancy) WithMember(userID string, m Membership, now time.Time) Tenancy {
	out := t.touched(now)
	out.Users[userID] = m.clone()
	return out
}

// WithoutMember returns t without userID's membership.
func (t Tenancy) WithoutMember(userID string, now time.Time) Tenancy {
	out := t.touched(now)
	delete(out.Users, userID)
	return out
}

// WithOrganisation adds org and grants grantee the given codes on it.
func (t Tenancy) WithOrganisation(org Organisation, grantee string, grant permission.Set, now time.Time) Tenancy {
	out := t.touched(now)
	out.Organisations[org.ID] = org.clone()
	if m, ok := out.Users[grantee]; ok {
		m.OrganisationPermissions[org.ID] = grant.Clone()
		out.Users[grantee] = m
	}
	return out
}

// WithOrganisationRenamed returns t with organisation orgID renamed.
func (t Tenancy) WithOrganisationRenamed(orgID, name string, now time.Time) Tenancy {
	out := t.touched(now)
	if o, ok := out.Organisations[orgID]; ok {
		o.Name = name
		out.Organisations[orgID] = o
	}
	return out
}

// WithoutOrganisation removes orgID and every member's grants scoped to it.
func (t Tenancy) WithoutOrganisation(orgID string, now time.Time) Tenancy {
	out := t.touched(now)
	delete(out.Organisations, orgID)
	for id, m := range out.Users {
		if _, ok := m.OrganisationPermissions[orgID]; ok {
			delete(m.OrganisationPermissions, orgID)
			out.Users[id] = m
		}
	}
	return out
}

// WithOrganisationGrant sets userID's grants on orgID.
func (t Tenancy) WithOrganisationGrant(userID, orgID string, grant permission.Set, now time.Time) Tenancy {
	out := t.touched(now)
	if m, ok := out.Users[userID]; ok {
		m.OrganisationPermissions[orgID] = grant.Clone()
		out.Users[userID] = m
	}
	return out
}

// WithoutOrganisationGrant removes userID's grants on orgID.
func (t Tenancy) WithoutOrganisationGrant(userID, orgID string, now time.Time) Tenancy {
	out := t.touched(now)
	if m, ok := out.Users[userID]; ok {
		delete(m.OrganisationPermissions, orgID)
		out.Users[userID] = m
	}
	return out
}

// WithTenancyPermissions replaces userID's tenancy-level grants.
func (t Tenancy) WithTenancyPermissions(userID string, grant permission.Set, now time.Time) Tenancy {
	out := t.touched(now)
	if m, ok := out.Users[userID]; ok {
		m.TenancyPermissions = grant.Clone()
		out.Users[userID] = m
	}
	return out
}

// WithIntegration adds integ under orgID.
func (t Tenancy) WithIntegration(orgID string, integ Integration, now time.Time) Tenancy {
	out := t.touched(now)
	if o, ok := out.Organisations[orgID]; ok {
		o.Integrations[integ.ID] = integ
		out.Organisations[orgID] = o
	}
	return out
}

// WithoutIntegration removes integID from orgID.
func (t Tenancy) WithoutIntegration(orgID, integID string, now time.Time) Tenancy {
	out := t.touched(now)
	if o, ok := out.Organisations[orgID]; ok {
		delete(o.Integrations, integID)
		out.Organisations[orgID] = o
	}
	return out
}

// Accepted flips userID's pending membership to member.
func (t Tenancy) Accepted(userID string, now time.Time) Tenancy {
	out := t.touched(now)
	if m, ok := out.Users[userID]; ok {
		m.Status = StatusMember
		out.Users[userID] = m
	}
	return out
}

// PendingMembership is the entry added for an invited user.
func PendingMembership() Membership {
	return Membership{
		Status:                  StatusPending,
		TenancyPermissions:      permission.Set{},
		OrganisationPermissions: map[string]permission.Set{},
	}
}
