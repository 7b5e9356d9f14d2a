package models

import (
	"maps"
	"time"

	"idsimplify/pkg/permission"
)

// User is the per-principal record holding back-references to tenancies.
type User struct {
	ID                 string                       `json:"id"`
	Created            time.Time                    `json:"created"`
	LastModified       time.Time                    `json:"lastModified"`
	Tenancies          map[string]TenancySummary    `json:"tenancies"`
	TenancyInvitations map[string]TenancyInvitation `json:"tenancyInvitations"`
	Version            int64                        `json:"version"`
}

// TenancySummary mirrors the user's membership in Tenancy.users.
type TenancySummary struct {
	Name        string         `json:"name"`
	Permissions permission.Set `json:"permissions"`
}

// TenancyInvitation records a pending membership.
type TenancyInvitation struct {
	Sent      time.Time `json:"sent"`
	InvitedBy string    `json:"invitedBy"`
}

// NewUser builds an empty user record.
func NewUser(id string, created time.Time) User {
	return User{
		ID:                 id,
		Created:            created,
		LastModified:       created,
		Tenancies:          map[string]TenancySummary{},
		TenancyInvitations: map[string]TenancyInvitation{},
	}
}

// Clone returns a deep copy.
func (u User) Clone() User {
	out := u
	out.Tenancies = make(map[string]TenancySummary, len(u.Tenancies))
	for id, s := range u.Tenancies {
		s.Permissions = s.Permissions.Clone()
		out.Tenancies[id] = s
	}
	out.TenancyInvitations = maps.Clone(u.TenancyInvitations)
	if out.TenancyInvitations == nil {
		out.TenancyInvitations = map[string]TenancyInvitation{}
	}
	return out
}

func (u User) touched(now time.Time) User {
	out := u.Clone()
	out.LastModified = now
	return out
}

// WithTenancy records membership in tenancyID.
func (u User) WithTenancy(tenancyID string, s TenancySummary, now time.Time) User {
	out := u.touched(now)
	s.Permissions = s.Permissions.Clone()
	out.Tenancies[tenancyID] = s
	return out
}

// WithoutTenancy drops the membership summary for tenancyID.
func (u User) WithoutTenancy(tenancyID string, now time.Time) User {
	out := u.touched(now)
	delete(out.Tenancies, tenancyID)
	return out
}

// WithInvitation records a pending invitation to tenancyID.
func (u User) WithInvitation(tenancyID string, inv TenancyInvitation, now time.Time) User {
	out := u.touched(now)
	out.TenancyInvitations[tenancyID] = inv
	return out
}

// WithoutInvitation drops the invitation to tenancyID.
func (u User) WithoutInvitation(tenancyID string, now time.Time) User {
	out := u.touched(now)
	delete(out.TenancyInvitations, tenancyID)
	return out
}
