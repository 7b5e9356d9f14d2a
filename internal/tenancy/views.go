package tenancy

import (
	"sort"
	"time"

	"idsimplify/pkg/models"
	"idsimplify/pkg/permission"
)

// Read-side projections. None of them carries a client secret.

type TenancyView struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Created           time.Time `json:"created"`
	LastModified      time.Time `json:"lastModified"`
	Permissions       []string  `json:"permissions"`
	OrganisationCount int       `json:"organisationCount"`
	MemberCount       int       `json:"memberCount"`
}

type MemberView struct {
	ID                      string              `json:"id"`
	Name                    string              `json:"name"`
	Email                   string              `json:"email"`
	Status                  models.MemberStatus `json:"status"`
	TenancyPermissions      []string            `json:"tenancyPermissions"`
	OrganisationPermissions map[string][]string `json:"organisationPermissions"`
}

type OrganisationView struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	IntegrationCount int      `json:"integrationCount"`
	Permissions      []string `json:"permissions"`
}

type OrganisationDetail struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Permissions  []string          `json:"permissions"`
	UserCount    int               `json:"userCount"`
	Integrations []IntegrationView `json:"integrations"`
}

type OrganisationMemberView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
}

// IntegrationView carries tenant and client identifiers only for tenancy
// admins.
type IntegrationView struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Type     models.IntegrationType `json:"type"`
	TenantID string                 `json:"tenantId,omitempty"`
	ClientID string                 `json:"clientId,omitempty"`
}

type UserTenancyView struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

type InvitationView struct {
	TenancyID     string    `json:"tenancyId"`
	TenancyName   string    `json:"tenancyName"`
	InvitedBy     string    `json:"invitedBy"`
	InvitedByName string    `json:"invitedByName"`
	Sent          time.Time `json:"sent"`
}

func integrationView(in models.Integration, privileged bool) IntegrationView {
	v := IntegrationView{ID: in.ID, Name: in.Name, Type: in.Type}
	if privileged {
		v.TenantID = in.Credentials.TenantID
		v.ClientID = in.Credentials.ClientID
	}
	return v
}

func integrationViews(o models.Organisation, privileged bool) []IntegrationView {
	out := make([]IntegrationView, 0, len(o.Integrations))
	for _, in := range o.Integrations {
		out = append(out, integrationView(in, privileged))
	}
	sort.Slice(out, func(i, j int) bool { return byNameThenID(out[i].Name, out[i].ID, out[j].Name, out[j].ID) })
	return out
}

func strs(s permission.Set) []string {
	if s == nil {
		return []string{}
	}
	return s.Strings()
}

func byNameThenID(ni, ii, nj, ij string) bool {
	if ni != nj {
		return ni < nj
	}
	return ii < ij
}
