package tenancy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/identity"
	"idsimplify/pkg/models"
	"idsimplify/pkg/permission"
)

// GetTenancy summarises a tenancy for any active member.
func (s *Service) GetTenancy(ctx context.Context, tenancyID, principal string) (TenancyView, error) {
	t, err := s.loadAuthorized(ctx, tenancyID, principal)
	if err != nil {
		return TenancyView{}, fmt.Errorf("get tenancy: %w", err)
	}
	return TenancyView{
		ID:                t.ID,
		Name:              t.Name,
		Created:           t.Created,
		LastModified:      t.LastModified,
		Permissions:       strs(t.Users[principal].TenancyPermissions),
		OrganisationCount: len(t.Organisations),
		MemberCount:       len(t.Users),
	}, nil
}

// GetTenancyUsers lists every membership, pending included, for admins.
func (s *Service) GetTenancyUsers(ctx context.Context, tenancyID, principal string) ([]MemberView, error) {
	t, err := s.loadAuthorized(ctx, tenancyID, principal, tenancyAdmin())
	if err != nil {
		return nil, fmt.Errorf("get tenancy users: %w", err)
	}
	ids := memberIDs(t, "")
	people, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get tenancy users: %w", err)
	}
	out := make([]MemberView, 0, len(ids))
	for _, id := range ids {
		m := t.Users[id]
		orgs := make(map[string][]string, len(m.OrganisationPermissions))
		for orgID, set := range m.OrganisationPermissions {
			orgs[orgID] = strs(set)
		}
		out = append(out, MemberView{
			ID:                      id,
			Name:                    people[id].Name,
			Email:                   people[id].Email,
			Status:                  m.Status,
			TenancyPermissions:      strs(m.TenancyPermissions),
			OrganisationPermissions: orgs,
		})
	}
	return out, nil
}

// GetOrganisations lists organisations visible to principal: all of them
// for tenancy admins, otherwise those principal holds a grant on.
func (s *Service) GetOrganisations(ctx context.Context, tenancyID, principal string) ([]OrganisationView, error) {
	t, err := s.loadAuthorized(ctx, tenancyID, principal)
	if err != nil {
		return nil, fmt.Errorf("get organisations: %w", err)
	}
	m := t.Users[principal]
	admin := m.IsAdmin()
	out := []OrganisationView{}
	for id, o := range t.Organisations {
		held := m.OrganisationPermissions[id]
		if !admin && len(held) == 0 {
			continue
		}
		out = append(out, OrganisationView{ID: id, Name: o.Name, IntegrationCount: len(o.Integrations), Permissions: strs(held)})
	}
	sort.Slice(out, func(i, j int) bool { return byNameThenID(out[i].Name, out[i].ID, out[j].Name, out[j].ID) })
	return out, nil
}

func (s *Service) loadOrganisation(ctx context.Context, tenancyID, orgID, principal string) (models.Tenancy, models.Organisation, error) {
	t, err := s.loadAuthorized(ctx, tenancyID, principal, readOrganisation(orgID)...)
	if err != nil {
		return models.Tenancy{}, models.Organisation{}, err
	}
	o, ok := t.Organisations[orgID]
	if !ok {
		return models.Tenancy{}, models.Organisation{}, apperr.ErrOrganisationNotFound
	}
	return t, o, nil
}

func (s *Service) GetOrganisation(ctx context.Context, tenancyID, orgID, principal string) (OrganisationDetail, error) {
	t, o, err := s.loadOrganisation(ctx, tenancyID, orgID, principal)
	if err != nil {
		return OrganisationDetail{}, fmt.Errorf("get organisation: %w", err)
	}
	users := 0
	for _, m := range t.Users {
		if _, ok := m.OrganisationPermissions[orgID]; ok {
			users++
		}
	}
	return OrganisationDetail{
		ID:           o.ID,
		Name:         o.Name,
		Permissions:  strs(t.Users[principal].OrganisationPermissions[orgID]),
		UserCount:    users,
		Integrations: integrationViews(o, t.Users[principal].IsAdmin()),
	}, nil
}

// GetOrganisationUsers lists members holding grants on orgID with names
// and emails resolved.
func (s *Service) GetOrganisationUsers(ctx context.Context, tenancyID, orgID, principal string) ([]OrganisationMemberView, error) {
	t, _, err := s.loadOrganisation(ctx, tenancyID, orgID, principal)
	if err != nil {
		return nil, fmt.Errorf("get organisation users: %w", err)
	}
	var ids []string
	for id, m := range t.Users {
		if _, ok := m.OrganisationPermissions[orgID]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	people, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get organisation users: %w", err)
	}
	out := make([]OrganisationMemberView, 0, len(ids))
	for _, id := range ids {
		out = append(out, OrganisationMemberView{
			ID:          id,
			Name:        people[id].Name,
			Email:       people[id].Email,
			Permissions: strs(t.Users[id].OrganisationPermissions[orgID]),
		})
	}
	return out, nil
}

func (s *Service) GetOrganisationIntegrations(ctx context.Context, tenancyID, orgID, principal string) ([]IntegrationView, error) {
	t, o, err := s.loadOrganisation(ctx, tenancyID, orgID, principal)
	if err != nil {
		return nil, fmt.Errorf("get organisation integrations: %w", err)
	}
	return integrationViews(o, t.Users[principal].IsAdmin()), nil
}

// GetUserTenancies lists the tenancies userID is an active member of. A
// principal may only read their own.
func (s *Service) GetUserTenancies(ctx context.Context, principal, userID string) ([]UserTenancyView, error) {
	u, err := s.loadSelf(ctx, principal, userID)
	if err != nil {
		return nil, fmt.Errorf("get user tenancies: %w", err)
	}
	out := make([]UserTenancyView, 0, len(u.Tenancies))
	for id, sum := range u.Tenancies {
		out = append(out, UserTenancyView{ID: id, Name: sum.Name, Permissions: strs(sum.Permissions)})
	}
	sort.Slice(out, func(i, j int) bool { return byNameThenID(out[i].Name, out[i].ID, out[j].Name, out[j].ID) })
	return out, nil
}

// GetTenancyInvitations lists userID's pending invitations. Invitations to
// tenancies that no longer exist are skipped.
func (s *Service) GetTenancyInvitations(ctx context.Context, principal, userID string) ([]InvitationView, error) {
	u, err := s.loadSelf(ctx, principal, userID)
	if err != nil {
		return nil, fmt.Errorf("get tenancy invitations: %w", err)
	}
	var (
		mu      sync.Mutex
		out     = make([]InvitationView, 0, len(u.TenancyInvitations))
		inviter = make([]string, 0, len(u.TenancyInvitations))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookups)
	for id, inv := range u.TenancyInvitations {
		g.Go(func() error {
			t, err := s.store.GetTenancy(gctx, id)
			if errors.Is(err, apperr.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			out = append(out, InvitationView{TenancyID: id, TenancyName: t.Name, InvitedBy: inv.InvitedBy, Sent: inv.Sent})
			inviter = append(inviter, inv.InvitedBy)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("get tenancy invitations: %w", err)
	}
	people, err := s.resolve(ctx, inviter)
	if err != nil {
		return nil, fmt.Errorf("get tenancy invitations: %w", err)
	}
	for i := range out {
		out[i].InvitedByName = people[out[i].InvitedBy].Name
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sent.Before(out[j].Sent) || (out[i].Sent.Equal(out[j].Sent) && out[i].TenancyID < out[j].TenancyID) })
	return out, nil
}

func (s *Service) loadSelf(ctx context.Context, principal, userID string) (models.User, error) {
	if principal != userID {
		return models.User{}, apperr.ErrInsufficientPermission
	}
	return s.store.GetUser(ctx, userID)
}

// DirectoryCredentials authorizes principal for a directory action on orgID
// and returns the organisation's first Azure AD credentials with the secret
// opened.
func (s *Service) DirectoryCredentials(ctx context.Context, tenancyID, orgID, principal string, code permission.Code) (models.Credentials, error) {
	t, err := s.loadAuthorized(ctx, tenancyID, principal, directoryRule(orgID, code))
	if err != nil {
		return models.Credentials{}, err
	}
	o, ok := t.Organisations[orgID]
	if !ok {
		return models.Credentials{}, apperr.ErrOrganisationNotFound
	}
	// first by id, so the choice is stable
	ids := make([]string, 0, len(o.Integrations))
	for id := range o.Integrations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		in := o.Integrations[id]
		if in.Type != models.IntegrationAzureAD {
			continue
		}
		creds := in.Credentials
		secret, err := s.sealer.Open(creds.ClientSecret)
		if err != nil {
			s.log.Errorw("integration secret could not be opened", "tenancy_id", tenancyID, "organisation_id", orgID, "integration_id", id, "err", err)
			return models.Credentials{}, apperr.Provider("open integration secret", err)
		}
		creds.ClientSecret = secret
		return creds, nil
	}
	return models.Credentials{}, apperr.ErrIntegrationNotFound
}

// memberIDs returns the sorted ids of t's members with the given status, or
// of all members when status is empty.
func memberIDs(t models.Tenancy, status models.MemberStatus) []string {
	ids := make([]string, 0, len(t.Users))
	for id, m := range t.Users {
		if status == "" || m.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// loadUsers fetches user records concurrently. Missing records are left out.
func (s *Service) loadUsers(ctx context.Context, ids []string) (map[string]models.User, error) {
	var mu sync.Mutex
	out := make(map[string]models.User, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookups)
	for _, id := range ids {
		g.Go(func() error {
			u, err := s.store.GetUser(gctx, id)
			if errors.Is(err, apperr.ErrNotFound) {
				s.log.Warnw("member without user record", "user_id", id)
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = u
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// resolve looks up names and emails concurrently. Unknown users resolve to
// the zero identity.User; any other failure fails the whole call with
// apperr.ErrProviderUnavailable.
func (s *Service) resolve(ctx context.Context, ids []string) (map[string]identity.User, error) {
	var mu sync.Mutex
	out := make(map[string]identity.User, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.lookups)
	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		g.Go(func() error {
			u, err := s.identity.GetUserByID(gctx, id)
			switch {
			case errors.Is(err, apperr.ErrNotFound):
				return nil
			case errors.Is(err, apperr.ErrProviderUnavailable):
				return err
			case err != nil:
				return apperr.Provider("identity lookup", err)
			}
			mu.Lock()
			out[id] = u
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Errorw("identity lookups failed", "err", err)
		return nil, err
	}
	return out, nil
}
