package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/identity"
	"idsimplify/pkg/models"
	"idsimplify/pkg/notify"
	"idsimplify/pkg/permission"
	"idsimplify/pkg/store"
)

func requireName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperr.InputInvalid("name must not be empty")
	}
	return nil
}

// CreateTenancy creates a tenancy with creatorID as its sole admin. A
// collision on the generated id fails with apperr.ErrAlreadyExists and is
// not retried.
func (s *Service) CreateTenancy(ctx context.Context, creatorID, name string) (models.Tenancy, error) {
	if err := requireName(name); err != nil {
		return models.Tenancy{}, err
	}
	var created models.Tenancy
	err := s.mutate(ctx, "create_tenancy", func(ctx context.Context) (store.Changeset, error) {
		u, err := s.store.GetUser(ctx, creatorID)
		if err != nil {
			return store.Changeset{}, err
		}
		now := s.now()
		t := models.NewTenancy(s.newID(), name, creatorID, now)
		u = u.WithTenancy(t.ID, models.TenancySummary{Name: name, Permissions: permission.NewSet(permission.TenancyAdmin)}, now)
		created = t
		return store.Changeset{PutTenancies: []models.Tenancy{t}, PutUsers: []models.User{u}}, nil
	})
	if err != nil {
		return models.Tenancy{}, fmt.Errorf("create tenancy: %w", err)
	}
	created.Version = 1
	s.notifyUser(creatorID, func(u identity.User) notify.Message { return s.compose.TenancyCreated(u.Email, name) })
	return created, nil
}

// RenameTenancy renames the tenancy and every member's denormalised copy
// of the name.
func (s *Service) RenameTenancy(ctx context.Context, tenancyID, requester, name string) error {
	if err := requireName(name); err != nil {
		return err
	}
	err := s.mutate(ctx, "rename_tenancy", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin())
		if err != nil {
			return store.Changeset{}, err
		}
		now := s.now()
		cs := store.Changeset{PutTenancies: []models.Tenancy{t.Renamed(name, now)}}
		users, err := s.loadUsers(ctx, memberIDs(t, models.StatusMember))
		if err != nil {
			return store.Changeset{}, err
		}
		for _, u := range users {
			sum, ok := u.Tenancies[tenancyID]
			if !ok {
				continue
			}
			sum.Name = name
			cs.PutUsers = append(cs.PutUsers, u.WithTenancy(tenancyID, sum, now))
		}
		return cs, nil
	})
	if err != nil {
		return fmt.Errorf("rename tenancy: %w", err)
	}
	return nil
}

// DeleteTenancy removes the tenancy together with every member's summary
// and every invitee's invitation.
func (s *Service) DeleteTenancy(ctx context.Context, tenancyID, requester string) error {
	err := s.mutate(ctx, "delete_tenancy", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin())
		if err != nil {
			return store.Changeset{}, err
		}
		now := s.now()
		cs := store.Changeset{DeleteTenancies: []models.Tenancy{t}}
		users, err := s.loadUsers(ctx, memberIDs(t, ""))
		if err != nil {
			return store.Changeset{}, err
		}
		for id, u := range users {
			if t.Users[id].Status == models.StatusPending {
				cs.PutUsers = append(cs.PutUsers, u.WithoutInvitation(tenancyID, now))
			} else {
				cs.PutUsers = append(cs.PutUsers, u.WithoutTenancy(tenancyID, now))
			}
		}
		return cs, nil
	})
	if err != nil {
		return fmt.Errorf("delete tenancy: %w", err)
	}
	return nil
}

// CreateOrganisation adds an organisation and makes requester its admin.
func (s *Service) CreateOrganisation(ctx context.Context, tenancyID, requester, name string) (models.Organisation, error) {
	if err := requireName(name); err != nil {
		return models.Organisation{}, err
	}
	var org models.Organisation
	err := s.mutate(ctx, "create_organisation", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin())
		if err != nil {
			return store.Changeset{}, err
		}
		org = models.Organisation{ID: s.newID(), Name: name, Integrations: map[string]models.Integration{}}
		if _, dup := t.Organisations[org.ID]; dup {
			return store.Changeset{}, apperr.ErrAlreadyExists
		}
		t = t.WithOrganisation(org, requester, permission.NewSet(permission.OrganisationAdmin), s.now())
		return store.Changeset{PutTenancies: []models.Tenancy{t}}, nil
	})
	if err != nil {
		return models.Organisation{}, fmt.Errorf("create organisation: %w", err)
	}
	return org, nil
}

func (s *Service) RenameOrganisation(ctx context.Context, tenancyID, orgID, requester, name string) error {
	if err := requireName(name); err != nil {
		return err
	}
	err := s.mutate(ctx, "rename_organisation", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin())
		if err != nil {
			return store.Changeset{}, err
		}
		if _, ok := t.Organisations[orgID]; !ok {
			return store.Changeset{}, apperr.ErrOrganisationNotFound
		}
		return store.Changeset{PutTenancies: []models.Tenancy{t.WithOrganisationRenamed(orgID, name, s.now())}}, nil
	})
	if err != nil {
		return fmt.Errorf("rename organisation: %w", err)
	}
	return nil
}

// DeleteOrganisation removes the organisation and every member's grants
// scoped to it in one write.
func (s *Service) DeleteOrganisation(ctx context.Context, tenancyID, orgID, requester string) error {
	err := s.mutate(ctx, "delete_organisation", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin())
		if err != nil {
			return store.Changeset{}, err
		}
		if _, ok := t.Organisations[orgID]; !ok {
			return store.Changeset{}, apperr.ErrOrganisationNotFound
		}
		return store.Changeset{PutTenancies: []models.Tenancy{t.WithoutOrganisation(orgID, s.now())}}, nil
	})
	if err != nil {
		return fmt.Errorf("delete organisation: %w", err)
	}
	return nil
}

// InviteUser adds a pending membership for the user registered under
// email and records the invitation on their user record.
func (s *Service) InviteUser(ctx context.Context, tenancyID, requester, email string) (identity.User, error) {
	// authorize before resolving so callers cannot probe for addresses
	if _, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin()); err != nil {
		return identity.User{}, fmt.Errorf("invite user: %w", err)
	}
	invitee, err := s.identity.GetUserByEmail(ctx, email)
	if err != nil {
		return identity.User{}, fmt.Errorf("invite user: %w", err)
	}
	var tenancyName string
	err = s.mutate(ctx, "invite_user", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin())
		if err != nil {
			return store.Changeset{}, err
		}
		if _, ok := t.Users[invitee.ID]; ok {
			return store.Changeset{}, apperr.ErrAlreadyMember
		}
		u, err := s.store.GetUser(ctx, invitee.ID)
		if err != nil {
			return store.Changeset{}, err
		}
		now := s.now()
		tenancyName = t.Name
		return store.Changeset{
			PutTenancies: []models.Tenancy{t.WithMember(invitee.ID, models.PendingMembership(), now)},
			PutUsers:     []models.User{u.WithInvitation(tenancyID, models.TenancyInvitation{Sent: now, InvitedBy: requester}, now)},
		}, nil
	})
	if err != nil {
		return identity.User{}, fmt.Errorf("invite user: %w", err)
	}
	s.notifier.DispatchFunc(func(ctx context.Context) (notify.Message, error) {
		inviter, err := s.identity.GetUserByID(ctx, requester)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			s.log.Warnw("inviter lookup failed", "tenancy_id", tenancyID, "err", err)
		}
		return s.compose.Invited(invitee.Email, tenancyName, inviter.Name), nil
	})
	return invitee, nil
}

// RemoveUser removes target's membership or pending invitation. It refuses
// to remove the last admin.
func (s *Service) RemoveUser(ctx context.Context, tenancyID, requester, target string) error {
	var tenancyName string
	err := s.mutate(ctx, "remove_user", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin())
		if err != nil {
			return store.Changeset{}, err
		}
		m, ok := t.Users[target]
		if !ok {
			return store.Changeset{}, apperr.ErrUserNotInTenancy
		}
		if t.AdminCount(target) == 0 {
			return store.Changeset{}, apperr.ErrLastAdminViolation
		}
		now := s.now()
		tenancyName = t.Name
		cs := store.Changeset{PutTenancies: []models.Tenancy{t.WithoutMember(target, now)}}

		u, err := s.store.GetUser(ctx, target)
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			s.log.Warnw("removing member without user record", "tenancy_id", tenancyID, "user_id", target)
			return cs, nil
		case err != nil:
			return store.Changeset{}, err
		}
		if m.Status == models.StatusPending {
			u = u.WithoutInvitation(tenancyID, now)
		} else {
			u = u.WithoutTenancy(tenancyID, now)
		}
		cs.PutUsers = []models.User{u}
		return cs, nil
	})
	if err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	s.notifyUser(target, func(u identity.User) notify.Message { return s.compose.Removed(u.Email, tenancyName) })
	return nil
}

// SetTenancyPermissions replaces target's tenancy-level grants, keeping at
// least one admin.
func (s *Service) SetTenancyPermissions(ctx context.Context, tenancyID, requester, target string, codes []string) error {
	grant, err := permission.ParseSet(codes, permission.LevelTenancy)
	if err != nil {
		return apperr.InputInvalid("%v", err)
	}
	err = s.mutate(ctx, "set_tenancy_permissions", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin())
		if err != nil {
			return store.Changeset{}, err
		}
		m, ok := t.Users[target]
		if !ok || m.Status != models.StatusMember {
			return store.Changeset{}, apperr.ErrUserNotInTenancy
		}
		if !grant.Has(permission.TenancyAdmin) && t.AdminCount(target) == 0 {
			return store.Changeset{}, apperr.ErrLastAdminViolation
		}
		u, err := s.store.GetUser(ctx, target)
		if err != nil {
			return store.Changeset{}, err
		}
		now := s.now()
		return store.Changeset{
			PutTenancies: []models.Tenancy{t.WithTenancyPermissions(target, grant, now)},
			PutUsers:     []models.User{u.WithTenancy(tenancyID, models.TenancySummary{Name: t.Name, Permissions: grant}, now)},
		}, nil
	})
	if err != nil {
		return fmt.Errorf("set tenancy permissions: %w", err)
	}
	return nil
}

// AddOrganisationUser grants an active member codes on orgID.
func (s *Service) AddOrganisationUser(ctx context.Context, tenancyID, orgID, requester, target string, codes []string) error {
	grant, err := permission.ParseSet(codes, permission.LevelOrganisation)
	if err != nil {
		return apperr.InputInvalid("%v", err)
	}
	if len(grant) == 0 {
		return apperr.InputInvalid("at least one permission is required")
	}
	err = s.mutate(ctx, "add_organisation_user", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, manageOrganisation(orgID)...)
		if err != nil {
			return store.Changeset{}, err
		}
		if _, ok := t.Organisations[orgID]; !ok {
			return store.Changeset{}, apperr.ErrOrganisationNotFound
		}
		m, ok := t.Users[target]
		if !ok || m.Status != models.StatusMember {
			return store.Changeset{}, apperr.ErrUserNotInTenancy
		}
		if _, ok := m.OrganisationPermissions[orgID]; ok {
			return store.Changeset{}, apperr.ErrAlreadyInOrganisation
		}
		return store.Changeset{PutTenancies: []models.Tenancy{t.WithOrganisationGrant(target, orgID, grant, s.now())}}, nil
	})
	if err != nil {
		return fmt.Errorf("add organisation user: %w", err)
	}
	return nil
}

func (s *Service) RemoveOrganisationUser(ctx context.Context, tenancyID, orgID, requester, target string) error {
	err := s.mutate(ctx, "remove_organisation_user", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, manageOrganisation(orgID)...)
		if err != nil {
			return store.Changeset{}, err
		}
		if _, ok := t.Organisations[orgID]; !ok {
			return store.Changeset{}, apperr.ErrOrganisationNotFound
		}
		m, ok := t.Users[target]
		if !ok {
			return store.Changeset{}, apperr.ErrUserNotInTenancy
		}
		if _, ok := m.OrganisationPermissions[orgID]; !ok {
			return store.Changeset{}, apperr.ErrNotInOrganisation
		}
		return store.Changeset{PutTenancies: []models.Tenancy{t.WithoutOrganisationGrant(target, orgID, s.now())}}, nil
	})
	if err != nil {
		return fmt.Errorf("remove organisation user: %w", err)
	}
	return nil
}

// IntegrationInput is the create payload for an integration.
type IntegrationInput struct {
	Name        string                 `json:"name"`
	Type        models.IntegrationType `json:"type"`
	Credentials models.Credentials     `json:"credentials"`
}

// CreateIntegration stores an integration under orgID with its client
// secret sealed.
func (s *Service) CreateIntegration(ctx context.Context, tenancyID, orgID, requester string, in IntegrationInput) (IntegrationView, error) {
	if err := requireName(in.Name); err != nil {
		return IntegrationView{}, err
	}
	if in.Type != models.IntegrationAzureAD {
		return IntegrationView{}, apperr.InputInvalid("unsupported integration type %q", in.Type)
	}
	sealed, err := s.sealer.Seal(in.Credentials.ClientSecret)
	if err != nil {
		return IntegrationView{}, fmt.Errorf("create integration: seal secret: %w", err)
	}
	creds := in.Credentials
	creds.ClientSecret = sealed

	var integ models.Integration
	err = s.mutate(ctx, "create_integration", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin())
		if err != nil {
			return store.Changeset{}, err
		}
		org, ok := t.Organisations[orgID]
		if !ok {
			return store.Changeset{}, apperr.ErrOrganisationNotFound
		}
		integ = models.Integration{ID: s.newID(), Name: in.Name, Type: in.Type, Credentials: creds}
		if _, dup := org.Integrations[integ.ID]; dup {
			return store.Changeset{}, apperr.ErrAlreadyExists
		}
		return store.Changeset{PutTenancies: []models.Tenancy{t.WithIntegration(orgID, integ, s.now())}}, nil
	})
	if err != nil {
		return IntegrationView{}, fmt.Errorf("create integration: %w", err)
	}
	return integrationView(integ, true), nil
}

func (s *Service) DeleteIntegration(ctx context.Context, tenancyID, orgID, integrationID, requester string) error {
	err := s.mutate(ctx, "delete_integration", func(ctx context.Context) (store.Changeset, error) {
		t, err := s.loadAuthorized(ctx, tenancyID, requester, tenancyAdmin())
		if err != nil {
			return store.Changeset{}, err
		}
		org, ok := t.Organisations[orgID]
		if !ok {
			return store.Changeset{}, apperr.ErrOrganisationNotFound
		}
		if _, ok := org.Integrations[integrationID]; !ok {
			return store.Changeset{}, apperr.ErrIntegrationNotFound
		}
		return store.Changeset{PutTenancies: []models.Tenancy{t.WithoutIntegration(orgID, integrationID, s.now())}}, nil
	})
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	return nil
}

// AcceptInvitation turns principal's pending membership into an active one.
func (s *Service) AcceptInvitation(ctx context.Context, tenancyID, principal string) error {
	err := s.mutate(ctx, "accept_invitation", func(ctx context.Context) (store.Changeset, error) {
		t, u, err := s.loadInvitation(ctx, tenancyID, principal)
		if err != nil {
			return store.Changeset{}, err
		}
		now := s.now()
		t = t.Accepted(principal, now)
		u = u.WithoutInvitation(tenancyID, now).
			WithTenancy(tenancyID, models.TenancySummary{Name: t.Name, Permissions: t.Users[principal].TenancyPermissions}, now)
		return store.Changeset{PutTenancies: []models.Tenancy{t}, PutUsers: []models.User{u}}, nil
	})
	if err != nil {
		return fmt.Errorf("accept invitation: %w", err)
	}
	return nil
}

// DeclineInvitation drops principal's pending membership and invitation.
func (s *Service) DeclineInvitation(ctx context.Context, tenancyID, principal string) error {
	err := s.mutate(ctx, "decline_invitation", func(ctx context.Context) (store.Changeset, error) {
		t, u, err := s.loadInvitation(ctx, tenancyID, principal)
		if err != nil {
			return store.Changeset{}, err
		}
		now := s.now()
		return store.Changeset{
			PutTenancies: []models.Tenancy{t.WithoutMember(principal, now)},
			PutUsers:     []models.User{u.WithoutInvitation(tenancyID, now)},
		}, nil
	})
	if err != nil {
		return fmt.Errorf("decline invitation: %w", err)
	}
	return nil
}

func (s *Service) loadInvitation(ctx context.Context, tenancyID, principal string) (models.Tenancy, models.User, error) {
	u, err := s.store.GetUser(ctx, principal)
	if err != nil {
		return models.Tenancy{}, models.User{}, err
	}
	if _, ok := u.TenancyInvitations[tenancyID]; !ok {
		return models.Tenancy{}, models.User{}, apperr.ErrNoInvitation
	}
	t, err := s.store.GetTenancy(ctx, tenancyID)
	if err != nil {
		return models.Tenancy{}, models.User{}, err
	}
	if m, ok := t.Users[principal]; !ok || m.Status != models.StatusPending {
		return models.Tenancy{}, models.User{}, apperr.ErrNoInvitation
	}
	return t, u, nil
}

// CreateUser provisions the record for userID. Only the provisioner may
// call it for other principals; a duplicate id is a conflict.
func (s *Service) CreateUser(ctx context.Context, principal, userID, createdAt string) (models.User, error) {
	switch {
	case s.provisioner != "" && principal != s.provisioner:
		return models.User{}, apperr.ErrInsufficientPermission
	case s.provisioner == "" && principal != userID:
		return models.User{}, apperr.ErrInsufficientPermission
	}
	if strings.TrimSpace(userID) == "" {
		return models.User{}, apperr.InputInvalid("userId must not be empty")
	}
	created, err := parseCreatedAt(createdAt)
	if err != nil {
		return models.User{}, err
	}
	u := models.NewUser(userID, created)
	err = s.mutate(ctx, "create_user", func(context.Context) (store.Changeset, error) {
		return store.Changeset{PutUsers: []models.User{u}}, nil
	})
	if err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	u.Version = 1
	return u, nil
}

// parseCreatedAt accepts epoch milliseconds or RFC 3339.
func parseCreatedAt(v string) (time.Time, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, apperr.InputInvalid("createdAt must be epoch milliseconds or RFC 3339")
}

// notifyUser resolves userID's address off the request path and sends the
// message build returns.
func (s *Service) notifyUser(userID string, build func(identity.User) notify.Message) {
	s.notifier.DispatchFunc(func(ctx context.Context) (notify.Message, error) {
		u, err := s.identity.GetUserByID(ctx, userID)
		if err != nil {
			return notify.Message{}, err
		}
		return build(u), nil
	})
}
