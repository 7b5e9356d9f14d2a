package tenancy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/identity"
	"idsimplify/pkg/models"
	"idsimplify/pkg/permission"
	"idsimplify/pkg/store"
)

func TestGetOrganisationUsers_RequiresReadGrant(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	ten, err := f.svc.CreateTenancy(ctx, "u1", "Acme")
	require.NoError(t, err)
	f.join(t, ten.ID, "u1", "u2")
	f.join(t, ten.ID, "u1", "u3")
	org, err := f.svc.CreateOrganisation(ctx, ten.ID, "u1", "Sales")
	require.NoError(t, err)

	_, err = f.svc.GetOrganisationUsers(ctx, ten.ID, org.ID, "u2")
	require.ErrorIs(t, err, apperr.ErrForbidden)

	// directory grants alone do not confer organisation reads
	require.NoError(t, f.svc.AddOrganisationUser(ctx, ten.ID, org.ID, "u1", "u3", []string{"iD-P-10010"}))
	_, err = f.svc.GetOrganisationUsers(ctx, ten.ID, org.ID, "u3")
	require.ErrorIs(t, err, apperr.ErrInsufficientPermission)

	require.NoError(t, f.svc.AddOrganisationUser(ctx, ten.ID, org.ID, "u1", "u2", []string{"iD-P-10001"}))
	users, err := f.svc.GetOrganisationUsers(ctx, ten.ID, org.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, []OrganisationMemberView{
		{ID: "u1", Name: "User 1", Email: "user1@acme.com", Permissions: []string{"iD-P-10000"}},
		{ID: "u2", Name: "User 2", Email: "user2@acme.com", Permissions: []string{"iD-P-10001"}},
		{ID: "u3", Name: "User 3", Email: "user3@acme.com", Permissions: []string{"iD-P-10010"}},
	}, users)

	// organisation admins read too
	require.NoError(t, f.svc.RemoveOrganisationUser(ctx, ten.ID, org.ID, "u1", "u2"))
	require.NoError(t, f.svc.AddOrganisationUser(ctx, ten.ID, org.ID, "u1", "u2", []string{"iD-P-10000"}))
	_, err = f.svc.GetOrganisationUsers(ctx, ten.ID, org.ID, "u2")
	require.NoError(t, err)

	_, err = f.svc.GetOrganisationUsers(ctx, ten.ID, "missing", "u1")
	assert.ErrorIs(t, err, apperr.ErrOrganisationNotFound)
}

func TestGetTenancyUsers(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	ten, err := f.svc.CreateTenancy(ctx, "u1", "Acme")
	require.NoError(t, err)
	f.join(t, ten.ID, "u1", "u2")
	_, err = f.svc.InviteUser(ctx, ten.ID, "u1", "user3@acme.com")
	require.NoError(t, err)

	users, err := f.svc.GetTenancyUsers(ctx, ten.ID, "u1")
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, MemberView{
		ID: "u1", Name: "User 1", Email: "user1@acme.com", Status: models.StatusMember,
		TenancyPermissions: []string{"iD-P-1"}, OrganisationPermissions: map[string][]string{},
	}, users[0])
	assert.Equal(t, models.StatusPending, users[2].Status)
	assert.Empty(t, users[1].TenancyPermissions)

	_, err = f.svc.GetTenancyUsers(ctx, ten.ID, "u2")
	assert.ErrorIs(t, err, apperr.ErrInsufficientPermission)
}

func TestGetTenancyUsers_UnknownIdentityResolvesEmpty(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	ten, err := f.svc.CreateTenancy(ctx, "u1", "Acme")
	require.NoError(t, err)
	f.join(t, ten.ID, "u1", "u2")

	// u2 has left the identity platform
	f.svc.identity = identity.NewStatic(identity.User{ID: "u1", Name: "User 1", Email: "user1@acme.com"})

	users, err := f.svc.GetTenancyUsers(ctx, ten.ID, "u1")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "u2", users[1].ID)
	assert.Empty(t, users[1].Name)
	assert.Empty(t, users[1].Email)
}

func TestGetTenancyUsers_ProviderFailure(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	ten, err := f.svc.CreateTenancy(ctx, "u1", "Acme")
	require.NoError(t, err)
	f.svc.identity = brokenIdentity{}

	_, err = f.svc.GetTenancyUsers(ctx, ten.ID, "u1")
	assert.ErrorIs(t, err, apperr.ErrProviderUnavailable)
}

func TestGetOrganisations_Visibility(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	ten, err := f.svc.CreateTenancy(ctx, "u1", "Acme")
	require.NoError(t, err)
	f.join(t, ten.ID, "u1", "u2")
	support, err := f.svc.CreateOrganisation(ctx, ten.ID, "u1", "Support")
	require.NoError(t, err)
	sales, err := f.svc.CreateOrganisation(ctx, ten.ID, "u1", "Sales")
	require.NoError(t, err)
	require.NoError(t, f.svc.AddOrganisationUser(ctx, ten.ID, support.ID, "u1", "u2", []string{"iD-P-10001"}))

	all, err := f.svc.GetOrganisations(ctx, ten.ID, "u1")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Sales", all[0].Name)
	assert.Equal(t, "Support", all[1].Name)

	mine, err := f.svc.GetOrganisations(ctx, ten.ID, "u2")
	require.NoError(t, err)
	assert.Equal(t, []OrganisationView{{ID: support.ID, Name: "Support", Permissions: []string{"iD-P-10001"}}}, mine)

	detail, err := f.svc.GetOrganisation(ctx, ten.ID, sales.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, OrganisationDetail{
		ID: sales.ID, Name: "Sales", Permissions: []string{"iD-P-10000"}, UserCount: 1, Integrations: []IntegrationView{},
	}, detail)

	_, err = f.svc.GetOrganisation(ctx, ten.ID, sales.ID, "u2")
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestGetUserTenancies_SelfOnly(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	_, err := f.svc.GetUserTenancies(ctx, "u2", "u1")
	assert.ErrorIs(t, err, apperr.ErrInsufficientPermission)
	_, err = f.svc.GetTenancyInvitations(ctx, "u2", "u1")
	assert.ErrorIs(t, err, apperr.ErrInsufficientPermission)

	got, err := f.svc.GetUserTenancies(ctx, "u2", "u2")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetTenancyInvitations_SkipsDeletedTenancies(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	ten, err := f.svc.CreateTenancy(ctx, "u1", "Acme")
	require.NoError(t, err)
	_, err = f.svc.InviteUser(ctx, ten.ID, "u1", "user2@acme.com")
	require.NoError(t, err)

	u := f.user(t, "u2").WithInvitation("gone", models.TenancyInvitation{Sent: testNow, InvitedBy: "u1"}, testNow)
	require.NoError(t, f.store.Commit(ctx, store.Changeset{PutUsers: []models.User{u}}))

	invs, err := f.svc.GetTenancyInvitations(ctx, "u2", "u2")
	require.NoError(t, err)
	require.Len(t, invs, 1)
	assert.Equal(t, ten.ID, invs[0].TenancyID)
}

func TestDirectoryCredentials(t *testing.T) {
	f := newFixture(t, 3)
	ctx := context.Background()
	ten, err := f.svc.CreateTenancy(ctx, "u1", "Acme")
	require.NoError(t, err)
	f.join(t, ten.ID, "u1", "u2")
	f.join(t, ten.ID, "u1", "u3")
	org, err := f.svc.CreateOrganisation(ctx, ten.ID, "u1", "Sales")
	require.NoError(t, err)
	require.NoError(t, f.svc.AddOrganisationUser(ctx, ten.ID, org.ID, "u1", "u2", []string{"iD-P-10014"}))
	require.NoError(t, f.svc.AddOrganisationUser(ctx, ten.ID, org.ID, "u1", "u3", []string{"iD-P-10001"}))

	_, err = f.svc.DirectoryCredentials(ctx, ten.ID, org.ID, "u2", permission.DirectoryGroupsRead)
	require.ErrorIs(t, err, apperr.ErrIntegrationNotFound)

	_, err = f.svc.CreateIntegration(ctx, ten.ID, org.ID, "u1", IntegrationInput{
		Name: "Contoso", Type: models.IntegrationAzureAD,
		Credentials: models.Credentials{TenantID: "tenant-1", ClientID: "client-1", ClientSecret: "hunter22"},
	})
	require.NoError(t, err)

	creds, err := f.svc.DirectoryCredentials(ctx, ten.ID, org.ID, "u2", permission.DirectoryGroupsRead)
	require.NoError(t, err)
	assert.Equal(t, models.Credentials{TenantID: "tenant-1", ClientID: "client-1", ClientSecret: "hunter22"}, creds)

	// organisation admins hold every directory action
	_, err = f.svc.DirectoryCredentials(ctx, ten.ID, org.ID, "u1", permission.DirectoryGroupsDelete)
	require.NoError(t, err)

	_, err = f.svc.DirectoryCredentials(ctx, ten.ID, org.ID, "u2", permission.DirectoryGroupsCreate)
	assert.ErrorIs(t, err, apperr.ErrInsufficientPermission)
	_, err = f.svc.DirectoryCredentials(ctx, ten.ID, org.ID, "u3", permission.DirectoryUsersRead)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.svc.DirectoryCredentials(ctx, ten.ID, "missing", "u1", permission.DirectoryUsersRead)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
