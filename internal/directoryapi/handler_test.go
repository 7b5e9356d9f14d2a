package directoryapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"idsimplify/internal/tenancy"
	"idsimplify/pkg/apperr"
	"idsimplify/pkg/config"
	"idsimplify/pkg/directory"
	"idsimplify/pkg/identity"
	"idsimplify/pkg/middleware"
	"idsimplify/pkg/models"
	"idsimplify/pkg/openapi"
	"idsimplify/pkg/permission"
	"idsimplify/pkg/secrets"
	"idsimplify/pkg/store"
	"idsimplify/pkg/validate"
)

// fakeDirectory records the credentials and arguments of each call.
type fakeDirectory struct {
	mu      sync.Mutex
	creds   []models.Credentials
	enabled map[string]bool
	groups  []directory.NewGroup
	deleted []string
	err     error
}

func (f *fakeDirectory) seen(c models.Credentials) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = append(f.creds, c)
}

func (f *fakeDirectory) ListUsers(_ context.Context, c models.Credentials) ([]any, error) {
	f.seen(c)
	if f.err != nil {
		return nil, f.err
	}
	return []any{map[string]any{"id": "d-1", "displayName": "Dana"}}, nil
}

func (f *fakeDirectory) GetUser(_ context.Context, c models.Credentials, id string) (directory.Object, error) {
	f.seen(c)
	if id == "missing" {
		return nil, apperr.New(apperr.ErrNotFound, "directory object does not exist")
	}
	return directory.Object{"id": id}, nil
}

func (f *fakeDirectory) UserGroups(_ context.Context, c models.Credentials, _ string) ([]any, error) {
	f.seen(c)
	return []any{}, nil
}

func (f *fakeDirectory) SetUserEnabled(_ context.Context, c models.Credentials, id string, enabled bool) error {
	f.seen(c)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled[id] = enabled
	return nil
}

func (f *fakeDirectory) CreateUser(_ context.Context, c models.Credentials, u directory.NewUser) (directory.Object, error) {
	f.seen(c)
	return directory.Object{"id": "d-2", "userPrincipalName": u.UserPrincipalName}, nil
}

func (f *fakeDirectory) ResetPassword(_ context.Context, c models.Credentials, _ string) (directory.Object, error) {
	f.seen(c)
	return directory.Object{"newPassword": "Temp-1234"}, nil
}

func (f *fakeDirectory) ListGroups(_ context.Context, c models.Credentials) ([]any, error) {
	f.seen(c)
	return []any{}, nil
}

func (f *fakeDirectory) GetGroup(_ context.Context, c models.Credentials, id string) (directory.Object, error) {
	f.seen(c)
	return directory.Object{"id": id}, nil
}

func (f *fakeDirectory) GroupMembers(_ context.Context, c models.Credentials, _ string) ([]any, error) {
	f.seen(c)
	return []any{}, nil
}

func (f *fakeDirectory) CreateGroup(_ context.Context, c models.Credentials, g directory.NewGroup) (directory.Object, error) {
	f.seen(c)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, g)
	return directory.Object{"id": "g-1", "displayName": g.DisplayName}, nil
}

func (f *fakeDirectory) DeleteGroup(_ context.Context, c models.Credentials, id string) error {
	f.seen(c)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeDirectory) Domains(_ context.Context, c models.Credentials) ([]any, error) {
	f.seen(c)
	return []any{map[string]any{"id": "contoso.com", "isDefault": true}}, nil
}

type env struct {
	t     *testing.T
	h     http.Handler
	dir   *fakeDirectory
	query string
}

// newEnv builds a tenancy owned by u1 with one organisation holding an Azure
// AD integration; u2 is a member granted the given codes on it.
func newEnv(t *testing.T, codes ...permission.Code) *env {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory(nil)
	idp := identity.NewStatic(
		identity.User{ID: "u1", Name: "Ada", Email: "ada@acme.com"},
		identity.User{ID: "u2", Name: "Ben", Email: "ben@acme.com"},
		identity.User{ID: "u3", Name: "Cy", Email: "cy@acme.com"},
	)
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	for _, id := range []string{"u1", "u2", "u3"} {
		require.NoError(t, mem.Commit(ctx, store.Changeset{PutUsers: []models.User{models.NewUser(id, now)}}))
	}
	sealer, err := secrets.NewSealer("test-key")
	require.NoError(t, err)
	svc := tenancy.New(tenancy.Deps{Store: mem, Identity: idp, Sealer: sealer, MutationAttempts: 3})

	ten, err := svc.CreateTenancy(ctx, "u1", "Acme Corp")
	require.NoError(t, err)
	org, err := svc.CreateOrganisation(ctx, ten.ID, "u1", "Contoso")
	require.NoError(t, err)
	_, err = svc.CreateIntegration(ctx, ten.ID, org.ID, "u1", tenancy.IntegrationInput{
		Name:        "Entra",
		Type:        models.IntegrationAzureAD,
		Credentials: models.Credentials{TenantID: "contoso", ClientID: "app-1", ClientSecret: "shh"},
	})
	require.NoError(t, err)
	_, err = svc.InviteUser(ctx, ten.ID, "u1", "ben@acme.com")
	require.NoError(t, err)
	require.NoError(t, svc.AcceptInvitation(ctx, ten.ID, "u2"))
	if len(codes) > 0 {
		raw := make([]string, len(codes))
		for i, c := range codes {
			raw[i] = string(c)
		}
		require.NoError(t, svc.AddOrganisationUser(ctx, ten.ID, org.ID, "u1", "u2", raw))
	}

	schemas, err := validate.Default()
	require.NoError(t, err)
	dir := &fakeDirectory{enabled: map[string]bool{}}
	r := chi.NewRouter()
	r.Use(middleware.Principal(config.Config{}))
	New(svc, dir, schemas, zap.NewNop().Sugar()).Mount(r, openapi.NewRegistry())
	return &env{t: t, h: r, dir: dir, query: "?tenancy-id=" + ten.ID + "&organisation-id=" + org.ID}
}

func (e *env) do(method, path, principal, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(middleware.PrincipalHeader, principal)
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func TestListUsers_UsesOpenedCredentials(t *testing.T) {
	e := newEnv(t, permission.DirectoryUsersRead)
	rec := e.do(http.MethodGet, "/integrations/users"+e.query, "u2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var users []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "Dana", users[0]["displayName"])

	require.Len(t, e.dir.creds, 1)
	assert.Equal(t, models.Credentials{TenantID: "contoso", ClientID: "app-1", ClientSecret: "shh"}, e.dir.creds[0])
}

func TestAuthorization(t *testing.T) {
	e := newEnv(t, permission.DirectoryUsersRead)
	cases := []struct {
		name, method, path, principal, body string
		status                              int
	}{
		{"reader lists users", "GET", "/integrations/users", "u2", "", http.StatusOK},
		{"reader lists domains", "GET", "/integrations/domains", "u2", "", http.StatusOK},
		{"reader cannot disable", "POST", "/integrations/users/d-1/disable", "u2", "", http.StatusForbidden},
		{"reader cannot list groups", "GET", "/integrations/groups", "u2", "", http.StatusForbidden},
		{"non-member", "GET", "/integrations/users", "u3", "", http.StatusForbidden},
		{"tenancy admin without org grant", "GET", "/integrations/users", "u1", "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := e.do(tc.method, tc.path+e.query, tc.principal, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestOrganisationAdminMayDoEverything(t *testing.T) {
	e := newEnv(t, permission.OrganisationAdmin)

	rec := e.do(http.MethodPost, "/integrations/users/d-1/disable"+e.query, "u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, e.dir.enabled["d-1"])
	rec = e.do(http.MethodPost, "/integrations/users/d-1/enable"+e.query, "u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, e.dir.enabled["d-1"])

	rec = e.do(http.MethodPost, "/integrations/groups"+e.query, "u2", `{"displayName":"Sales","mailNickname":"sales"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, e.dir.groups, 1)
	assert.Equal(t, "sales", e.dir.groups[0].MailNickname)

	rec = e.do(http.MethodDelete, "/integrations/groups/g-1"+e.query, "u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"g-1"}, e.dir.deleted)

	rec = e.do(http.MethodPost, "/integrations/users/d-1/reset-password"+e.query, "u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Temp-1234")
}

func TestCreateUser_ValidatesBody(t *testing.T) {
	e := newEnv(t, permission.DirectoryUsersWrite)
	rec := e.do(http.MethodPost, "/integrations/users"+e.query, "u2", `{"displayName":"Dana"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodPost, "/integrations/users"+e.query, "u2",
		`{"givenName":"Dana","surname":"Scully","displayName":"Dana Scully","mailNickname":"dana","userPrincipalName":"dana@contoso.com","password":"Tr0ub4dor&3"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "dana@contoso.com")
}

func TestQueryAndProviderErrors(t *testing.T) {
	e := newEnv(t, permission.DirectoryUsersRead)

	rec := e.do(http.MethodGet, "/integrations/users?tenancy-id=x", "u2", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = e.do(http.MethodGet, "/integrations/users/missing"+e.query, "u2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	e.dir.err = apperr.Provider("directory", directory.ErrAuthentication)
	rec = e.do(http.MethodGet, "/integrations/users"+e.query, "u2", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "shh")
}
