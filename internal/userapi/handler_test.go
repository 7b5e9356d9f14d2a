package userapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"idsimplify/internal/tenancy"
	"idsimplify/pkg/config"
	"idsimplify/pkg/identity"
	"idsimplify/pkg/middleware"
	"idsimplify/pkg/openapi"
	"idsimplify/pkg/store"
	"idsimplify/pkg/validate"
)

type env struct {
	t   *testing.T
	svc *tenancy.Service
	h   http.Handler
}

func newEnv(t *testing.T, provisioner string) *env {
	t.Helper()
	idp := identity.NewStatic(
		identity.User{ID: "u1", Name: "Ada Admin", Email: "ada@acme.com"},
		identity.User{ID: "u2", Name: "Ben Guest", Email: "ben@acme.com"},
	)
	schemas, err := validate.Default()
	require.NoError(t, err)
	svc := tenancy.New(tenancy.Deps{
		Store:            store.NewMemory(nil),
		Identity:         idp,
		ProvisionerID:    provisioner,
		MutationAttempts: 3,
		Now:              func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) },
	})
	r := chi.NewRouter()
	r.Use(middleware.Principal(config.Config{}))
	New(svc, schemas, zap.NewNop().Sugar()).Mount(r, openapi.NewRegistry())
	return &env{t: t, svc: svc, h: r}
}

func (e *env) do(method, path, principal, body string) *httptest.ResponseRecorder {
	e.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(middleware.PrincipalHeader, principal)
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func (e *env) register(id string) {
	e.t.Helper()
	rec := e.do(http.MethodPost, "/user", id, `{"userId":"`+id+`","createdAt":"1714555800000"}`)
	require.Equal(e.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCreateUser(t *testing.T) {
	e := newEnv(t, "")
	rec := e.do(http.MethodPost, "/user", "u1", `{"userId":"u1","createdAt":"2024-05-01T09:30:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body createdUser
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "u1", body.ID)
	assert.True(t, body.Created.Equal(time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)))

	rec = e.do(http.MethodPost, "/user", "u1", `{"userId":"u1","createdAt":"2024-05-01T09:30:00Z"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = e.do(http.MethodPost, "/user", "u1", `{"userId":"u2","createdAt":"2024-05-01T09:30:00Z"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/user", "u3", `{"userId":"u3","createdAt":"yesterday"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateUser_Provisioner(t *testing.T) {
	e := newEnv(t, "cognito-trigger")
	rec := e.do(http.MethodPost, "/user", "cognito-trigger", `{"userId":"u9","createdAt":"1714555800000"}`)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodPost, "/user", "u8", `{"userId":"u8","createdAt":"1714555800000"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInvitationFlow(t *testing.T) {
	e := newEnv(t, "")
	e.register("u1")
	e.register("u2")
	ctx := context.Background()
	ten, err := e.svc.CreateTenancy(ctx, "u1", "Acme Corp")
	require.NoError(t, err)
	_, err = e.svc.InviteUser(ctx, ten.ID, "u1", "ben@acme.com")
	require.NoError(t, err)

	rec := e.do(http.MethodGet, "/users/me/invitations", "u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var invs []tenancy.InvitationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invs))
	require.Len(t, invs, 1)
	assert.Equal(t, "Acme Corp", invs[0].TenancyName)
	assert.Equal(t, "Ada Admin", invs[0].InvitedByName)

	rec = e.do(http.MethodGet, "/users/u2/invitations", "u1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(http.MethodPost, "/users/u2/invitations/"+ten.ID+"/accept", "u1", "")
	assert.Equal(t, http.StatusForbidden, rec.Code, "only the invitee may answer")

	rec = e.do(http.MethodPost, "/users/u2/invitations/"+ten.ID+"/accept", "u2", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(http.MethodPost, "/users/me/invitations/"+ten.ID+"/decline", "u2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = e.do(http.MethodGet, "/users/me/tenancies", "u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tens []tenancy.UserTenancyView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tens))
	require.Len(t, tens, 1)
	assert.Equal(t, ten.ID, tens[0].ID)
	assert.Empty(t, tens[0].Permissions)
}

func TestDeclineInvitation(t *testing.T) {
	e := newEnv(t, "")
	e.register("u1")
	e.register("u2")
	ctx := context.Background()
	ten, err := e.svc.CreateTenancy(ctx, "u1", "Acme Corp")
	require.NoError(t, err)
	_, err = e.svc.InviteUser(ctx, ten.ID, "u1", "ben@acme.com")
	require.NoError(t, err)

	rec := e.do(http.MethodPost, "/users/me/invitations/"+ten.ID+"/decline", "u2", "")
	require.Equal(t, http.StatusOK, rec.Code)

	users, err := e.svc.GetTenancyUsers(ctx, ten.ID, "u1")
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "u1", users[0].ID)
}
