// Package directoryapi proxies an organisation's Azure AD directory through
// Microsoft Graph, using the integration stored on the organisation.
package directoryapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"idsimplify/internal/httpx"
	"idsimplify/pkg/apperr"
	"idsimplify/pkg/directory"
	"idsimplify/pkg/models"
	"idsimplify/pkg/openapi"
	"idsimplify/pkg/permission"
	"idsimplify/pkg/validate"
)

// Directory is the slice of *directory.Graph the handlers call.
type Directory interface {
	ListUsers(ctx context.Context, creds models.Credentials) ([]any, error)
	GetUser(ctx context.Context, creds models.Credentials, id string) (directory.Object, error)
	UserGroups(ctx context.Context, creds models.Credentials, id string) ([]any, error)
	SetUserEnabled(ctx context.Context, creds models.Credentials, id string, enabled bool) error
	CreateUser(ctx context.Context, creds models.Credentials, u directory.NewUser) (directory.Object, error)
	ResetPassword(ctx context.Context, creds models.Credentials, id string) (directory.Object, error)
	ListGroups(ctx context.Context, creds models.Credentials) ([]any, error)
	GetGroup(ctx context.Context, creds models.Credentials, id string) (directory.Object, error)
	GroupMembers(ctx context.Context, creds models.Credentials, id string) ([]any, error)
	CreateGroup(ctx context.Context, creds models.Credentials, g directory.NewGroup) (directory.Object, error)
	DeleteGroup(ctx context.Context, creds models.Credentials, id string) error
	Domains(ctx context.Context, creds models.Credentials) ([]any, error)
}

// Authorizer resolves the credentials a principal may use for code on an
// organisation. *tenancy.Service implements it.
type Authorizer interface {
	DirectoryCredentials(ctx context.Context, tenancyID, orgID, principal string, code permission.Code) (models.Credentials, error)
}

const (
	tenancyParam      = "tenancy-id"
	organisationParam = "organisation-id"
)

type Handler struct {
	auth    Authorizer
	dir     Directory
	schemas *validate.Schemas
	log     *zap.SugaredLogger
}

func New(auth Authorizer, dir Directory, schemas *validate.Schemas, log *zap.SugaredLogger) *Handler {
	return &Handler{auth: auth, dir: dir, schemas: schemas, log: log}
}

// action is one directory call made with resolved credentials.
type action func(ctx context.Context, r *http.Request, creds models.Credentials) (any, error)

func (h *Handler) Mount(r chi.Router, reg *openapi.Registry) {
	const base = "/integrations"
	routes := []struct {
		method, path, summary string
		code                  permission.Code
		schema                string
		run                   action
	}{
		{"GET", base + "/users", "List directory users", permission.DirectoryUsersRead, "", h.listUsers},
		{"POST", base + "/users", "Create a directory user", permission.DirectoryUsersWrite, validate.DirectoryUser, h.createUser},
		{"GET", base + "/users/{userId}", "Get a directory user", permission.DirectoryUsersRead, "", h.getUser},
		{"GET", base + "/users/{userId}/groups", "List a directory user's groups", permission.DirectoryUsersRead, "", h.userGroups},
		{"POST", base + "/users/{userId}/enable", "Enable a directory user", permission.DirectoryUsersWrite, "", h.enable(true)},
		{"POST", base + "/users/{userId}/disable", "Disable a directory user", permission.DirectoryUsersWrite, "", h.enable(false)},
		{"POST", base + "/users/{userId}/reset-password", "Reset a directory user's password", permission.DirectoryUsersWrite, "", h.resetPassword},
		{"GET", base + "/groups", "List directory groups", permission.DirectoryGroupsRead, "", h.listGroups},
		{"POST", base + "/groups", "Create a directory group", permission.DirectoryGroupsCreate, validate.Group, h.createGroup},
		{"GET", base + "/groups/{groupId}", "Get a directory group", permission.DirectoryGroupsRead, "", h.getGroup},
		{"GET", base + "/groups/{groupId}/members", "List a directory group's members", permission.DirectoryGroupsRead, "", h.groupMembers},
		{"DELETE", base + "/groups/{groupId}", "Delete a directory group", permission.DirectoryGroupsDelete, "", h.deleteGroup},
		{"GET", base + "/domains", "List directory domains", permission.DirectoryUsersRead, "", h.domains},
	}
	for _, rt := range routes {
		op := openapi.Operation{
			Method:      rt.method,
			Path:        rt.path,
			Summary:     rt.summary,
			Tags:        []string{"directory"},
			Permissions: permission.AnyOf(permission.OrganisationAdmin, rt.code).Codes().Strings(),
			Schema:      rt.schema,
			Query:       []string{tenancyParam, organisationParam},
		}
		reg.Mount(r, op, h.serve(rt.code, rt.run))
	}
}

// serve authorizes the caller for code on the organisation named in the
// query, then runs the action with that organisation's credentials.
func (h *Handler) serve(code permission.Code, run action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := httpx.Principal(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		tenancyID := strings.TrimSpace(q.Get(tenancyParam))
		orgID := strings.TrimSpace(q.Get(organisationParam))
		if tenancyID == "" || orgID == "" {
			httpx.WriteError(w, r, h.log, apperr.InputInvalid("%s and %s query parameters are required", tenancyParam, organisationParam))
			return
		}
		creds, err := h.auth.DirectoryCredentials(r.Context(), tenancyID, orgID, p, code)
		if err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
		v, err := run(r.Context(), r, creds)
		if err != nil {
			httpx.WriteError(w, r, h.log, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, v)
	}
}

type message struct {
	Message string `json:"message"`
}

func (h *Handler) listUsers(ctx context.Context, _ *http.Request, creds models.Credentials) (any, error) {
	return h.dir.ListUsers(ctx, creds)
}

func (h *Handler) getUser(ctx context.Context, r *http.Request, creds models.Credentials) (any, error) {
	return h.dir.GetUser(ctx, creds, chi.URLParam(r, "userId"))
}

func (h *Handler) userGroups(ctx context.Context, r *http.Request, creds models.Credentials) (any, error) {
	return h.dir.UserGroups(ctx, creds, chi.URLParam(r, "userId"))
}

func (h *Handler) enable(enabled bool) action {
	msg := "User disabled"
	if enabled {
		msg = "User enabled"
	}
	return func(ctx context.Context, r *http.Request, creds models.Credentials) (any, error) {
		if err := h.dir.SetUserEnabled(ctx, creds, chi.URLParam(r, "userId"), enabled); err != nil {
			return nil, err
		}
		return message{Message: msg}, nil
	}
}

func (h *Handler) createUser(ctx context.Context, r *http.Request, creds models.Credentials) (any, error) {
	var body directory.NewUser
	if err := httpx.Decode(r, h.schemas, validate.DirectoryUser, &body); err != nil {
		return nil, err
	}
	return h.dir.CreateUser(ctx, creds, body)
}

func (h *Handler) resetPassword(ctx context.Context, r *http.Request, creds models.Credentials) (any, error) {
	return h.dir.ResetPassword(ctx, creds, chi.URLParam(r, "userId"))
}

func (h *Handler) listGroups(ctx context.Context, _ *http.Request, creds models.Credentials) (any, error) {
	return h.dir.ListGroups(ctx, creds)
}

func (h *Handler) getGroup(ctx context.Context, r *http.Request, creds models.Credentials) (any, error) {
	return h.dir.GetGroup(ctx, creds, chi.URLParam(r, "groupId"))
}

func (h *Handler) groupMembers(ctx context.Context, r *http.Request, creds models.Credentials) (any, error) {
	return h.dir.GroupMembers(ctx, creds, chi.URLParam(r, "groupId"))
}

func (h *Handler) createGroup(ctx context.Context, r *http.Request, creds models.Credentials) (any, error) {
	var body directory.NewGroup
	if err := httpx.Decode(r, h.schemas, validate.Group, &body); err != nil {
		return nil, err
	}
	return h.dir.CreateGroup(ctx, creds, body)
}

func (h *Handler) deleteGroup(ctx context.Context, r *http.Request, creds models.Credentials) (any, error) {
	if err := h.dir.DeleteGroup(ctx, creds, chi.URLParam(r, "groupId")); err != nil {
		return nil, err
	}
	return message{Message: "Group deleted"}, nil
}

func (h *Handler) domains(ctx context.Context, _ *http.Request, creds models.Credentials) (any, error) {
	return h.dir.Domains(ctx, creds)
}
