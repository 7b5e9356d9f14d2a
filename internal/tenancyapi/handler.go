// Package tenancyapi serves the /tenancies routes.
package tenancyapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"idsimplify/internal/httpx"
	"idsimplify/internal/tenancy"
	"idsimplify/pkg/openapi"
	"idsimplify/pkg/permission"
	"idsimplify/pkg/validate"
)

type Handler struct {
	svc     *tenancy.Service
	schemas *validate.Schemas
	log     *zap.SugaredLogger
}

func New(svc *tenancy.Service, schemas *validate.Schemas, log *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, schemas: schemas, log: log}
}

var (
	admin        = permission.AnyOf(permission.TenancyAdmin).Codes().Strings()
	orgManage    = permission.AnyOf(permission.TenancyAdmin, permission.OrganisationAdmin).Codes().Strings()
	orgRead      = permission.AnyOf(permission.TenancyAdmin, permission.OrganisationAdmin, permission.OrganisationRead).Codes().Strings()
	tenancyTags  = []string{"tenancies"}
	orgTags      = []string{"organisations"}
	integrations = []string{"integrations"}
)

// Mount routes every tenancy operation on r and records it in reg.
func (h *Handler) Mount(r chi.Router, reg *openapi.Registry) {
	const (
		base = "/tenancies/{tenancyId}"
		org  = base + "/organisations/{organisationId}"
	)
	ops := []struct {
		op openapi.Operation
		h  http.HandlerFunc
	}{
		{openapi.Operation{Method: "POST", Path: "/tenancies", Summary: "Create a tenancy", Tags: tenancyTags, Schema: validate.Tenancy}, h.createTenancy},
		{openapi.Operation{Method: "GET", Path: base, Summary: "Get a tenancy", Tags: tenancyTags}, h.getTenancy},
		{openapi.Operation{Method: "PUT", Path: base, Summary: "Rename a tenancy", Tags: tenancyTags, Permissions: admin, Schema: validate.Tenancy}, h.renameTenancy},
		{openapi.Operation{Method: "DELETE", Path: base, Summary: "Delete a tenancy", Tags: tenancyTags, Permissions: admin}, h.deleteTenancy},

		{openapi.Operation{Method: "GET", Path: base + "/users", Summary: "List tenancy users", Tags: tenancyTags, Permissions: admin}, h.getTenancyUsers},
		{openapi.Operation{Method: "POST", Path: base + "/users", Summary: "Invite a user", Tags: tenancyTags, Permissions: admin, Schema: validate.Invitation}, h.inviteUser},
		{openapi.Operation{Method: "DELETE", Path: base + "/users/{userId}", Summary: "Remove a user or invitation", Tags: tenancyTags, Permissions: admin}, h.removeUser},
		{openapi.Operation{Method: "PUT", Path: base + "/users/{userId}/permissions", Summary: "Replace tenancy permissions", Tags: tenancyTags, Permissions: admin, Schema: validate.TenancyPermissions}, h.setTenancyPermissions},

		{openapi.Operation{Method: "GET", Path: base + "/organisations", Summary: "List visible organisations", Tags: orgTags}, h.getOrganisations},
		{openapi.Operation{Method: "POST", Path: base + "/organisations", Summary: "Create an organisation", Tags: orgTags, Permissions: admin, Schema: validate.Organisation}, h.createOrganisation},
		{openapi.Operation{Method: "GET", Path: org, Summary: "Get an organisation", Tags: orgTags, Permissions: orgRead}, h.getOrganisation},
		{openapi.Operation{Method: "PUT", Path: org, Summary: "Rename an organisation", Tags: orgTags, Permissions: admin, Schema: validate.Organisation}, h.renameOrganisation},
		{openapi.Operation{Method: "DELETE", Path: org, Summary: "Delete an organisation", Tags: orgTags, Permissions: admin}, h.deleteOrganisation},
		{openapi.Operation{Method: "GET", Path: org + "/users", Summary: "List organisation users", Tags: orgTags, Permissions: orgRead}, h.getOrganisationUsers},
		{openapi.Operation{Method: "POST", Path: org + "/users", Summary: "Grant organisation permissions", Tags: orgTags, Permissions: orgManage, Schema: validate.OrganisationUser}, h.addOrganisationUser},
		{openapi.Operation{Method: "DELETE", Path: org + "/users/{userId}", Summary: "Revoke organisation permissions", Tags: orgTags, Permissions: orgManage}, h.removeOrganisationUser},

		{openapi.Operation{Method: "GET", Path: org + "/integrations", Summary: "List integrations", Tags: integrations, Permissions: orgRead}, h.getIntegrations},
		{openapi.Operation{Method: "POST", Path: org + "/integrations", Summary: "Add an integration", Tags: integrations, Permissions: admin, Schema: validate.Integration}, h.createIntegration},
		{openapi.Operation{Method: "DELETE", Path: org + "/integrations/{integrationId}", Summary: "Remove an integration", Tags: integrations, Permissions: admin}, h.deleteIntegration},
	}
	for _, o := range ops {
		reg.Mount(r, o.op, o.h)
	}
}

type message struct {
	Message string `json:"message"`
}

type createdTenancy struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

type nameBody struct {
	Name string `json:"name"`
}

func (h *Handler) createTenancy(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var body nameBody
	if err := httpx.Decode(r, h.schemas, validate.Tenancy, &body); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	t, err := h.svc.CreateTenancy(r.Context(), p, body.Name)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, createdTenancy{ID: t.ID, Name: t.Name, Created: t.Created})
}

func (h *Handler) getTenancy(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetTenancy(r.Context(), chi.URLParam(r, "tenancyId"), p)
	h.reply(w, r, v, err)
}

func (h *Handler) renameTenancy(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var body nameBody
	if err := httpx.Decode(r, h.schemas, validate.Tenancy, &body); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	err := h.svc.RenameTenancy(r.Context(), chi.URLParam(r, "tenancyId"), p, body.Name)
	h.done(w, r, err, "Tenancy renamed")
}

func (h *Handler) deleteTenancy(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	err := h.svc.DeleteTenancy(r.Context(), chi.URLParam(r, "tenancyId"), p)
	h.done(w, r, err, "Tenancy deleted")
}

func (h *Handler) getTenancyUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetTenancyUsers(r.Context(), chi.URLParam(r, "tenancyId"), p)
	h.reply(w, r, v, err)
}

func (h *Handler) inviteUser(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var body struct {
		Email string `json:"email"`
	}
	if err := httpx.Decode(r, h.schemas, validate.Invitation, &body); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	invitee, err := h.svc.InviteUser(r.Context(), chi.URLParam(r, "tenancyId"), p, body.Email)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": "User invited", "userId": invitee.ID})
}

func (h *Handler) removeUser(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	err := h.svc.RemoveUser(r.Context(), chi.URLParam(r, "tenancyId"), p, chi.URLParam(r, "userId"))
	h.done(w, r, err, "User removed")
}

func (h *Handler) setTenancyPermissions(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var body struct {
		Permissions []string `json:"permissions"`
	}
	if err := httpx.Decode(r, h.schemas, validate.TenancyPermissions, &body); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	err := h.svc.SetTenancyPermissions(r.Context(), chi.URLParam(r, "tenancyId"), p, chi.URLParam(r, "userId"), body.Permissions)
	h.done(w, r, err, "Permissions updated")
}

func (h *Handler) getOrganisations(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetOrganisations(r.Context(), chi.URLParam(r, "tenancyId"), p)
	h.reply(w, r, v, err)
}

func (h *Handler) createOrganisation(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var body nameBody
	if err := httpx.Decode(r, h.schemas, validate.Organisation, &body); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	o, err := h.svc.CreateOrganisation(r.Context(), chi.URLParam(r, "tenancyId"), p, body.Name)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"id": o.ID, "name": o.Name})
}

func (h *Handler) getOrganisation(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetOrganisation(r.Context(), chi.URLParam(r, "tenancyId"), chi.URLParam(r, "organisationId"), p)
	h.reply(w, r, v, err)
}

func (h *Handler) renameOrganisation(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var body nameBody
	if err := httpx.Decode(r, h.schemas, validate.Organisation, &body); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	err := h.svc.RenameOrganisation(r.Context(), chi.URLParam(r, "tenancyId"), chi.URLParam(r, "organisationId"), p, body.Name)
	h.done(w, r, err, "Organisation renamed")
}

func (h *Handler) deleteOrganisation(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	err := h.svc.DeleteOrganisation(r.Context(), chi.URLParam(r, "tenancyId"), chi.URLParam(r, "organisationId"), p)
	h.done(w, r, err, "Organisation deleted")
}

func (h *Handler) getOrganisationUsers(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetOrganisationUsers(r.Context(), chi.URLParam(r, "tenancyId"), chi.URLParam(r, "organisationId"), p)
	h.reply(w, r, v, err)
}

func (h *Handler) addOrganisationUser(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID      string   `json:"userId"`
		Permissions []string `json:"permissions"`
	}
	if err := httpx.Decode(r, h.schemas, validate.OrganisationUser, &body); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	err := h.svc.AddOrganisationUser(r.Context(), chi.URLParam(r, "tenancyId"), chi.URLParam(r, "organisationId"), p, body.UserID, body.Permissions)
	h.done(w, r, err, "User added to organisation")
}

func (h *Handler) removeOrganisationUser(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	err := h.svc.RemoveOrganisationUser(r.Context(), chi.URLParam(r, "tenancyId"), chi.URLParam(r, "organisationId"), p, chi.URLParam(r, "userId"))
	h.done(w, r, err, "User removed from organisation")
}

func (h *Handler) getIntegrations(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetOrganisationIntegrations(r.Context(), chi.URLParam(r, "tenancyId"), chi.URLParam(r, "organisationId"), p)
	h.reply(w, r, v, err)
}

func (h *Handler) createIntegration(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var body tenancy.IntegrationInput
	if err := httpx.Decode(r, h.schemas, validate.Integration, &body); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	v, err := h.svc.CreateIntegration(r.Context(), chi.URLParam(r, "tenancyId"), chi.URLParam(r, "organisationId"), p, body)
	h.reply(w, r, v, err)
}

func (h *Handler) deleteIntegration(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	err := h.svc.DeleteIntegration(r.Context(), chi.URLParam(r, "tenancyId"), chi.URLParam(r, "organisationId"), chi.URLParam(r, "integrationId"), p)
	h.done(w, r, err, "Integration deleted")
}

func (h *Handler) reply(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) done(w http.ResponseWriter, r *http.Request, err error, msg string) {
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, message{Message: msg})
}
