// Package userapi serves user records and the caller's own tenancies and
// invitations.
package userapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"idsimplify/internal/httpx"
	"idsimplify/internal/tenancy"
	"idsimplify/pkg/apperr"
	"idsimplify/pkg/openapi"
	"idsimplify/pkg/validate"
)

// Self is the path alias for the calling principal.
const Self = "me"

type Handler struct {
	svc     *tenancy.Service
	schemas *validate.Schemas
	log     *zap.SugaredLogger
}

func New(svc *tenancy.Service, schemas *validate.Schemas, log *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, schemas: schemas, log: log}
}

func (h *Handler) Mount(r chi.Router, reg *openapi.Registry) {
	tags := []string{"users"}
	reg.Mount(r, openapi.Operation{Method: "POST", Path: "/user", Summary: "Create a user record", Tags: tags, Schema: validate.User}, h.createUser)
	reg.Mount(r, openapi.Operation{Method: "GET", Path: "/users/{userId}/tenancies", Summary: "List the caller's tenancies", Tags: tags}, h.tenancies)
	reg.Mount(r, openapi.Operation{Method: "GET", Path: "/users/{userId}/invitations", Summary: "List the caller's pending invitations", Tags: tags}, h.invitations)
	reg.Mount(r, openapi.Operation{Method: "POST", Path: "/users/{userId}/invitations/{tenancyId}/accept", Summary: "Accept an invitation", Tags: tags}, h.accept)
	reg.Mount(r, openapi.Operation{Method: "POST", Path: "/users/{userId}/invitations/{tenancyId}/decline", Summary: "Decline an invitation", Tags: tags}, h.decline)
}

type createdUser struct {
	ID      string    `json:"id"`
	Created time.Time `json:"created"`
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID    string `json:"userId"`
		CreatedAt string `json:"createdAt"`
	}
	if err := httpx.Decode(r, h.schemas, validate.User, &body); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	u, err := h.svc.CreateUser(r.Context(), p, body.UserID, body.CreatedAt)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, createdUser{ID: u.ID, Created: u.Created})
}

// subject resolves the {userId} segment, accepting Self for the principal.
func subject(r *http.Request, principal string) string {
	id := chi.URLParam(r, "userId")
	if id == Self {
		return principal
	}
	return id
}

func (h *Handler) tenancies(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetUserTenancies(r.Context(), p, subject(r, p))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) invitations(w http.ResponseWriter, r *http.Request) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	v, err := h.svc.GetTenancyInvitations(r.Context(), p, subject(r, p))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.svc.AcceptInvitation, "Invitation accepted")
}

func (h *Handler) decline(w http.ResponseWriter, r *http.Request) {
	h.answer(w, r, h.svc.DeclineInvitation, "Invitation declined")
}

// answer runs an invitation response for the principal. Only the invitee
// may answer, so {userId} must name the caller.
func (h *Handler) answer(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tenancyID, principal string) error, msg string) {
	p, ok := httpx.Principal(w, r)
	if !ok {
		return
	}
	if subject(r, p) != p {
		httpx.WriteError(w, r, h.log, apperr.ErrInsufficientPermission)
		return
	}
	if err := fn(r.Context(), chi.URLParam(r, "tenancyId"), p); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"message": msg})
}
