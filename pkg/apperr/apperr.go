// Package apperr holds the error taxonomy shared by the stores, the providers
// and the tenancy service. Transport code maps kinds to status codes; nothing
// in here knows about HTTP.
package apperr

import (
	"errors"
	"fmt"
)

// Kinds. Every error produced by this module wraps exactly one of these.
var (
	ErrInputInvalid        = errors.New("input invalid")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrLastAdmin           = errors.New("last admin violation")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// Error is a refinement of a kind with a human-readable message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

// New returns an *Error of the given kind.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Named refinements used across packages.
var (
	ErrTenancyNotFound        = &Error{Kind: ErrNotFound, Msg: "tenancy does not exist"}
	ErrOrganisationNotFound   = &Error{Kind: ErrNotFound, Msg: "organisation does not exist"}
	ErrIntegrationNotFound    = &Error{Kind: ErrNotFound, Msg: "integration does not exist"}
	ErrUserNotFound           = &Error{Kind: ErrNotFound, Msg: "user does not exist"}
	ErrNoInvitation           = &Error{Kind: ErrNotFound, Msg: "no pending invitation for this tenancy"}
	ErrNotAMember             = &Error{Kind: ErrForbidden, Msg: "you are not a member of this tenancy"}
	ErrInsufficientPermission = &Error{Kind: ErrForbidden, Msg: "you do not have permission to perform this action"}
	ErrAlreadyMember          = &Error{Kind: ErrConflict, Msg: "user is already a member of this tenancy"}
	ErrUserNotInTenancy       = &Error{Kind: ErrConflict, Msg: "user is not a member of this tenancy"}
	ErrAlreadyInOrganisation  = &Error{Kind: ErrConflict, Msg: "user already holds permissions on this organisation"}
	ErrNotInOrganisation      = &Error{Kind: ErrConflict, Msg: "user holds no permissions on this organisation"}
	ErrAlreadyExists          = &Error{Kind: ErrConflict, Msg: "record already exists"}
	ErrRetryableConflict      = &Error{Kind: ErrConflict, Msg: "record was modified by another request"}
	ErrChangesetTooLarge      = &Error{Kind: ErrConflict, Msg: "change touches too many records to apply atomically"}
	ErrLastAdminViolation     = &Error{Kind: ErrLastAdmin, Msg: "a tenancy must retain at least one admin"}
)

// InputInvalid is a shorthand for validation failures.
func InputInvalid(format string, args ...any) error {
	return New(ErrInputInvalid, format, args...)
}

// Store wraps a backend failure as ErrStoreUnavailable, keeping the cause in
// the chain for logging.
func Store(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// Provider wraps an external provider failure as ErrProviderUnavailable.
func Provider(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrProviderUnavailable, err)
}

// Message returns the first human-readable message in the chain, or "" when
// the chain holds no *Error.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return ""
}
