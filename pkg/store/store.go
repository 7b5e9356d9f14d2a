// Package store persists tenancy and user documents with optimistic
// concurrency. Backends: in-memory, PostgreSQL (JSONB) and DynamoDB.
package store

import (
	"context"

	"idsimplify/pkg/models"
)

// Store persists the Tenancy and User aggregates.
//
// Reads return snapshots carrying the stored version. Commit applies a
// changeset atomically: every record carries the version it was read at
// (0 for a new record) and the whole changeset fails if any of them moved.
type Store interface {
	GetTenancy(ctx context.Context, id string) (models.Tenancy, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	Commit(ctx context.Context, cs Changeset) error
}

// Changeset is one atomic unit of writes across both aggregates.
//
// Version 0 in PutTenancies/PutUsers means insert (apperr.ErrAlreadyExists if
// present); any other version means replace-if-unchanged
// (apperr.ErrRetryableConflict otherwise). Deletes always carry the version
// that was read.
type Changeset struct {
	PutTenancies    []models.Tenancy
	DeleteTenancies []models.Tenancy
	PutUsers        []models.User
}

// Empty reports whether cs writes nothing.
func (cs Changeset) Empty() bool {
	return len(cs.PutTenancies) == 0 && len(cs.DeleteTenancies) == 0 && len(cs.PutUsers) == 0
}

// Size is the number of records the changeset touches.
func (cs Changeset) Size() int {
	return len(cs.PutTenancies) + len(cs.DeleteTenancies) + len(cs.PutUsers)
}
