// pkg/store/postgres.go
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/models"
)

// Postgres stores each aggregate as a JSONB document next to a version
// column. A changeset is one transaction of conditional statements.
type Postgres struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgres constructs a PostgreSQL-backed store.
func NewPostgres(dbPool *pgxpool.Pool, log *zap.SugaredLogger) *Postgres {
	return &Postgres{dbPool: dbPool, log: log}
}

// EnsureSchema creates the document tables if they do not exist.
// Safe to call repeatedly.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenancies (
  id text PRIMARY KEY,
  doc jsonb NOT NULL,
  version bigint NOT NULL DEFAULT 1,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS users (
  id text PRIMARY KEY,
  doc jsonb NOT NULL,
  version bigint NOT NULL DEFAULT 1,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
`)
	return err
}

func (p *Postgres) GetTenancy(ctx context.Context, id string) (models.Tenancy, error) {
	var doc []byte
	var ver int64
	err := p.dbPool.QueryRow(ctx, `SELECT doc, version FROM tenancies WHERE id=$1`, id).Scan(&doc, &ver)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Tenancy{}, fmt.Errorf("get tenancy %s: %w", id, apperr.ErrTenancyNotFound)
		}
		return models.Tenancy{}, apperr.Store("get tenancy", err)
	}
	var t models.Tenancy
	if err := json.Unmarshal(doc, &t); err != nil {
		return models.Tenancy{}, apperr.Store("decode tenancy", err)
	}
	t.Version = ver
	return t, nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (models.User, error) {
	var doc []byte
	var ver int64
	err := p.dbPool.QueryRow(ctx, `SELECT doc, version FROM users WHERE id=$1`, id).Scan(&doc, &ver)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, fmt.Errorf("get user %s: %w", id, apperr.ErrUserNotFound)
		}
		return models.User{}, apperr.Store("get user", err)
	}
	var u models.User
	if err := json.Unmarshal(doc, &u); err != nil {
		return models.User{}, apperr.Store("decode user", err)
	}
	u.Version = ver
	return u, nil
}

func (p *Postgres) Commit(ctx context.Context, cs Changeset) error {
	tx, err := p.dbPool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperr.Store("begin", err)
	}
	// Rollback after Commit is a no-op.
	defer func() { _ = tx.Rollback(ctx) }()

	for _, t := range cs.PutTenancies {
		doc, err := json.Marshal(t)
		if err != nil {
			return apperr.Store("encode tenancy", err)
		}
		if err := putDoc(ctx, tx, "tenancies", t.ID, doc, t.Version); err != nil {
			return err
		}
	}
	for _, t := range cs.DeleteTenancies {
		tag, err := tx.Exec(ctx, `DELETE FROM tenancies WHERE id=$1 AND version=$2`, t.ID, t.Version)
		if err != nil {
			return apperr.Store("delete tenancy", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("delete tenancy %s: %w", t.ID, apperr.ErrRetryableConflict)
		}
	}
	for _, u := range cs.PutUsers {
		doc, err := json.Marshal(u)
		if err != nil {
			return apperr.Store("encode user", err)
		}
		if err := putDoc(ctx, tx, "users", u.ID, doc, u.Version); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Store("commit", err)
	}
	p.log.Debugw("postgres commit", "records", cs.Size())
	return nil
}

// putDoc inserts (version 0) or conditionally replaces a document. table is
// one of the two constant table names above.
func putDoc(ctx context.Context, tx pgx.Tx, table, id string, doc []byte, version int64) error {
	if version == 0 {
		tag, err := tx.Exec(ctx, `INSERT INTO `+table+`(id, doc, version) VALUES ($1, $2::jsonb, 1) ON CONFLICT (id) DO NOTHING`, id, doc)
		if err != nil {
			return apperr.Store("insert "+table, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("insert %s %s: %w", table, id, apperr.ErrAlreadyExists)
		}
		return nil
	}
	tag, err := tx.Exec(ctx, `UPDATE `+table+` SET doc=$2::jsonb, version=version+1, updated_at=NOW() WHERE id=$1 AND version=$3`, id, doc, version)
	if err != nil {
		return apperr.Store("update "+table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s %s at version %d: %w", table, id, version, apperr.ErrRetryableConflict)
	}
	return nil
}
