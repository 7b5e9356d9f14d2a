// pkg/store/memory.go
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/models"
)

type memRecord struct {
	doc     []byte
	version int64
}

// Memory keeps JSON-encoded documents in process. Encoding on every write
// means callers can never alias stored state.
type Memory struct {
	log       *zap.SugaredLogger
	mu        sync.Mutex
	tenancies map[string]memRecord
	users     map[string]memRecord
}

// NewMemory builds an empty in-memory store.
func NewMemory(log *zap.SugaredLogger) *Memory {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Memory{log: log, tenancies: map[string]memRecord{}, users: map[string]memRecord{}}
}

func (m *Memory) GetTenancy(ctx context.Context, id string) (models.Tenancy, error) {
	m.mu.Lock()
	rec, ok := m.tenancies[id]
	m.mu.Unlock()
	if !ok {
		return models.Tenancy{}, fmt.Errorf("get tenancy %s: %w", id, apperr.ErrTenancyNotFound)
	}
	var t models.Tenancy
	if err := json.Unmarshal(rec.doc, &t); err != nil {
		return models.Tenancy{}, apperr.Store("decode tenancy", err)
	}
	t.Version = rec.version
	return t, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (models.User, error) {
	m.mu.Lock()
	rec, ok := m.users[id]
	m.mu.Unlock()
	if !ok {
		return models.User{}, fmt.Errorf("get user %s: %w", id, apperr.ErrUserNotFound)
	}
	var u models.User
	if err := json.Unmarshal(rec.doc, &u); err != nil {
		return models.User{}, apperr.Store("decode user", err)
	}
	u.Version = rec.version
	return u, nil
}

func (m *Memory) Commit(ctx context.Context, cs Changeset) error {
	// encode outside the lock
	tenancyDocs := make([][]byte, len(cs.PutTenancies))
	for i, t := range cs.PutTenancies {
		b, err := json.Marshal(t)
		if err != nil {
			return apperr.Store("encode tenancy", err)
		}
		tenancyDocs[i] = b
	}
	userDocs := make([][]byte, len(cs.PutUsers))
	for i, u := range cs.PutUsers {
		b, err := json.Marshal(u)
		if err != nil {
			return apperr.Store("encode user", err)
		}
		userDocs[i] = b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// check every condition before touching anything
	for _, t := range cs.PutTenancies {
		if err := checkVersion(m.tenancies, "tenancy", t.ID, t.Version); err != nil {
			return err
		}
	}
	for _, t := range cs.DeleteTenancies {
		if err := checkVersion(m.tenancies, "tenancy", t.ID, t.Version); err != nil {
			return err
		}
	}
	for _, u := range cs.PutUsers {
		if err := checkVersion(m.users, "user", u.ID, u.Version); err != nil {
			return err
		}
	}

	for i, t := range cs.PutTenancies {
		m.tenancies[t.ID] = memRecord{doc: tenancyDocs[i], version: t.Version + 1}
	}
	for _, t := range cs.DeleteTenancies {
		delete(m.tenancies, t.ID)
	}
	for i, u := range cs.PutUsers {
		m.users[u.ID] = memRecord{doc: userDocs[i], version: u.Version + 1}
	}
	m.log.Debugw("memory commit", "records", cs.Size())
	return nil
}

// checkVersion must be called with m.mu held.
func checkVersion(recs map[string]memRecord, kind, id string, want int64) error {
	rec, ok := recs[id]
	switch {
	case want == 0 && ok:
		return fmt.Errorf("insert %s %s: %w", kind, id, apperr.ErrAlreadyExists)
	case want == 0:
		return nil
	case !ok || rec.version != want:
		return fmt.Errorf("write %s %s at version %d: %w", kind, id, want, apperr.ErrRetryableConflict)
	}
	return nil
}
