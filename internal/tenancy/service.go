// Package tenancy implements the tenancy mutation protocol and the read
// queries over tenancies, organisations, integrations and memberships.
//
// Every mutation loads fresh snapshots, authorizes against them, computes
// the new aggregates with the pure transforms in pkg/models and commits a
// single store.Changeset. Version conflicts are retried; nothing is held in
// process between attempts.
package tenancy

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"idsimplify/pkg/apperr"
	"idsimplify/pkg/authz"
	"idsimplify/pkg/identity"
	"idsimplify/pkg/metrics"
	"idsimplify/pkg/models"
	"idsimplify/pkg/notify"
	"idsimplify/pkg/secrets"
	"idsimplify/pkg/store"
)

// Deps are the collaborators of a Service. Store and Identity are required.
type Deps struct {
	Store    store.Store
	Identity identity.Platform
	Notifier *notify.Dispatcher
	Composer notify.Composer
	Sealer   *secrets.Sealer
	Log      *zap.SugaredLogger

	// ProvisionerID is the only principal allowed to create arbitrary user
	// records. When empty, principals may only create their own.
	ProvisionerID string
	// MutationAttempts bounds optimistic-concurrency retries (min 1).
	MutationAttempts int
	// LookupConcurrency bounds parallel identity lookups (min 1).
	LookupConcurrency int

	NewID func() string
	Now   func() time.Time
}

type Service struct {
	store       store.Store
	identity    identity.Platform
	notifier    *notify.Dispatcher
	compose     notify.Composer
	sealer      *secrets.Sealer
	log         *zap.SugaredLogger
	provisioner string
	attempts    int
	lookups     int
	newID       func() string
	now         func() time.Time
}

func New(d Deps) *Service {
	s := &Service{
		store:       d.Store,
		identity:    d.Identity,
		notifier:    d.Notifier,
		compose:     d.Composer,
		sealer:      d.Sealer,
		log:         d.Log,
		provisioner: d.ProvisionerID,
		attempts:    d.MutationAttempts,
		lookups:     d.LookupConcurrency,
		newID:       d.NewID,
		now:         d.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop().Sugar()
	}
	if s.sealer == nil {
		s.sealer = &secrets.Sealer{}
	}
	if s.attempts < 1 {
		s.attempts = 1
	}
	if s.lookups < 1 {
		s.lookups = 1
	}
	if s.newID == nil {
		s.newID = uuid.NewString
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// mutate runs attempt until it commits, fails with something other than a
// version conflict, or runs out of attempts. attempt must re-read every
// snapshot it depends on.
func (s *Service) mutate(ctx context.Context, op string, attempt func(ctx context.Context) (store.Changeset, error)) error {
	for n := 1; ; n++ {
		cs, err := attempt(ctx)
		if err == nil && !cs.Empty() {
			err = s.store.Commit(ctx, cs)
		}
		if err == nil {
			metrics.Mutations.WithLabelValues(op, metrics.OutcomeOK).Inc()
			return nil
		}
		if errors.Is(err, apperr.ErrRetryableConflict) && n < s.attempts {
			metrics.MutationRetries.WithLabelValues(op).Inc()
			s.log.Debugw("mutation conflict, retrying", "op", op, "attempt", n)
			continue
		}
		s.record(op, err)
		return err
	}
}

func (s *Service) record(op string, err error) {
	outcome := metrics.OutcomeError
	switch {
	case errors.Is(err, apperr.ErrForbidden):
		outcome = metrics.OutcomeRejected
	case errors.Is(err, apperr.ErrConflict), errors.Is(err, apperr.ErrLastAdmin):
		outcome = metrics.OutcomeConflict
	case errors.Is(err, apperr.ErrNotFound):
		outcome = metrics.OutcomeNotFound
	}
	metrics.Mutations.WithLabelValues(op, outcome).Inc()
	if errors.Is(err, apperr.ErrStoreUnavailable) || errors.Is(err, apperr.ErrProviderUnavailable) {
		s.log.Errorw("mutation failed", "op", op, "err", err)
	}
}

// authorize is authz.AuthorizeAny plus denial metrics.
func (s *Service) authorize(t models.Tenancy, principal string, rules ...authz.Rule) error {
	err := authz.AuthorizeAny(t, principal, rules...)
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNotAMember):
		metrics.Denials.WithLabelValues("not_member").Inc()
	default:
		metrics.Denials.WithLabelValues("insufficient_permission").Inc()
	}
	return err
}

// loadAuthorized reads tenancyID and authorizes principal against it.
func (s *Service) loadAuthorized(ctx context.Context, tenancyID, principal string, rules ...authz.Rule) (models.Tenancy, error) {
	t, err := s.store.GetTenancy(ctx, tenancyID)
	if err != nil {
		return models.Tenancy{}, err
	}
	if err := s.authorize(t, principal, rules...); err != nil {
		return models.Tenancy{}, err
	}
	return t, nil
}
