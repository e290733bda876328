package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contactlink/internal/models"
)

// Recorder receives one observation per Resolve or Lookup call.
type Recorder interface {
	RecordResolution(outcome models.Outcome, result string, elapsed time.Duration)
	RecordLookup(result string, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordResolution(models.Outcome, string, time.Duration) {}
func (nopRecorder) RecordLookup(string, time.Duration) {}

// Option configures a Resolver.
type Option func(*Resolver)

// WithTimeout bounds every call, including waits on store locks.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) { r.timeout = d }
}

// WithLogger sets the logger used for integrity and store failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithRecorder sets the metrics sink.
func WithRecorder(rec Recorder) Option {
	return func(r *Resolver) { r.recorder = rec }
}

// Resolver links contact observations into identity clusters. It holds no
// mutable state; everything lives in the store.
type Resolver struct {
	store    ContactStore
	timeout  time.Duration
	logger   *slog.Logger
	recorder Recorder
}

// NewResolver creates a resolver backed by store.
func NewResolver(store ContactStore, opts ...Option) *Resolver {
	r := &Resolver{
		store:    store,
		logger:   slog.Default(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the identity that represents the (email, phoneNumber)
// observation, creating, attaching or merging contacts as needed. Both values
// must already be normalized; empty strings count as absent. All writes of
// one call commit atomically.
func (r *Resolver) Resolve(ctx context.Context, email, phoneNumber *string) (*models.Identity, error) {
	start := time.Now()
	email, phoneNumber = present(email), present(phoneNumber)
	if email == nil && phoneNumber == nil {
		err := &InvalidInputError{Reason: "either email or phoneNumber must be provided"}
		r.recorder.RecordResolution("", r.report(err), time.Since(start))
		return nil, err
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var identity *models.Identity
	err := r.store.WithinTx(ctx, func(tx ContactTx) error {
		if err := tx.Lock(ctx, lockKeys(email, phoneNumber)...); err != nil {
			return err
		}
		primaryID, outcome, err := r.link(ctx, tx, email, phoneNumber)
		if err != nil {
			return err
		}
		identity, err = consolidate(ctx, tx, primaryID)
		if err != nil {
			return err
		}
		identity.Outcome = outcome
		return nil
	})
	err = classify("resolve", err)
	var outcome models.Outcome
	if identity != nil {
		outcome = identity.Outcome
	}
	r.recorder.RecordResolution(outcome, r.report(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return identity, nil
}

// Lookup returns the identity of the cluster containing contactID. It runs
// in a read-only transaction and writes nothing. A missing contact yields
// (nil, nil).
func (r *Resolver) Lookup(ctx context.Context, contactID int64) (*models.Identity, error) {
	start := time.Now()
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var identity *models.Identity
	err := r.store.WithinReadTx(ctx, func(tx ContactReader) error {
		c, err := tx.FindByID(ctx, contactID)
		if err != nil || c == nil {
			return err
		}
		primary, err := primaryOf(ctx, tx, *c)
		if err != nil {
			return err
		}
		identity, err = consolidate(ctx, tx, models.PrimaryID(primary.ID))
		if err != nil {
			return err
		}
		identity.Outcome = models.OutcomeMatched
		return nil
	})
	err = classify("lookup", err)
	r.recorder.RecordLookup(r.report(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func (r *Resolver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

// report logs err at the level its kind deserves and returns the result
// label recorded for the call.
func (r *Resolver) report(err error) string {
	var (
		invalid   *InvalidInputError
		integrity *DataIntegrityError
		store     *StoreError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &invalid):
		r.logger.Debug("rejected observation", "error", err)
		return "invalid_input"
	case errors.As(err, &integrity):
		r.logger.Error("contact hierarchy is corrupt", "contact_id", integrity.ContactID, "error", err)
		return "data_integrity"
	case errors.As(err, &store) && store.Retryable():
		r.logger.Warn("store conflict", "op", store.Op, "error", err)
		return "conflict"
	default:
		r.logger.Error("store failure", "error", err)
		return "store_error"
	}
}

// link runs steps 1 to 4 and returns the primary the observation belongs to.
func (r *Resolver) link(ctx context.Context, tx ContactTx, email, phoneNumber *string) (models.PrimaryID, models.Outcome, error) {
	if email != nil && phoneNumber != nil {
		exact, err := tx.FindExactMatch(ctx, email, phoneNumber)
		if err != nil {
			return 0, "", fmt.Errorf("find exact match: %w", err)
		}
		if exact != nil {
			primary, err := primaryOf(ctx, tx, *exact)
			if err != nil {
				return 0, "", err
			}
			return models.PrimaryID(primary.ID), models.OutcomeMatched, nil
		}
	}

	matches, err := tx.FindByEmailOrPhone(ctx, email, phoneNumber)
	if err != nil {
		return 0, "", fmt.Errorf("find partial matches: %w", err)
	}
	var byEmail, byPhone []models.Contact
	for _, c := range matches {
		if email != nil && c.Email != nil && *c.Email == *email {
			byEmail = append(byEmail, c)
		}
		if phoneNumber != nil && c.PhoneNumber != nil && *c.PhoneNumber == *phoneNumber {
			byPhone = append(byPhone, c)
		}
	}

	switch {
	case len(byEmail) == 0 && len(byPhone) == 0:
		created, err := tx.Create(ctx, email, phoneNumber, nil)
		if err != nil {
			return 0, "", fmt.Errorf("create primary: %w", err)
		}
		r.logger.Info("created primary contact", "contact_id", created.ID)
		return models.PrimaryID(created.ID), models.OutcomeCreatedPrimary, nil

	case len(byEmail) == 0 || len(byPhone) == 0:
		primary, err := singlePrimary(ctx, tx, append(byEmail, byPhone...))
		if err != nil {
			return 0, "", err
		}
		return r.attach(ctx, tx, primary, email, phoneNumber, models.OutcomeMatched)
	}

	emailPrimary, err := singlePrimary(ctx, tx, byEmail)
	if err != nil {
		return 0, "", err
	}
	phonePrimary, err := singlePrimary(ctx, tx, byPhone)
	if err != nil {
		return 0, "", err
	}
	if emailPrimary.ID == phonePrimary.ID {
		return r.attach(ctx, tx, emailPrimary, email, phoneNumber, models.OutcomeMatched)
	}

	winner, err := r.merge(ctx, tx, emailPrimary, phonePrimary)
	if err != nil {
		return 0, "", err
	}
	return r.attach(ctx, tx, winner, email, phoneNumber, models.OutcomeMerged)
}

// attach adds a secondary to primary when the observation is not already
// represented in the cluster.
func (r *Resolver) attach(ctx context.Context, tx ContactTx, primary models.Contact, email, phoneNumber *string, outcome models.Outcome) (models.PrimaryID, models.Outcome, error) {
	primaryID := models.PrimaryID(primary.ID)
	cluster, err := tx.FindByPrimaryID(ctx, primaryID)
	if err != nil {
		return 0, "", fmt.Errorf("load cluster %d: %w", primary.ID, err)
	}
	if !carriesNewInformation(cluster, email, phoneNumber) {
		return primaryID, outcome, nil
	}

	created, err := tx.Create(ctx, email, phoneNumber, &primaryID)
	if err != nil {
		return 0, "", fmt.Errorf("create secondary: %w", err)
	}
	r.logger.Info("attached secondary contact", "contact_id", created.ID, "primary_id", primary.ID)
	if outcome == models.OutcomeMatched {
		outcome = models.OutcomeAttachedSecondary
	}
	return primaryID, outcome, nil
}

// merge demotes the younger of two primaries and moves its secondaries to
// the older one, so no chain deeper than one hop is ever written.
func (r *Resolver) merge(ctx context.Context, tx ContactTx, a, b models.Contact) (models.Contact, error) {
	winner, loser := electPrimary(a, b)
	winnerID := models.PrimaryID(winner.ID)

	loserCluster, err := tx.FindByPrimaryID(ctx, models.PrimaryID(loser.ID))
	if err != nil {
		return models.Contact{}, fmt.Errorf("load cluster %d: %w", loser.ID, err)
	}
	if _, err := tx.UpdateToSecondary(ctx, loser.ID, winnerID); err != nil {
		return models.Contact{}, fmt.Errorf("demote primary %d: %w", loser.ID, err)
	}
	for _, c := range loserCluster {
		if c.ID == loser.ID {
			continue
		}
		if _, err := tx.UpdatePrimaryIDOfSecondary(ctx, c.ID, winnerID); err != nil {
			return models.Contact{}, fmt.Errorf("repoint secondary %d: %w", c.ID, err)
		}
	}

	r.logger.Info("merged clusters", "winner_id", winner.ID, "loser_id", loser.ID, "moved", len(loserCluster)-1)
	return winner, nil
}

// electPrimary keeps the oldest contact as primary; equal timestamps fall
// back to the lower id.
func electPrimary(a, b models.Contact) (winner, loser models.Contact) {
	if b.CreatedAt.Before(a.CreatedAt) || (b.CreatedAt.Equal(a.CreatedAt) && b.ID < a.ID) {
		return b, a
	}
	return a, b
}

// singlePrimary resolves the primaries of matched contacts and requires that
// they all belong to one cluster.
func singlePrimary(ctx context.Context, tx ContactTx, matched []models.Contact) (models.Contact, error) {
	var found *models.Contact
	for _, c := range matched {
		p, err := primaryOf(ctx, tx, c)
		if err != nil {
			return models.Contact{}, err
		}
		if found == nil {
			found = &p
			continue
		}
		if p.ID != found.ID {
			return models.Contact{}, &DataIntegrityError{
				ContactID: c.ID,
				Reason:    fmt.Sprintf("matches span primaries %d and %d", found.ID, p.ID),
			}
		}
	}
	if found == nil {
		return models.Contact{}, &DataIntegrityError{Reason: "no primary reachable from matches"}
	}
	return *found, nil
}

// primaryOf follows at most one link. A secondary whose link does not land
// on a live primary is corruption.
func primaryOf(ctx context.Context, tx ContactReader, c models.Contact) (models.Contact, error) {
	if c.IsPrimary() {
		return c, nil
	}
	linked, _ := c.LinkedID()
	target, err := tx.FindByID(ctx, int64(linked))
	if err != nil {
		return models.Contact{}, fmt.Errorf("load primary %d: %w", linked, err)
	}
	if target == nil {
		return models.Contact{}, &DataIntegrityError{
			ContactID: c.ID,
			Reason:    fmt.Sprintf("linked contact %d is missing or deleted", linked),
		}
	}
	if !target.IsPrimary() {
		return models.Contact{}, &DataIntegrityError{
			ContactID: c.ID,
			Reason:    fmt.Sprintf("linked contact %d is itself secondary", linked),
		}
	}
	return *target, nil
}

// consolidate loads the cluster of primaryID and checks its shape.
func consolidate(ctx context.Context, tx ContactReader, primaryID models.PrimaryID) (*models.Identity, error) {
	cluster, err := tx.FindByPrimaryID(ctx, primaryID)
	if err != nil {
		return nil, fmt.Errorf("load cluster %d: %w", primaryID, err)
	}
	identity := &models.Identity{Secondaries: []models.Contact{}}
	found := false
	for _, c := range cluster {
		if c.ID == int64(primaryID) {
			if !c.IsPrimary() {
				return nil, &DataIntegrityError{ContactID: c.ID, Reason: "expected primary, found secondary"}
			}
			identity.Primary = c
			found = true
			continue
		}
		if linked, ok := c.LinkedID(); !ok || linked != primaryID {
			return nil, &DataIntegrityError{ContactID: c.ID, Reason: fmt.Sprintf("listed in cluster %d without linking to it", primaryID)}
		}
		identity.Secondaries = append(identity.Secondaries, c)
	}
	if !found {
		return nil, &DataIntegrityError{ContactID: int64(primaryID), Reason: "primary is missing or deleted"}
	}
	return identity, nil
}

// carriesNewInformation decides whether an observation deserves its own row:
// it must carry an email or phone number the cluster does not hold yet. A
// pair whose values sit on different rows of the cluster adds nothing.
func carriesNewInformation(cluster []models.Contact, email, phoneNumber *string) bool {
	emailKnown, phoneKnown := email == nil, phoneNumber == nil
	for _, c := range cluster {
		if c.SamePair(email, phoneNumber) {
			return false
		}
		if email != nil && c.Email != nil && *c.Email == *email {
			emailKnown = true
		}
		if phoneNumber != nil && c.PhoneNumber != nil && *c.PhoneNumber == *phoneNumber {
			phoneKnown = true
		}
	}
	return !emailKnown || !phoneKnown
}

func present(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func lockKeys(email, phoneNumber *string) []string {
	var keys []string
	if email != nil {
		keys = append(keys, "email:"+*email)
	}
	if phoneNumber != nil {
		keys = append(keys, "phone:"+*phoneNumber)
	}
	return keys
}
