package auth

import (
	"context"
	"fmt"

	"bazaar/internal/metrics"
	"bazaar/internal/resilience"
)

// RetryingStore wraps a UserStore with the database retry policy and records
// upsert/lookup outcomes. Transient store failures are absorbed here; errors
// that survive have already exhausted their retry budget.
type RetryingStore struct {
	store   UserStore
	retry   *resilience.Policy
	metrics metrics.Recorder
}

// NewRetryingStore wraps store with the given retry policy.
func NewRetryingStore(store UserStore, retry *resilience.Policy, rec metrics.Recorder) *RetryingStore {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &RetryingStore{store: store, retry: retry, metrics: rec}
}

// GetUser looks up a user by id, retrying transient failures.
func (s *RetryingStore) GetUser(ctx context.Context, id string) (*User, error) {
	var user *User
	err := s.retry.Do(ctx, "get_user", func(ctx context.Context) error {
		var err error
		user, err = s.store.GetUser(ctx, id)
		return err
	})
	if err != nil {
		s.metrics.RecordLookup(metrics.OutcomeFailure)
		return nil, fmt.Errorf("get user %q: %w", id, err)
	}

	s.metrics.RecordLookup(metrics.OutcomeSuccess)
	return user, nil
}

// GetUserByEmail looks up a user by email, retrying transient failures.
func (s *RetryingStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user *User
	err := s.retry.Do(ctx, "get_user_by_email", func(ctx context.Context) error {
		var err error
		user, err = s.store.GetUserByEmail(ctx, email)
		return err
	})
	if err != nil {
		s.metrics.RecordLookup(metrics.OutcomeFailure)
		return nil, fmt.Errorf("get user by email %q: %w", email, err)
	}

	s.metrics.RecordLookup(metrics.OutcomeSuccess)
	return user, nil
}

// UpsertUser writes the user record, retrying transient failures. The
// underlying upsert is idempotent keyed by id, so replays are safe.
func (s *RetryingStore) UpsertUser(ctx context.Context, data UpsertUser) (*User, bool, error) {
	var (
		user  *User
		isNew bool
	)
	err := s.retry.Do(ctx, "upsert_user", func(ctx context.Context) error {
		var err error
		user, isNew, err = s.store.UpsertUser(ctx, data)
		return err
	})
	if err != nil {
		s.metrics.RecordUpsert(metrics.OutcomeFailure)
		return nil, false, fmt.Errorf("upsert user %q: %w", data.Email, err)
	}

	s.metrics.RecordUpsert(metrics.OutcomeSuccess)
	return user, isNew, nil
}
