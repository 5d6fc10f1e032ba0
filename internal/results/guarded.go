package results

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/djlord-it/asyncq/internal/circuitbreaker"
)

// Payloads is the full payload store surface.
type Payloads interface {
	Put(ctx context.Context, jobID uuid.UUID, body []byte) (string, error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, refs ...string) error
	Ping(ctx context.Context) error
}

// Breaker keys, one per operation so a failing write path does not block reads.
const (
	breakerPut    = "payloads:put"
	breakerGet    = "payloads:get"
	breakerDelete = "payloads:delete"
)

// GuardedStore fails payload calls fast while the backing store is failing.
// Ping is never guarded so health checks see the real state.
type GuardedStore struct {
	next    Payloads
	breaker *circuitbreaker.Breaker
}

// NewGuardedStore wraps next with breaker.
func NewGuardedStore(next Payloads, breaker *circuitbreaker.Breaker) *GuardedStore {
	return &GuardedStore{next: next, breaker: breaker}
}

func (s *GuardedStore) Put(ctx context.Context, jobID uuid.UUID, body []byte) (string, error) {
	var ref string
	err := s.breaker.Do(breakerPut, countable, func() error {
		var err error
		ref, err = s.next.Put(ctx, jobID, body)
		return err
	})
	return ref, err
}

func (s *GuardedStore) Get(ctx context.Context, ref string) ([]byte, error) {
	var body []byte
	err := s.breaker.Do(breakerGet, countable, func() error {
		var err error
		body, err = s.next.Get(ctx, ref)
		return err
	})
	return body, err
}

func (s *GuardedStore) Delete(ctx context.Context, refs ...string) error {
	return s.breaker.Do(breakerDelete, countable, func() error {
		return s.next.Delete(ctx, refs...)
	})
}

func (s *GuardedStore) Ping(ctx context.Context) error {
	return s.next.Ping(ctx)
}

// countable reports whether err says something about the store's health.
// Missing payloads and caller cancellation do not.
func countable(err error) bool {
	return !errors.Is(err, ErrPayloadNotFound) &&
		!errors.Is(err, context.Canceled)
}
