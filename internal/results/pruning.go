package results

import (
	"context"
	"log"

	"github.com/djlord-it/asyncq/internal/domain"
	"github.com/djlord-it/asyncq/internal/sweeper"
)

// PayloadDeleter removes stored payloads.
type PayloadDeleter interface {
	Delete(ctx context.Context, refs ...string) error
}

// PruningStore wraps a job store so that deleting records also deletes the
// payloads they reference. Payloads go first; a failure there is logged and
// the records are still deleted, leaving the keys to expire.
type PruningStore struct {
	sweeper.Store
	payloads PayloadDeleter
}

// NewPruningStore wraps store.
func NewPruningStore(store sweeper.Store, payloads PayloadDeleter) *PruningStore {
	return &PruningStore{Store: store, payloads: payloads}
}

// DeleteMatching deletes the payloads owned by jobs, then the records.
func (s *PruningStore) DeleteMatching(ctx context.Context, jobs []domain.Job) (int, error) {
	var refs []string
	for _, job := range jobs {
		if job.Result != nil && job.Result.PayloadRef != "" {
			refs = append(refs, job.Result.PayloadRef)
		}
	}

	if len(refs) > 0 {
		if err := s.payloads.Delete(ctx, refs...); err != nil {
			log.Printf("results: failed to delete %d payloads, leaving them to expire: %v", len(refs), err)
		}
	}

	return s.Store.DeleteMatching(ctx, jobs)
}
