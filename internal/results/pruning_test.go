package results

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/djlord-it/asyncq/internal/domain"
	"github.com/djlord-it/asyncq/internal/store/memory"
	"github.com/djlord-it/asyncq/internal/sweeper"
	"github.com/djlord-it/asyncq/internal/testutil"
)

type mockDeleter struct {
	refs []string
	err  error
}

func (d *mockDeleter) Delete(ctx context.Context, refs ...string) error {
	d.refs = append(d.refs, refs...)
	return d.err
}

func completedJob(t *testing.T, store *memory.Store, createdOn time.Time, ref string) domain.Job {
	t.Helper()
	job := testutil.NewJob(domain.StatusProcessing, createdOn)
	if err := store.InsertJob(context.Background(), job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	result := &domain.Result{HTTPStatus: 200, PayloadRef: ref, CompletedOn: createdOn}
	if err := store.FinishJob(context.Background(), job.ID, domain.StatusComplete, result, ""); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	job, _ = store.GetJob(context.Background(), job.ID)
	return job
}

func TestPruningStore_DeletesPayloadsWithRecords(t *testing.T) {
	store := memory.New()
	deleter := &mockDeleter{}
	pruning := NewPruningStore(store, deleter)

	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	withRef := completedJob(t, store, now.AddDate(0, 0, -8), "asyncq:result:a")
	inline := completedJob(t, store, now.AddDate(0, 0, -8), "")
	completedJob(t, store, now, "asyncq:result:recent")

	sw := sweeper.New(sweeper.Config{MaxRunTime: time.Hour, RetentionDays: 7}, pruning).
		WithClock(testutil.NewFakeClock(now).Now)
	res, err := sw.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if res.Deleted != 2 {
		t.Errorf("deleted %d, want 2", res.Deleted)
	}
	if len(deleter.refs) != 1 || deleter.refs[0] != withRef.Result.PayloadRef {
		t.Errorf("deleted payloads %v", deleter.refs)
	}
	if _, err := store.GetJob(context.Background(), inline.ID); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("inline record not deleted: %v", err)
	}
}

func TestPruningStore_PayloadErrorStillDeletesRecords(t *testing.T) {
	store := memory.New()
	pruning := NewPruningStore(store, &mockDeleter{err: errors.New("redis down")})

	job := completedJob(t, store, time.Now(), "asyncq:result:x")
	n, err := pruning.DeleteMatching(context.Background(), []domain.Job{job})
	if err != nil {
		t.Fatalf("DeleteMatching: %v", err)
	}
	if n != 1 || store.Len() != 0 {
		t.Errorf("deleted %d, remaining %d", n, store.Len())
	}
}

func TestPruningStore_NoRefsSkipsDeleter(t *testing.T) {
	store := memory.New()
	deleter := &mockDeleter{}
	pruning := NewPruningStore(store, deleter)

	if _, err := pruning.DeleteMatching(context.Background(), nil); err != nil {
		t.Fatalf("DeleteMatching: %v", err)
	}
	if deleter.refs != nil {
		t.Errorf("deleter called with %v", deleter.refs)
	}
}
