package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/djlord-it/asyncq/internal/domain"
)

// mockStore records jobs and enforces terminal state guards.
type mockStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]domain.Job
	insertErr error
	updates   []domain.Status

	// When set, InsertJob signals insertStarted and blocks until
	// releaseInsert is closed.
	insertStarted chan struct{}
	releaseInsert chan struct{}
}

func newMockStore() *mockStore {
	return &mockStore{jobs: make(map[uuid.UUID]domain.Job)}
}

func (s *mockStore) InsertJob(ctx context.Context, job domain.Job) error {
	if s.releaseInsert != nil {
		close(s.insertStarted)
		<-s.releaseInsert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *mockStore) UpdateStatus(ctx context.Context, jobID uuid.UUID, status domain.Status) error {
	return s.FinishJob(ctx, jobID, status, nil, "")
}

func (s *mockStore) FinishJob(ctx context.Context, jobID uuid.UUID, status domain.Status, result *domain.Result, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(status) {
		return domain.ErrTerminalStatus
	}
	job.Status = status
	job.Result = result
	job.Error = errMsg
	s.jobs[jobID] = job
	s.updates = append(s.updates, status)
	return nil
}

func (s *mockStore) get(id uuid.UUID) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

func (s *mockStore) setStatus(id uuid.UUID, status domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[id]
	job.Status = status
	s.jobs[id] = job
}

type mockPayloads struct {
	mu     sync.Mutex
	bodies map[string][]byte
	err    error
}

func (p *mockPayloads) Put(ctx context.Context, jobID uuid.UUID, body []byte) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	if p.bodies == nil {
		p.bodies = make(map[string][]byte)
	}
	ref := "result:" + jobID.String()
	p.bodies[ref] = body
	return ref, nil
}

func newJob() domain.Job {
	return domain.Job{ID: uuid.New(), Principal: "tester", Query: "SELECT 1", QueryType: domain.QueryTypeSQL}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for handle")
	}
}

// blockingWork returns when ctx is cancelled.
func blockingWork(ctx context.Context) (Output, error) {
	<-ctx.Done()
	return Output{}, ctx.Err()
}

func TestExecutor_CompletesJob(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store)

	job := newJob()
	h, submittedOn, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
		return Output{Body: []byte(`{"rows":[[1]]}`)}, nil
	})
	require.NoError(t, err)
	assert.False(t, submittedOn.IsZero())
	waitDone(t, h)

	got := store.get(job.ID)
	assert.Equal(t, domain.StatusComplete, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, `{"rows":[[1]]}`, got.Result.ResponseBody)
	assert.Equal(t, int64(14), got.Result.ContentLength)
	assert.Equal(t, 200, got.Result.HTTPStatus)
	assert.Equal(t, []domain.Status{domain.StatusProcessing, domain.StatusComplete}, store.updates)
	assert.Equal(t, 0, exec.Active())
}

func TestExecutor_SubmitPersistsQueuedWithSubmissionTime(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store)
	fixed := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	exec.WithClock(func() time.Time { return fixed })

	release := make(chan struct{})
	job := newJob()
	h, submittedOn, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
		<-release
		return Output{}, nil
	})
	require.NoError(t, err)

	assert.Equal(t, fixed, submittedOn)
	assert.True(t, store.get(job.ID).CreatedOn.Equal(fixed))

	close(release)
	waitDone(t, h)
}

func TestExecutor_FailedWork(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store)

	job := newJob()
	h, _, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
		return Output{}, errors.New("syntax error at or near SELEC")
	})
	require.NoError(t, err)
	waitDone(t, h)

	got := store.get(job.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Equal(t, "syntax error at or near SELEC", got.Error)
	assert.Nil(t, got.Result)
	assert.EqualError(t, h.Err(), "syntax error at or near SELEC")
}

func TestExecutor_PanicRecordedAsFailure(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store)

	job := newJob()
	h, _, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
		panic("boom")
	})
	require.NoError(t, err)
	waitDone(t, h)

	assert.Equal(t, domain.StatusFailed, store.get(job.ID).Status)
	assert.Contains(t, store.get(job.ID).Error, "boom")
}

func TestExecutor_TimeoutCauseRecordsTimedOut(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store)

	job := newJob()
	h, _, err := exec.Submit(context.Background(), job, blockingWork)
	require.NoError(t, err)

	h.Cancel(ErrTimedOut)
	waitDone(t, h)

	assert.Equal(t, domain.StatusTimedOut, store.get(job.ID).Status)
}

func TestExecutor_SuccessAfterTimeoutStillTimedOut(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store)

	job := newJob()
	h, _, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
		<-ctx.Done()
		// Work ignores cancellation and reports success anyway.
		return Output{Body: []byte("late")}, nil
	})
	require.NoError(t, err)

	h.Cancel(ErrTimedOut)
	waitDone(t, h)

	got := store.get(job.ID)
	assert.Equal(t, domain.StatusTimedOut, got.Status)
	assert.Nil(t, got.Result)
}

func TestExecutor_UserCancel(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store)

	job := newJob()
	h, _, err := exec.Submit(context.Background(), job, blockingWork)
	require.NoError(t, err)

	require.NoError(t, exec.Cancel(job.ID))
	waitDone(t, h)

	assert.Equal(t, domain.StatusCancelled, store.get(job.ID).Status)
	assert.ErrorIs(t, exec.Cancel(job.ID), ErrNotRunning)
}

func TestExecutor_DoesNotOverwriteTerminalStatus(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store)

	started := make(chan struct{})
	release := make(chan struct{})
	job := newJob()
	h, _, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
		close(started)
		<-release
		return Output{Body: []byte("ok")}, nil
	})
	require.NoError(t, err)

	<-started
	// A sweeper or supervisor ended the job while it was running.
	store.setStatus(job.ID, domain.StatusTimedOut)
	close(release)
	waitDone(t, h)

	assert.Equal(t, domain.StatusTimedOut, store.get(job.ID).Status)
}

func TestExecutor_QueueFull(t *testing.T) {
	store := newMockStore()
	exec := New(Config{Workers: 1, QueueSize: 1}, store)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	work := func(ctx context.Context) (Output, error) {
		started <- struct{}{}
		<-release
		return Output{}, nil
	}

	h1, _, err := exec.Submit(context.Background(), newJob(), work)
	require.NoError(t, err)
	<-started // h1 holds the only worker

	h2, _, err := exec.Submit(context.Background(), newJob(), work)
	require.NoError(t, err) // h2 waits in the queue

	_, _, err = exec.Submit(context.Background(), newJob(), work)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	waitDone(t, h1)
	waitDone(t, h2)
}

func TestExecutor_CancelWhileQueued(t *testing.T) {
	store := newMockStore()
	exec := New(Config{Workers: 1, QueueSize: 10}, store)

	release := make(chan struct{})
	started := make(chan struct{})
	h1, _, err := exec.Submit(context.Background(), newJob(), func(ctx context.Context) (Output, error) {
		close(started)
		<-release
		return Output{}, nil
	})
	require.NoError(t, err)
	<-started

	queued := newJob()
	h2, _, err := exec.Submit(context.Background(), queued, func(ctx context.Context) (Output, error) {
		t.Error("cancelled queued work must not run")
		return Output{}, nil
	})
	require.NoError(t, err)

	h2.Cancel(ErrTimedOut)
	waitDone(t, h2)
	assert.Equal(t, domain.StatusTimedOut, store.get(queued.ID).Status)

	close(release)
	waitDone(t, h1)
}

func TestExecutor_InsertErrorRejects(t *testing.T) {
	store := newMockStore()
	store.insertErr = errors.New("connection refused")
	exec := New(DefaultConfig(), store)

	_, _, err := exec.Submit(context.Background(), newJob(), blockingWork)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, exec.Active())
}

func TestExecutor_PayloadStore(t *testing.T) {
	store := newMockStore()
	payloads := &mockPayloads{}
	exec := New(DefaultConfig(), store).WithPayloads(payloads)

	job := newJob()
	h, _, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
		return Output{Body: []byte("big result")}, nil
	})
	require.NoError(t, err)
	waitDone(t, h)

	got := store.get(job.ID)
	require.NotNil(t, got.Result)
	assert.Equal(t, "result:"+job.ID.String(), got.Result.PayloadRef)
	assert.Empty(t, got.Result.ResponseBody)
	assert.Equal(t, []byte("big result"), payloads.bodies[got.Result.PayloadRef])
}

func TestExecutor_PayloadStoreErrorFailsJob(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store).WithPayloads(&mockPayloads{err: errors.New("redis down")})

	job := newJob()
	h, _, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
		return Output{Body: []byte("x")}, nil
	})
	require.NoError(t, err)
	waitDone(t, h)

	got := store.get(job.ID)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "redis down")
}

func TestExecutor_StopDrainsThenRejects(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store)

	job := newJob()
	h, _, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
		time.Sleep(20 * time.Millisecond)
		return Output{}, nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	exec.Stop(ctx)
	waitDone(t, h)

	assert.Equal(t, domain.StatusComplete, store.get(job.ID).Status)

	_, _, err = exec.Submit(context.Background(), newJob(), blockingWork)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestExecutor_StopTimeoutLeavesStatusForSweeper(t *testing.T) {
	store := newMockStore()
	exec := New(DefaultConfig(), store)

	job := newJob()
	h, _, err := exec.Submit(context.Background(), job, blockingWork)
	require.NoError(t, err)

	// Wait until the job is PROCESSING.
	require.Eventually(t, func() bool {
		return store.get(job.ID).Status == domain.StatusProcessing
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	exec.Stop(ctx)
	waitDone(t, h)

	assert.Equal(t, domain.StatusProcessing, store.get(job.ID).Status)
}

func newGatedStore() *mockStore {
	store := newMockStore()
	store.insertStarted = make(chan struct{})
	store.releaseInsert = make(chan struct{})
	return store
}

type submitResult struct {
	h   *Handle
	err error
}

func TestExecutor_StopWaitsForInFlightSubmit(t *testing.T) {
	store := newGatedStore()
	exec := New(DefaultConfig(), store)

	job := newJob()
	var ran atomic.Bool
	submitted := make(chan submitResult, 1)
	go func() {
		h, _, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
			ran.Store(true)
			return Output{}, nil
		})
		submitted <- submitResult{h, err}
	}()
	<-store.insertStarted

	stopped := make(chan struct{})
	go func() {
		exec.Stop(context.Background())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a submission was still inserting")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.releaseInsert)
	res := <-submitted
	require.NoError(t, res.err)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.True(t, ran.Load(), "accepted work must run before Stop returns")
	assert.Equal(t, domain.StatusComplete, store.get(job.ID).Status)
}

func TestExecutor_StopDeadlineCancelsLateSubmit(t *testing.T) {
	store := newGatedStore()
	exec := New(DefaultConfig(), store)

	job := newJob()
	submitted := make(chan submitResult, 1)
	go func() {
		h, _, err := exec.Submit(context.Background(), job, func(ctx context.Context) (Output, error) {
			<-ctx.Done()
			return Output{}, context.Cause(ctx)
		})
		submitted <- submitResult{h, err}
	}()
	<-store.insertStarted

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stopped := make(chan struct{})
	go func() {
		exec.Stop(ctx)
		close(stopped)
	}()

	close(store.releaseInsert)
	res := <-submitted
	require.NoError(t, res.err)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after its deadline")
	}
	waitDone(t, res.h)
	assert.ErrorIs(t, res.h.Err(), ErrStopped)
	assert.False(t, store.get(job.ID).Status.IsTerminal(), "shutdown leaves the record for the sweeper")
}

func TestExecutor_InsertFailureDoesNotBlockStop(t *testing.T) {
	store := newMockStore()
	store.insertErr = errors.New("disk full")
	exec := New(DefaultConfig(), store)

	_, _, err := exec.Submit(context.Background(), newJob(), blockingWork)
	require.Error(t, err)

	stopped := make(chan struct{})
	go func() {
		exec.Stop(context.Background())
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a rejected submission")
	}
}

func TestHandle_Await(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		h := newHandle(context.Background(), uuid.New())
		go h.finish(nil)
		assert.Equal(t, AwaitCompleted, h.Await(context.Background(), time.Second))
	})

	t.Run("timed out", func(t *testing.T) {
		h := newHandle(context.Background(), uuid.New())
		assert.Equal(t, AwaitTimedOut, h.Await(context.Background(), 10*time.Millisecond))
	})

	t.Run("non-positive wait does not block", func(t *testing.T) {
		h := newHandle(context.Background(), uuid.New())
		assert.Equal(t, AwaitTimedOut, h.Await(context.Background(), 0))
		h.finish(nil)
		assert.Equal(t, AwaitCompleted, h.Await(context.Background(), -time.Second))
	})

	t.Run("interrupted", func(t *testing.T) {
		h := newHandle(context.Background(), uuid.New())
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		assert.Equal(t, AwaitInterrupted, h.Await(ctx, time.Second))
	})
}

func TestHandle_CancelKeepsFirstCause(t *testing.T) {
	h := newHandle(context.Background(), uuid.New())
	h.Cancel(ErrTimedOut)
	h.Cancel(ErrCancelled)
	assert.ErrorIs(t, h.cause(), ErrTimedOut)
}
