// Package testutil holds helpers shared by asyncq tests: a settable clock
// for deadline and retention arithmetic, and job fixtures.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/asyncq/internal/domain"
)

// FakeClock is a goroutine-safe clock for code that takes a
// func() time.Time. Pass clock.Now.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock by d, which may be negative.
func (c *FakeClock) Advance(d time.Duration) {
	c.Set(c.Now().Add(d))
}

func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// TestContext is cancelled after 5s or when the test ends.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// NewJob returns a SQL job owned by "tester" in the given status.
func NewJob(status domain.Status, createdOn time.Time) domain.Job {
	return domain.Job{
		ID:        uuid.New(),
		Principal: "tester",
		Query:     "SELECT 1",
		QueryType: domain.QueryTypeSQL,
		Status:    status,
		CreatedOn: createdOn,
		UpdatedOn: createdOn,
	}
}
