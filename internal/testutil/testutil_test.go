package testutil

import (
	"testing"
	"time"

	"github.com/djlord-it/asyncq/internal/domain"
)

func TestFakeClock_Now(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)

	got := clock.Now()
	if !got.Equal(fixed) {
		t.Errorf("Now() = %v, want %v", got, fixed)
	}
}

func TestFakeClock_Advance(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)

	clock.Advance(5 * time.Minute)

	want := fixed.Add(5 * time.Minute)
	got := clock.Now()
	if !got.Equal(want) {
		t.Errorf("after Advance(5m), Now() = %v, want %v", got, want)
	}
}

func TestTestContext_HasDeadline(t *testing.T) {
	ctx := TestContext(t)

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("TestContext should have a deadline")
	}

	remaining := time.Until(deadline)
	if remaining <= 0 || remaining > 6*time.Second {
		t.Errorf("deadline should be ~5s from now, got %v", remaining)
	}
}

func TestFakeClock_AdvanceBackwards(t *testing.T) {
	fixed := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)

	clock.Advance(-time.Hour)

	if got := clock.Now(); !got.Equal(fixed.Add(-time.Hour)) {
		t.Errorf("Now() = %v, want %v", got, fixed.Add(-time.Hour))
	}
}

func TestFakeClock_Set(t *testing.T) {
	clock := NewFakeClock(time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC))
	want := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)

	clock.Set(want)

	if got := clock.Now(); !got.Equal(want) {
		t.Errorf("after Set, Now() = %v, want %v", got, want)
	}
}

func TestNewJob(t *testing.T) {
	createdOn := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	job := NewJob(domain.StatusProcessing, createdOn)

	if job.Status != domain.StatusProcessing {
		t.Errorf("Status = %s, want PROCESSING", job.Status)
	}
	if !job.CreatedOn.Equal(createdOn) {
		t.Errorf("CreatedOn = %v, want %v", job.CreatedOn, createdOn)
	}
	if job.ID == (NewJob(domain.StatusQueued, createdOn)).ID {
		t.Error("NewJob should generate distinct ids")
	}
}
