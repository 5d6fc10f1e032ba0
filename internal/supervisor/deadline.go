package supervisor

import "time"

// Remaining returns how long a job submitted at submittedOn may still run
// at now. A non-positive result means the deadline has passed.
//
// Callers should pass timestamps from the same clock. When submittedOn was
// produced by time.Now and not stripped (no UTC, Round or Truncate), the
// subtraction uses the monotonic reading and ignores wall clock steps.
func Remaining(maxRunTime time.Duration, submittedOn, now time.Time) time.Duration {
	return maxRunTime - now.Sub(submittedOn)
}
