package domain

import (
	"strings"
	"time"
)

// FilterTimeLayout is the canonical timestamp format for filter cutoffs:
// UTC with minute precision. Retention and orphan checks are minute-granular,
// so every cutoff is normalised through this layout before it reaches a store.
const FilterTimeLayout = "2006-01-02T15:04Z"

// FormatFilterTime renders t in FilterTimeLayout.
func FormatFilterTime(t time.Time) string {
	return t.UTC().Format(FilterTimeLayout)
}

// ParseFilterTime parses a timestamp in FilterTimeLayout.
func ParseFilterTime(s string) (time.Time, error) {
	return time.Parse(FilterTimeLayout, s)
}

// FilterCutoff normalises t to the value a store compares against: UTC,
// truncated to the minute. It is equivalent to formatting with
// FilterTimeLayout and parsing the result back.
func FilterCutoff(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// Filter is a predicate over job records. All set conditions are ANDed.
type Filter struct {
	// Statuses restricts the match to jobs in one of these statuses.
	// Empty means any status.
	Statuses []Status

	// CreatedOnOrBefore matches jobs with CreatedOn <= the minute-truncated
	// cutoff. The zero value disables the condition.
	CreatedOnOrBefore time.Time

	// Limit caps the number of records returned. Zero means no limit.
	Limit int
}

// Cutoff returns the normalised creation cutoff and whether it is set.
func (f Filter) Cutoff() (time.Time, bool) {
	if f.CreatedOnOrBefore.IsZero() {
		return time.Time{}, false
	}
	return FilterCutoff(f.CreatedOnOrBefore), true
}

// Matches reports whether job satisfies the filter. Stores that evaluate
// filters server-side must agree with this.
func (f Filter) Matches(job Job) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if job.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if cutoff, ok := f.Cutoff(); ok && job.CreatedOn.After(cutoff) {
		return false
	}
	return true
}

// String renders the filter in RSQL form, for logs.
//
//	status=in=(PROCESSING,QUEUED);createdOn=le='2026-10-14T10:05Z'
func (f Filter) String() string {
	var parts []string
	if len(f.Statuses) > 0 {
		names := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			names[i] = string(s)
		}
		parts = append(parts, "status=in=("+strings.Join(names, ",")+")")
	}
	if cutoff, ok := f.Cutoff(); ok {
		parts = append(parts, "createdOn=le='"+FormatFilterTime(cutoff)+"'")
	}
	return strings.Join(parts, ";")
}

// StatusStrings returns the statuses as plain strings, for driver arguments.
func (f Filter) StatusStrings() []string {
	out := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		out[i] = string(s)
	}
	return out
}

// IDs returns the ids of the given jobs in order.
func IDs(jobs []Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID.String()
	}
	return out
}
