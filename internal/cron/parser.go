// Package cron parses the sweep cadence.
//
// A cadence is a five-field cron expression or a descriptor such as
// "@hourly" or "@every 5m". Schedules are evaluated in UTC.
package cron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule reports the next activation after a given time.
type Schedule = cron.Schedule

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Parse parses expression. Timezone prefixes (CRON_TZ=, TZ=) are rejected;
// every schedule runs in UTC.
func (p *Parser) Parse(expression string) (Schedule, error) {
	expression = strings.TrimSpace(expression)
	if strings.HasPrefix(expression, "CRON_TZ=") || strings.HasPrefix(expression, "TZ=") {
		return nil, fmt.Errorf("parse cron: timezone prefixes are not supported, schedules run in UTC")
	}

	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	return &utcSchedule{sched: sched}, nil
}

type utcSchedule struct {
	sched cron.Schedule
}

func (s *utcSchedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.UTC())
}

// Interval returns the gap between the first two activations after t. It is
// used to sanity check a cadence against the maximum run time.
func Interval(s Schedule, t time.Time) time.Duration {
	first := s.Next(t)
	if first.IsZero() {
		return 0
	}
	second := s.Next(first)
	if second.IsZero() {
		return 0
	}
	return second.Sub(first)
}
