// Package recurrence resolves recurrence rules against a reference time.
//
// Rules are standard 5-field cron expressions evaluated in UTC. Parsing is
// the validation boundary: templates reject bad rules at creation time, so
// the generation path can assume a rule that parses.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidRule is returned when a recurrence rule cannot be parsed.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// Schedule resolves due timestamps for a recurrence rule.
type Schedule struct {
	spec     string
	schedule cron.Schedule
}

// Parse validates and compiles a recurrence rule. It returns an error
// wrapping ErrInvalidRule for rules that do not parse.
func Parse(rule string) (*Schedule, error) {
	if rule == "" {
		return nil, fmt.Errorf("%w: rule cannot be empty", ErrInvalidRule)
	}

	schedule, err := cron.ParseStandard(rule)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRule, rule, err)
	}

	return &Schedule{spec: rule, schedule: schedule}, nil
}

// Validate reports whether the rule parses, without keeping the schedule.
func Validate(rule string) error {
	_, err := Parse(rule)
	return err
}

// Next returns the first due timestamp strictly after the given time, in UTC.
func (s *Schedule) Next(after time.Time) time.Time {
	return s.schedule.Next(after.UTC()).UTC()
}

// Spec returns the original rule text.
func (s *Schedule) Spec() string {
	return s.spec
}
