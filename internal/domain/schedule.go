package domain

import (
	"fmt"
	"strings"
	"time"
)

// Layouts accepted for scheduled instants. Values without an offset are read as UTC.
var scheduleLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseScheduledDate parses an ISO-8601 instant and normalizes it to UTC.
func ParseScheduledDate(value string) (time.Time, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty scheduled date")
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized scheduled date %q", value)
}

// DateIssue reports a scheduled date that could not be parsed.
type DateIssue struct {
	Value string
	Err   error
}

// DueDates returns the scheduled dates whose instant is at or before now and which are
// not yet in SentDates, in scheduled order. Unparseable dates are reported and skipped.
func (c *Campaign) DueDates(now time.Time) ([]string, []DateIssue) {
	sent := NewStringSet(c.SentDates...)
	var (
		due    []string
		issues []DateIssue
	)
	for _, d := range c.EffectiveScheduledDates() {
		if sent.Has(d) {
			continue
		}
		at, err := ParseScheduledDate(d)
		if err != nil {
			issues = append(issues, DateIssue{Value: d, Err: err})
			continue
		}
		if !at.After(now) {
			due = append(due, d)
		}
	}
	return due, issues
}

// AllDatesProcessed reports whether sent covers every effective scheduled date.
func (c *Campaign) AllDatesProcessed(sent []string) bool {
	return NewStringSet(sent...).ContainsAll(c.EffectiveScheduledDates())
}

// StringSet is a small set helper used for date bookkeeping.
type StringSet map[string]struct{}

// NewStringSet builds a set from values.
func NewStringSet(values ...string) StringSet {
	s := make(StringSet, len(values))
	for _, v := range values {
		s[v] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s StringSet) Has(v string) bool {
	_, ok := s[v]
	return ok
}

// ContainsAll reports whether every value is a member.
func (s StringSet) ContainsAll(values []string) bool {
	for _, v := range values {
		if !s.Has(v) {
			return false
		}
	}
	return true
}

// UnionOrdered returns base followed by the values of extra, without duplicates,
// keeping first-seen order.
func UnionOrdered(base []string, extra ...string) []string {
	seen := make(StringSet, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, group := range [][]string{base, extra} {
		for _, v := range group {
			if seen.Has(v) {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
