package cadence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"remindkit/internal/models"
)

// maxScan bounds iteration over unbounded series.
const maxScan = 100000

// Series enumerates the fire times of a cadence anchored at its first fire.
// Days that do not exist in a period are skipped (a monthly series on the
// 31st has no entry in April), which is what calendar-native recurrence does.
type Series struct {
	cadence models.Cadence
	rule    *rrule.RRule
}

func frequency(c models.Cadence) (rrule.Frequency, error) {
	switch c {
	case models.CadenceNone, models.CadenceDaily:
		return rrule.DAILY, nil
	case models.CadenceWeekly:
		return rrule.WEEKLY, nil
	case models.CadenceMonthly:
		return rrule.MONTHLY, nil
	case models.CadenceYearly:
		return rrule.YEARLY, nil
	default:
		return 0, fmt.Errorf("unknown cadence %q", c)
	}
}

func NewSeries(c models.Cadence, anchor time.Time) (*Series, error) {
	if anchor.IsZero() {
		return nil, fmt.Errorf("series anchor required")
	}
	freq, err := frequency(c)
	if err != nil {
		return nil, err
	}
	opt := rrule.ROption{Freq: freq, Dtstart: anchor.Truncate(time.Second)}
	if !c.Repeats() {
		opt.Count = 1
	}
	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build %s series: %w", c, err)
	}
	return &Series{cadence: c, rule: r}, nil
}

func (s *Series) Cadence() models.Cadence { return s.cadence }

// First returns the first n fire times starting at the anchor.
func (s *Series) First(n int) []time.Time {
	return s.NextAfter(time.Time{}, n)
}

// NextAfter returns up to n fire times strictly after t.
func (s *Series) NextAfter(t time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	next := s.rule.Iterator()
	for i := 0; i < maxScan; i++ {
		v, ok := next()
		if !ok {
			break
		}
		if !v.After(t) {
			continue
		}
		out = append(out, v)
		if len(out) == n {
			break
		}
	}
	return out
}

// Between returns fire times in the half-open interval (after, through].
func (s *Series) Between(after, through time.Time) []time.Time {
	if !through.After(after) {
		return nil
	}
	all := s.rule.Between(after, through, true)
	out := all[:0]
	for _, v := range all {
		if v.After(after) {
			out = append(out, v)
		}
	}
	return out
}
