package cadence

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"remindkit/internal/models"
)

// nativeParser mirrors what a platform recurring trigger stores: wall-clock
// components with second precision, no year.
var nativeParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NativeSpec returns the cron spec a native recurring trigger anchored at
// anchor would store. Daily keeps the time of day, weekly adds the weekday,
// monthly the day of month and yearly the month and day.
func NativeSpec(c models.Cadence, anchor time.Time) (string, error) {
	s, m, h := anchor.Second(), anchor.Minute(), anchor.Hour()
	switch c {
	case models.CadenceDaily:
		return fmt.Sprintf("%d %d %d * * *", s, m, h), nil
	case models.CadenceWeekly:
		return fmt.Sprintf("%d %d %d * * %d", s, m, h, int(anchor.Weekday())), nil
	case models.CadenceMonthly:
		return fmt.Sprintf("%d %d %d %d * *", s, m, h, anchor.Day()), nil
	case models.CadenceYearly:
		return fmt.Sprintf("%d %d %d %d %d *", s, m, h, anchor.Day(), int(anchor.Month())), nil
	default:
		return "", fmt.Errorf("cadence %q has no native recurring trigger", c)
	}
}

// NativeSchedule parses the native cron expression for anchor and pins it to the
// anchor's location, so fixed-offset zones work the same as named ones.
func NativeSchedule(c models.Cadence, anchor time.Time) (cron.Schedule, error) {
	spec, err := NativeSpec(c, anchor)
	if err != nil {
		return nil, err
	}
	sched, err := nativeParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse native spec %q: %w", spec, err)
	}
	if ss, ok := sched.(*cron.SpecSchedule); ok {
		ss.Location = anchor.Location()
	}
	return sched, nil
}

// NativeNext is the immediate next occurrence a native recurring trigger
// registered at now would produce. Native triggers cannot start at an
// arbitrary date: they always begin at the next natural occurrence.
func NativeNext(c models.Cadence, anchor, now time.Time) (time.Time, error) {
	sched, err := NativeSchedule(c, anchor)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("native trigger for %s has no next occurrence", c)
	}
	return next, nil
}
