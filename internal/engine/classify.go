package engine

import (
	"fmt"
	"time"

	"remindkit/internal/cadence"
	"remindkit/internal/models"
	"remindkit/internal/platform"
)

// Decision is the classifier output for the notification track.
type Decision struct {
	Method models.SchedulingMethod
	// WindowSize is the number of entries the method needs; 1 for native methods.
	WindowSize int
	// Immediate records whether a native trigger registered now would start
	// exactly at the requested first fire.
	Immediate bool
}

// AlarmPlan is the classifier output for the alarm track.
type AlarmPlan struct {
	Shape      models.AlarmShape
	WindowSize int
}

type cadenceGroup uint8

const (
	groupNone cadenceGroup = iota
	// groupNear cadences store only time of day (and weekday); immediacy is
	// exact equality with the native next occurrence.
	groupNear
	// groupFar cadences compare against a calendar-relative threshold.
	groupFar
)

func groupOf(c models.Cadence) cadenceGroup {
	switch c {
	case models.CadenceDaily, models.CadenceWeekly:
		return groupNear
	case models.CadenceMonthly, models.CadenceYearly:
		return groupFar
	default:
		return groupNone
	}
}

type decisionKey struct {
	group     cadenceGroup
	immediate bool
}

var decisionTable = map[decisionKey]models.SchedulingMethod{
	{groupNone, false}: models.MethodSingleNative,
	{groupNone, true}:  models.MethodSingleNative,
	{groupNear, true}:  models.MethodNativeRecurring,
	{groupNear, false}: models.MethodRollingWindow,
	{groupFar, true}:   models.MethodNativeRecurring,
	{groupFar, false}:  models.MethodRollingWindow,
}

// Classifier decides between native recurrence and a rolling window.
type Classifier struct {
	Dialect      platform.Dialect
	Windows      cadence.Windows
	AlarmWindows cadence.Windows
	Thresholds   cadence.Thresholds
}

// Immediate reports whether firstFire is what the native trigger would
// produce next when registered at now.
func (c Classifier) Immediate(cad models.Cadence, firstFire, now time.Time) (bool, error) {
	switch groupOf(cad) {
	case groupNear:
		next, err := cadence.NativeNext(cad, firstFire, now)
		if err != nil {
			return false, err
		}
		return next.Equal(firstFire), nil
	case groupFar:
		limit, _ := c.Thresholds.Limit(cad, now)
		if !firstFire.Before(limit) {
			return false, nil
		}
		next, err := cadence.NativeNext(cad, firstFire, now)
		if err != nil {
			return false, err
		}
		return next.Equal(firstFire), nil
	default:
		return true, nil
	}
}

func (c Classifier) Classify(cad models.Cadence, firstFire, now time.Time) (Decision, error) {
	immediate, err := c.Immediate(cad, firstFire, now)
	if err != nil {
		return Decision{}, err
	}
	method, ok := decisionTable[decisionKey{groupOf(cad), immediate}]
	if !ok {
		return Decision{}, fmt.Errorf("no scheduling method for cadence %q", cad)
	}
	if method == models.MethodNativeRecurring && !c.Dialect.SupportsNative(cad) {
		method = models.MethodRollingWindow
	}
	d := Decision{Method: method, WindowSize: 1, Immediate: immediate}
	if method == models.MethodRollingWindow {
		d.WindowSize = c.Windows.WithDefaults(cadence.DefaultWindows).Size(cad)
	}
	return d, nil
}

// PlanAlarm picks the alarm-track shape for the cadence on a platform with
// the given capability level.
func (c Classifier) PlanAlarm(cad models.Cadence, immediate bool, level platform.AlarmCapability) AlarmPlan {
	switch {
	case level == platform.AlarmUnavailable:
		return AlarmPlan{Shape: models.AlarmShapeNone}
	case !cad.Repeats():
		return AlarmPlan{Shape: models.AlarmShapeSingle, WindowSize: 1}
	case cad == models.CadenceWeekly && immediate && level == platform.AlarmRecurring:
		return AlarmPlan{Shape: models.AlarmShapeRecurring, WindowSize: 1}
	default:
		return AlarmPlan{
			Shape:      models.AlarmShapeWindow,
			WindowSize: c.AlarmWindows.WithDefaults(cadence.DefaultAlarmWindows).Size(cad),
		}
	}
}

// WindowTarget is the target number of pending entries for a window-backed track.
func (c Classifier) WindowTarget(track models.Track, cad models.Cadence) int {
	if track == models.TrackAlarm {
		return c.AlarmWindows.WithDefaults(cadence.DefaultAlarmWindows).Size(cad)
	}
	return c.Windows.WithDefaults(cadence.DefaultWindows).Size(cad)
}
