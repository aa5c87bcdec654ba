package engine

import (
	"testing"
	"time"

	"remindkit/internal/cadence"
	"remindkit/internal/models"
	"remindkit/internal/platform"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	calendar := Classifier{Dialect: platform.DialectCalendar, Windows: cadence.DefaultWindows, Thresholds: cadence.DefaultThresholds}
	dailyWeekly := calendar
	dailyWeekly.Dialect = platform.DialectDailyWeekly

	tests := []struct {
		name   string
		c      Classifier
		cad    models.Cadence
		first  time.Time
		method models.SchedulingMethod
		size   int
	}{
		{"none", calendar, models.CadenceNone, at(1, 3, 9), models.MethodSingleNative, 1},
		{"daily immediate", calendar, models.CadenceDaily, at(1, 2, 9), models.MethodNativeRecurring, 1},
		{"daily later", calendar, models.CadenceDaily, at(1, 3, 9), models.MethodRollingWindow, 7},
		{"daily later today", calendar, models.CadenceDaily, at(1, 1, 11), models.MethodNativeRecurring, 1},
		{"weekly immediate", calendar, models.CadenceWeekly, at(1, 8, 9), models.MethodNativeRecurring, 1},
		{"weekly skips a week", calendar, models.CadenceWeekly, at(1, 15, 9), models.MethodRollingWindow, 4},
		{"monthly within threshold", calendar, models.CadenceMonthly, at(1, 20, 9), models.MethodNativeRecurring, 1},
		{"monthly beyond threshold", calendar, models.CadenceMonthly, at(3, 1, 9), models.MethodRollingWindow, 3},
		{"yearly within threshold", calendar, models.CadenceYearly, at(6, 1, 9), models.MethodNativeRecurring, 1},
		{"yearly beyond threshold", calendar, models.CadenceYearly, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), models.MethodRollingWindow, 2},
		{"monthly without calendar dialect", dailyWeekly, models.CadenceMonthly, at(1, 20, 9), models.MethodRollingWindow, 3},
		{"weekly on daily-weekly dialect", dailyWeekly, models.CadenceWeekly, at(1, 8, 9), models.MethodNativeRecurring, 1},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := tt.c.Classify(tt.cad, tt.first, epoch)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if d.Method != tt.method || d.WindowSize != tt.size {
				t.Fatalf("got %s/%d, want %s/%d", d.Method, d.WindowSize, tt.method, tt.size)
			}
		})
	}
}

func TestClassifyMonthEnds(t *testing.T) {
	t.Parallel()
	c := Classifier{Dialect: platform.DialectCalendar, Windows: cadence.DefaultWindows, Thresholds: cadence.DefaultThresholds}
	utc := func(y int, m time.Month, d, h int) time.Time { return time.Date(y, m, d, h, 0, 0, 0, time.UTC) }
	tests := []struct {
		name   string
		cad    models.Cadence
		now    time.Time
		first  time.Time
		method models.SchedulingMethod
	}{
		{"past clamped month end", models.CadenceMonthly, utc(2025, 1, 31, 10), utc(2025, 3, 2, 9), models.MethodRollingWindow},
		{"next natural day", models.CadenceMonthly, utc(2025, 1, 31, 10), utc(2025, 2, 2, 9), models.MethodNativeRecurring},
		{"last day of february", models.CadenceMonthly, utc(2025, 1, 31, 10), utc(2025, 2, 28, 9), models.MethodNativeRecurring},
		{"leap day plus a year", models.CadenceYearly, utc(2024, 2, 29, 10), utc(2025, 3, 1, 9), models.MethodRollingWindow},
		{"leap day to feb 28", models.CadenceYearly, utc(2024, 2, 29, 10), utc(2025, 2, 28, 9), models.MethodNativeRecurring},
	}
	for _, tt := range tests {
		d, err := c.Classify(tt.cad, tt.first, tt.now)
		if err != nil {
			t.Fatalf("%s: Classify: %v", tt.name, err)
		}
		if d.Method != tt.method {
			t.Errorf("%s: method = %s, want %s", tt.name, d.Method, tt.method)
		}
		if d.Method != models.MethodNativeRecurring {
			continue
		}
		next, err := cadence.NativeNext(tt.cad, tt.first, tt.now)
		if err != nil || !next.Equal(tt.first) {
			t.Errorf("%s: native trigger first fires %s, want %s (%v)", tt.name, next, tt.first, err)
		}
	}
}

func TestPlanAlarm(t *testing.T) {
	t.Parallel()
	c := Classifier{AlarmWindows: cadence.DefaultAlarmWindows}
	tests := []struct {
		name      string
		cad       models.Cadence
		immediate bool
		level     platform.AlarmCapability
		shape     models.AlarmShape
		size      int
	}{
		{"unavailable", models.CadenceDaily, true, platform.AlarmUnavailable, models.AlarmShapeNone, 0},
		{"one shot", models.CadenceNone, true, platform.AlarmOneShot, models.AlarmShapeSingle, 1},
		{"weekly recurring", models.CadenceWeekly, true, platform.AlarmRecurring, models.AlarmShapeRecurring, 1},
		{"weekly not immediate", models.CadenceWeekly, false, platform.AlarmRecurring, models.AlarmShapeWindow, 4},
		{"weekly one-shot platform", models.CadenceWeekly, true, platform.AlarmOneShot, models.AlarmShapeWindow, 4},
		{"daily", models.CadenceDaily, true, platform.AlarmRecurring, models.AlarmShapeWindow, 7},
		{"yearly", models.CadenceYearly, true, platform.AlarmOneShot, models.AlarmShapeWindow, 2},
	}
	for _, tt := range tests {
		got := c.PlanAlarm(tt.cad, tt.immediate, tt.level)
		if got.Shape != tt.shape || got.WindowSize != tt.size {
			t.Errorf("%s: got %s/%d, want %s/%d", tt.name, got.Shape, got.WindowSize, tt.shape, tt.size)
		}
	}
}
