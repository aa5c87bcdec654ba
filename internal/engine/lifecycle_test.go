package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"remindkit/internal/models"
	"remindkit/internal/platform"
	"remindkit/internal/platform/platformtest"
)

func TestReplenishTopsUpWindow(t *testing.T) {
	t.Parallel()
	r := newRig(t, testDescriptor, nil)
	ctx := context.Background()
	res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 3, 9), Cadence: models.CadenceDaily})

	// Five of seven entries have fired.
	r.clk.Set(at(1, 7, 10))
	rep, err := r.eng.Replenish(ctx, models.TrackNotification)
	if err != nil {
		t.Fatalf("replenish: %v", err)
	}
	if rep.Scheduled != 5 || rep.Shortfall != 0 {
		t.Fatalf("report = %+v", rep)
	}
	rows := r.rows(t, res.Reminder.ID, models.TrackNotification)
	if countStatus(rows, models.StatusFired) != 5 || countStatus(rows, models.StatusActive) != 7 {
		t.Fatalf("fired=%d active=%d", countStatus(rows, models.StatusFired), countStatus(rows, models.StatusActive))
	}
	for i, in := range rows[7:] {
		if want := at(1, 10+i, 9); !in.FireAt.Equal(want) {
			t.Fatalf("new row %d fires %s, want %s", i, in.FireAt, want)
		}
	}

	again, err := r.eng.Replenish(ctx, models.TrackNotification)
	if err != nil || again.Scheduled != 0 {
		t.Fatalf("second replenish = %+v, %v", again, err)
	}
}

func TestReplenishShortfall(t *testing.T) {
	t.Parallel()
	desc := testDescriptor
	desc.NotificationCeiling = 9
	r := newRig(t, desc, nil)
	ctx := context.Background()
	r.schedule(t, ScheduleRequest{FirstFireAt: at(3, 1, 9), Cadence: models.CadenceMonthly})
	r.schedule(t, ScheduleRequest{FirstFireAt: at(3, 2, 9), Cadence: models.CadenceMonthly})

	// Fired one-shots leave the platform; the fake keeps them, so drop them here.
	r.clk.Set(at(4, 15, 10))
	for _, e := range mustList(t, r.notif) {
		if e.Trigger.At.Before(r.clk.Now()) {
			_ = r.notif.Cancel(ctx, e.ID)
		}
	}
	r.notif.Put(platform.Entry{ID: "other-app-1", Trigger: platform.OneShot(at(9, 1, 9))})
	r.notif.Put(platform.Entry{ID: "other-app-2", Trigger: platform.OneShot(at(9, 1, 9))})
	r.notif.Put(platform.Entry{ID: "other-app-3", Trigger: platform.OneShot(at(9, 1, 9))})
	r.notif.Put(platform.Entry{ID: "other-app-4", Trigger: platform.OneShot(at(9, 1, 9))})
	r.notif.Put(platform.Entry{ID: "other-app-5", Trigger: platform.OneShot(at(9, 1, 9))})

	// 2 pending + 5 foreign = 7 of 9: four entries wanted, two fit.
	rep, err := r.eng.Replenish(ctx, models.TrackNotification)
	if err != nil {
		t.Fatalf("replenish: %v", err)
	}
	if rep.Scheduled != 2 || rep.Shortfall != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if r.eng.Admission().Reserved(models.TrackNotification) != 0 {
		t.Fatalf("reservations leaked")
	}
}

func mustList(t *testing.T, n *platformtest.Notifications) []platform.Entry {
	t.Helper()
	list, err := n.Scheduled(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return list
}

func TestWindowNeverExceedsTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cad   models.Cadence
		first time.Time
		step  time.Duration
	}{
		{models.CadenceDaily, at(1, 3, 9), 36 * time.Hour},
		{models.CadenceWeekly, at(1, 15, 9), 5 * 24 * time.Hour},
		{models.CadenceMonthly, at(3, 1, 9), 20 * 24 * time.Hour},
		{models.CadenceYearly, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), 200 * 24 * time.Hour},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.cad), func(t *testing.T) {
			t.Parallel()
			desc := testDescriptor
			desc.NotificationCeiling = 500
			r := newRig(t, desc, nil)
			ctx := context.Background()
			res := r.schedule(t, ScheduleRequest{FirstFireAt: tt.first, Cadence: tt.cad})
			target := r.eng.Classifier().WindowTarget(models.TrackNotification, tt.cad)
			for i := 0; i < 12; i++ {
				r.clk.Advance(tt.step)
				if _, err := r.eng.Replenish(ctx, models.TrackNotification); err != nil {
					t.Fatalf("replenish %d: %v", i, err)
				}
				rows := r.rows(t, res.Reminder.ID, models.TrackNotification)
				if n := countStatus(rows, models.StatusActive); n != target {
					t.Fatalf("step %d: %d active rows, target %d", i, n, target)
				}
			}
		})
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("windows on both tracks", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, platform.Profiles["android"], platformtest.NewAlarms(platform.AlarmOneShot))
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 3, 9), Cadence: models.CadenceDaily, WithAlarm: true})
		if r.notif.Len() != 7 || r.alarms.Len() != 7 {
			t.Fatalf("entries notif=%d alarm=%d", r.notif.Len(), r.alarms.Len())
		}

		first, err := r.eng.Cancel(ctx, res.Reminder.ID)
		if err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if first.Cancelled != 14 || first.Failed != 0 {
			t.Fatalf("first = %+v", first)
		}
		cancelledAt := r.reminder(t, res.Reminder.ID).CancelledAt
		if cancelledAt == nil {
			t.Fatalf("CancelledAt not set")
		}

		r.clk.Advance(time.Minute)
		second, err := r.eng.Cancel(ctx, res.Reminder.ID)
		if err != nil {
			t.Fatalf("second cancel: %v", err)
		}
		if second.Cancelled != 0 || second.Failed != 0 {
			t.Fatalf("second = %+v", second)
		}
		rows := r.rows(t, res.Reminder.ID, "")
		if countStatus(rows, models.StatusCancelled) != 14 {
			t.Fatalf("cancelled rows = %d", countStatus(rows, models.StatusCancelled))
		}
		if got := r.reminder(t, res.Reminder.ID).CancelledAt; !got.Equal(*cancelledAt) {
			t.Fatalf("CancelledAt moved from %s to %s", cancelledAt, got)
		}
		if r.notif.Len() != 0 || r.alarms.Len() != 0 {
			t.Fatalf("entries left notif=%d alarm=%d", r.notif.Len(), r.alarms.Len())
		}
	})

	t.Run("native entry", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, nil)
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 2, 9)})
		first, err := r.eng.Cancel(ctx, res.Reminder.ID)
		if err != nil || first.Cancelled != 1 {
			t.Fatalf("first = %+v, %v", first, err)
		}
		second, err := r.eng.Cancel(ctx, res.Reminder.ID)
		if err != nil || second.AlreadyGone != 1 || second.Cancelled != 0 {
			t.Fatalf("second = %+v, %v", second, err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, nil)
		if _, err := r.eng.Cancel(ctx, "reminder-nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestCancelRetriesFailedEntries(t *testing.T) {
	t.Parallel()
	r := newRig(t, testDescriptor, nil)
	ctx := context.Background()
	res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 3, 9), Cadence: models.CadenceDaily})
	stuck := res.Instances[2].PlatformID
	r.notif.FailCancel(stuck, errors.New("busy"))

	rep, err := r.eng.Cancel(ctx, res.Reminder.ID)
	if !errors.Is(err, ErrPlatform) {
		t.Fatalf("err = %v", err)
	}
	if rep.Failed != 1 || rep.Cancelled != 6 {
		t.Fatalf("report = %+v", rep)
	}
	for _, in := range r.rows(t, res.Reminder.ID, "") {
		if in.PlatformID == stuck && in.Status != models.StatusActive {
			t.Fatalf("failed row marked %s", in.Status)
		}
	}

	r.notif.ClearFailures()
	rep, err = r.eng.Cancel(ctx, res.Reminder.ID)
	if err != nil || rep.Cancelled != 1 {
		t.Fatalf("retry = %+v, %v", rep, err)
	}
	if n := countStatus(r.rows(t, res.Reminder.ID, ""), models.StatusActive); n != 0 {
		t.Fatalf("%d rows still active", n)
	}
}

func TestDeleteKeepsLedger(t *testing.T) {
	t.Parallel()
	r := newRig(t, testDescriptor, nil)
	ctx := context.Background()
	res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 3, 9), Cadence: models.CadenceDaily})
	if _, err := r.eng.Tap(ctx, TapEvent{PlatformID: res.Instances[0].PlatformID}); err != nil {
		t.Fatalf("tap: %v", err)
	}
	if _, err := r.eng.Delete(ctx, res.Reminder.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.store.GetReminder(ctx, res.Reminder.ID); err == nil {
		t.Fatalf("record still present")
	}
	if rows := r.rows(t, res.Reminder.ID, ""); len(rows) != 0 {
		t.Fatalf("%d rows survived delete", len(rows))
	}
	occ, err := r.store.ListOccurrences(ctx, res.Reminder.ID)
	if err != nil || len(occ) != 1 {
		t.Fatalf("occurrences = %d, %v", len(occ), err)
	}
}

func TestArchive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("window waits for every row", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, nil)
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 3, 9), Cadence: models.CadenceDaily})
		id := res.Reminder.ID

		if rep, err := r.eng.Archive(ctx); err != nil || len(rep.Archived) != 0 {
			t.Fatalf("live window archived: %+v, %v", rep, err)
		}

		r.notif.FailCancel(res.Instances[4].PlatformID, errors.New("busy"))
		if _, err := r.eng.Cancel(ctx, id); err == nil {
			t.Fatalf("cancel should report the stuck entry")
		}
		if rep, err := r.eng.Archive(ctx); err != nil || len(rep.Archived) != 0 {
			t.Fatalf("archived with an active row: %+v, %v", rep, err)
		}
		r.reminder(t, id)

		r.notif.ClearFailures()
		if _, err := r.eng.Cancel(ctx, id); err != nil {
			t.Fatalf("cancel retry: %v", err)
		}
		rep, err := r.eng.Archive(ctx)
		if err != nil || len(rep.Archived) != 1 {
			t.Fatalf("archive = %+v, %v", rep, err)
		}
		if _, err := r.store.GetReminder(ctx, id); err == nil {
			t.Fatalf("archived reminder still live")
		}

		again, err := r.eng.Archive(ctx)
		if err != nil || len(again.Archived) != 0 {
			t.Fatalf("second archive = %+v, %v", again, err)
		}
		archived, _ := r.store.ListArchived(ctx)
		if len(archived) != 1 {
			t.Fatalf("archive rows = %d", len(archived))
		}
		if archived[0].HandledAt == nil || !archived[0].HandledAt.Equal(*archived[0].Reminder.CancelledAt) {
			t.Fatalf("handled at = %v", archived[0].HandledAt)
		}
	})

	t.Run("one-shot after it fired", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, nil)
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 1, 12)})
		if rep, _ := r.eng.Archive(ctx); len(rep.Archived) != 0 {
			t.Fatalf("archived before firing")
		}
		r.clk.Set(at(1, 1, 13))
		rep, err := r.eng.Archive(ctx)
		if err != nil || len(rep.Archived) != 1 {
			t.Fatalf("archive = %+v, %v", rep, err)
		}
		archived, _ := r.store.ListArchived(ctx)
		if !archived[0].HandledAt.Equal(at(1, 1, 12)) {
			t.Fatalf("handled at = %v", archived[0].HandledAt)
		}
		occ, _ := r.store.ListOccurrences(ctx, res.Reminder.ID)
		if len(occ) != 1 || occ[0].Source != models.SourceCatchUp || !occ[0].FireAt.Equal(at(1, 1, 12)) {
			t.Fatalf("occurrences = %+v", occ)
		}
	})

	t.Run("native recurring stays until cancelled", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, nil)
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 2, 9), Cadence: models.CadenceDaily})
		r.clk.Set(at(2, 1, 9))
		if rep, _ := r.eng.Archive(ctx); len(rep.Archived) != 0 {
			t.Fatalf("archived a live recurring reminder")
		}
		if _, err := r.eng.Cancel(ctx, res.Reminder.ID); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if rep, _ := r.eng.Archive(ctx); len(rep.Archived) != 1 {
			t.Fatalf("cancelled reminder not archived")
		}
	})
}

func TestMigrate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("free slot", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, nil)
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 3, 9), Cadence: models.CadenceDaily})

		rep, err := r.eng.Migrate(ctx)
		if err != nil || rep.Checked != 1 || len(rep.Migrated) != 0 {
			t.Fatalf("early migrate = %+v, %v", rep, err)
		}

		// Native next from here is 01-03 09:00, the first pending row.
		r.clk.Set(at(1, 2, 10))
		rep, err = r.eng.Migrate(ctx)
		if err != nil || len(rep.Migrated) != 1 {
			t.Fatalf("migrate = %+v, %v", rep, err)
		}
		got := r.reminder(t, res.Reminder.ID)
		if got.Method != models.MethodNativeRecurring || got.ObservedThrough == nil {
			t.Fatalf("record = %+v", got)
		}
		if e, ok := r.notif.Entry(res.Reminder.ID); !ok || e.Trigger.Kind != platform.TriggerRecurring {
			t.Fatalf("native entry = %+v, %v", e, ok)
		}
		if r.notif.Len() != 1 {
			t.Fatalf("platform entries = %d", r.notif.Len())
		}
		if n := countStatus(r.rows(t, res.Reminder.ID, ""), models.StatusCancelled); n != 7 {
			t.Fatalf("cancelled rows = %d", n)
		}

		rep, _ = r.eng.Migrate(ctx)
		if rep.Checked != 0 {
			t.Fatalf("native reminder rechecked")
		}
	})

	t.Run("full track cancels first", func(t *testing.T) {
		t.Parallel()
		desc := testDescriptor
		desc.NotificationCeiling = 7
		r := newRig(t, desc, nil)
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 3, 9), Cadence: models.CadenceDaily})
		r.clk.Set(at(1, 2, 10))
		rep, err := r.eng.Migrate(ctx)
		if err != nil || len(rep.Migrated) != 1 {
			t.Fatalf("migrate = %+v, %v", rep, err)
		}
		if _, ok := r.notif.Entry(res.Reminder.ID); !ok || r.notif.Len() != 1 {
			t.Fatalf("platform entries = %d", r.notif.Len())
		}
	})

	t.Run("failure leaves the window", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, nil)
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 3, 9), Cadence: models.CadenceDaily})
		r.notif.FailCancel(res.Instances[3].PlatformID, errors.New("busy"))
		r.clk.Set(at(1, 2, 10))
		if _, err := r.eng.Migrate(ctx); !errors.Is(err, ErrPlatform) {
			t.Fatalf("err = %v", err)
		}
		if got := r.reminder(t, res.Reminder.ID); got.Method != models.MethodRollingWindow {
			t.Fatalf("method = %s", got.Method)
		}
		if _, ok := r.notif.Entry(res.Reminder.ID); ok {
			t.Fatalf("native entry left behind")
		}
		if r.notif.Len() != 7 {
			t.Fatalf("platform entries = %d, want 7", r.notif.Len())
		}
		if n := countStatus(r.rows(t, res.Reminder.ID, ""), models.StatusActive); n != 7 {
			t.Fatalf("active rows = %d", n)
		}
	})

	t.Run("dialect without monthly", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, platform.Profiles["android"], nil)
		r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 20, 9), Cadence: models.CadenceMonthly})
		rep, _ := r.eng.Migrate(ctx)
		if rep.Checked != 0 {
			t.Fatalf("monthly window considered for migration")
		}
	})
}

func TestLedger(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("tap and catch up a window", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, nil)
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 3, 9), Cadence: models.CadenceDaily})
		r.clk.Set(at(1, 3, 9).Add(time.Minute))

		ok, err := r.eng.Tap(ctx, TapEvent{PlatformID: res.Instances[0].PlatformID})
		if err != nil || !ok {
			t.Fatalf("tap = %v, %v", ok, err)
		}
		if ok, _ := r.eng.Tap(ctx, TapEvent{PlatformID: res.Instances[0].PlatformID}); ok {
			t.Fatalf("duplicate tap recorded")
		}

		r.clk.Set(at(1, 5, 10))
		rep, err := r.eng.CatchUp(ctx)
		if err != nil || rep.Recorded != 2 {
			t.Fatalf("catch up = %+v, %v", rep, err)
		}
		occ, _ := r.store.ListOccurrences(ctx, res.Reminder.ID)
		if len(occ) != 3 {
			t.Fatalf("occurrences = %d", len(occ))
		}
		if occ[0].Source != models.SourceTap || occ[0].Content.Title != "Stretch" || !occ[0].FireAt.Equal(at(1, 3, 9)) {
			t.Fatalf("tap row = %+v", occ[0])
		}
		if countStatus(r.rows(t, res.Reminder.ID, ""), models.StatusFired) != 3 {
			t.Fatalf("fired rows mismatch")
		}
	})

	t.Run("alarm window id", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, platform.Profiles["android"], platformtest.NewAlarms(platform.AlarmOneShot))
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 8, 9), Cadence: models.CadenceWeekly, WithAlarm: true})
		alarmRows := r.rows(t, res.Reminder.ID, models.TrackAlarm)
		ok, err := r.eng.Tap(ctx, TapEvent{PlatformID: alarmRows[0].PlatformID, Track: models.TrackAlarm})
		if err != nil || !ok {
			t.Fatalf("tap = %v, %v", ok, err)
		}
		occ, _ := r.store.ListOccurrences(ctx, res.Reminder.ID)
		if len(occ) != 1 || !occ[0].FireAt.Equal(at(1, 8, 9)) {
			t.Fatalf("occurrences = %+v", occ)
		}
	})

	t.Run("native expansion", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, nil)
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 2, 9), Cadence: models.CadenceDaily})

		ok, err := r.eng.RecordDelivery(ctx, platform.Delivery{Track: models.TrackNotification, ID: res.Reminder.ID, FireAt: at(1, 2, 9)})
		if err != nil || !ok {
			t.Fatalf("delivery = %v, %v", ok, err)
		}

		r.clk.Set(at(1, 4, 10))
		rep, err := r.eng.CatchUp(ctx)
		if err != nil || rep.Recorded != 2 {
			t.Fatalf("catch up = %+v, %v", rep, err)
		}
		if rep, _ := r.eng.CatchUp(ctx); rep.Recorded != 0 {
			t.Fatalf("catch up not idempotent: %+v", rep)
		}
		occ, _ := r.store.ListOccurrences(ctx, res.Reminder.ID)
		if len(occ) != 3 || !occ[2].FireAt.Equal(at(1, 4, 9)) {
			t.Fatalf("occurrences = %+v", occ)
		}
	})

	t.Run("snoozed alarm delivered late", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, platform.Profiles["android"], platformtest.NewAlarms(platform.AlarmOneShot))
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 8, 9), Cadence: models.CadenceWeekly, WithAlarm: true})
		alarmRows := r.rows(t, res.Reminder.ID, models.TrackAlarm)

		r.clk.Set(at(1, 8, 9).Add(5 * time.Minute))
		if _, err := r.eng.CatchUp(ctx); err != nil {
			t.Fatalf("catch up: %v", err)
		}
		before, _ := r.store.ListOccurrences(ctx, res.Reminder.ID)
		if len(before) != 1 {
			t.Fatalf("occurrences after catch up = %+v", before)
		}

		r.clk.Set(at(1, 8, 9).Add(15 * time.Minute))
		ok, err := r.eng.RecordDelivery(ctx, platform.Delivery{
			Track:  models.TrackAlarm,
			ID:     alarmRows[0].PlatformID,
			FireAt: at(1, 8, 9).Add(10 * time.Minute),
		})
		if err != nil || ok {
			t.Fatalf("late delivery = %v, %v; want already recorded", ok, err)
		}
		occ, _ := r.store.ListOccurrences(ctx, res.Reminder.ID)
		if len(occ) != 1 || !occ[0].FireAt.Equal(at(1, 8, 9)) {
			t.Fatalf("occurrences = %+v", occ)
		}
	})

	t.Run("unknown platform id", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, nil)
		if _, err := r.eng.Tap(ctx, TapEvent{PlatformID: "reminder-gone@1735722000"}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestForegroundDebounce(t *testing.T) {
	t.Parallel()
	r := newRig(t, testDescriptor, nil)
	ctx := context.Background()

	rep, err := r.eng.ForceForeground(ctx)
	if err != nil || rep.Debounced {
		t.Fatalf("forced pass = %+v, %v", rep, err)
	}
	rep, _ = r.eng.Foreground(ctx)
	if !rep.Debounced {
		t.Fatalf("pass right after a forced one was not debounced")
	}
	r.clk.Advance(DefaultForegroundMinInterval + time.Second)
	rep, _ = r.eng.Foreground(ctx)
	if rep.Debounced {
		t.Fatalf("pass after the interval was debounced")
	}
}

func TestForegroundPass(t *testing.T) {
	t.Parallel()
	r := newRig(t, testDescriptor, nil)
	ctx := context.Background()
	monthly := r.schedule(t, ScheduleRequest{FirstFireAt: at(3, 1, 9), Cadence: models.CadenceMonthly})
	single := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 2, 9)})

	r.clk.Set(at(4, 15, 10))
	rep, err := r.eng.ForceForeground(ctx)
	if err != nil {
		t.Fatalf("pass: %v", err)
	}
	if len(rep.Archive.Archived) != 1 || rep.Archive.Archived[0] != single.Reminder.ID {
		t.Fatalf("archived = %v", rep.Archive.Archived)
	}
	if rep.NotificationRefill.Scheduled != 2 {
		t.Fatalf("refill = %+v", rep.NotificationRefill)
	}
	if !rep.AlarmRefill.Skipped {
		t.Fatalf("alarm refill ran without alarms")
	}
	occ, _ := r.store.ListOccurrences(ctx, monthly.Reminder.ID)
	if len(occ) != 2 {
		t.Fatalf("monthly occurrences = %d", len(occ))
	}
}

func TestResync(t *testing.T) {
	t.Parallel()
	r := newRig(t, testDescriptor, nil)
	ctx := context.Background()
	r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 3, 9), Cadence: models.CadenceDaily})
	r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 2, 9)})

	for _, e := range mustList(t, r.notif) {
		_ = r.notif.Cancel(ctx, e.ID)
	}
	rep, err := r.eng.Resync(ctx)
	if err != nil || rep.Registered != 8 {
		t.Fatalf("resync = %+v, %v", rep, err)
	}
	if r.notif.Len() != 8 {
		t.Fatalf("platform entries = %d", r.notif.Len())
	}
}

func TestSnooze(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("bare alarm", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, platformtest.NewAlarms(platform.AlarmRecurring))
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 2, 9), WithAlarm: true})
		if err := r.eng.Snooze(ctx, res.Reminder.ID, 5*time.Minute); err != nil {
			t.Fatalf("snooze: %v", err)
		}
		if d, ok := r.alarms.Snoozed(res.Reminder.AlarmID()); !ok || d != 5*time.Minute {
			t.Fatalf("snoozed = %s, %v", d, ok)
		}
	})

	t.Run("window alarm snoozes the next entry", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, platform.Profiles["android"], platformtest.NewAlarms(platform.AlarmOneShot))
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 8, 9), Cadence: models.CadenceWeekly, WithAlarm: true})
		if err := r.eng.Snooze(ctx, res.Reminder.ID, time.Minute); err != nil {
			t.Fatalf("snooze: %v", err)
		}
		first := alarmInstanceID(res.Reminder.ID, at(1, 8, 9))
		if _, ok := r.alarms.Snoozed(first); !ok {
			t.Fatalf("earliest alarm entry not snoozed")
		}
	})

	t.Run("not found", func(t *testing.T) {
		t.Parallel()
		r := newRig(t, testDescriptor, platformtest.NewAlarms(platform.AlarmRecurring))
		if err := r.eng.Snooze(ctx, "reminder-nope", time.Minute); !errors.Is(err, ErrNotFound) {
			t.Fatalf("err = %v", err)
		}
		res := r.schedule(t, ScheduleRequest{FirstFireAt: at(1, 2, 9)})
		if err := r.eng.Snooze(ctx, res.Reminder.ID, time.Minute); !errors.Is(err, ErrNotFound) {
			t.Fatalf("reminder without alarm: %v", err)
		}
	})
}
