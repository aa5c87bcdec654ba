package engine

import (
	"context"
	"sync"

	"remindkit/internal/models"
	logx "remindkit/pkg/logx"
)

// UsageSource reports live (scheduled, ceiling) counts per track.
type UsageSource interface {
	Usage(ctx context.Context, track models.Track) (scheduled, ceiling int, err error)
}

// Admission gates registrations against the remaining slots of a track.
//
// The platform offers no lock, so admission is check-then-act. Slots handed
// out but not yet visible in the live count are held as reservations, which
// narrows the race with concurrent batches. Reconcile drops whatever is left
// over when the live count is authoritative again.
type Admission struct {
	usage UsageSource
	log   logx.Logger

	mu       sync.Mutex
	reserved map[models.Track]int
}

func NewAdmission(usage UsageSource, log logx.Logger) *Admission {
	return &Admission{usage: usage, log: log.Component("admission"), reserved: map[models.Track]int{}}
}

// Reservation holds admitted slots until Release.
type Reservation struct {
	a     *Admission
	track models.Track
	n     int
	once  sync.Once
}

// Count is the number of slots granted.
func (r *Reservation) Count() int {
	if r == nil {
		return 0
	}
	return r.n
}

// Release returns the slots. Safe to call more than once and on nil.
func (r *Reservation) Release() {
	if r == nil || r.a == nil {
		return
	}
	r.once.Do(func() {
		r.a.mu.Lock()
		r.a.reserved[r.track] -= r.n
		if r.a.reserved[r.track] < 0 {
			r.a.reserved[r.track] = 0
		}
		r.a.mu.Unlock()
	})
}

// Remaining is ceiling - scheduled - reserved + credit, never negative.
// credit counts slots the caller is about to give back (an edit replacing
// the old reminder's entries).
func (a *Admission) Remaining(ctx context.Context, track models.Track, credit int) (int, error) {
	scheduled, ceiling, err := a.usage.Usage(ctx, track)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	res := a.reserved[track]
	a.mu.Unlock()
	rem := ceiling - scheduled - res + credit
	if rem < 0 {
		rem = 0
	}
	return rem, nil
}

// Admit grants exactly required slots or returns a *CapacityError and
// changes nothing.
func (a *Admission) Admit(ctx context.Context, track models.Track, required, credit int) (*Reservation, error) {
	if required <= 0 {
		return &Reservation{track: track}, nil
	}
	rem, err := a.Remaining(ctx, track, credit)
	if err != nil {
		return nil, err
	}
	if required > rem {
		a.log.Debug("admission rejected", logx.Track(track),
			logx.Int("required", required), logx.Int("remaining", rem))
		return nil, &CapacityError{Track: track, Required: required, Remaining: rem}
	}
	return a.reserve(track, required), nil
}

// AdmitUpTo grants min(want, remaining) slots. The reservation may hold zero.
func (a *Admission) AdmitUpTo(ctx context.Context, track models.Track, want int) (*Reservation, error) {
	if want <= 0 {
		return &Reservation{track: track}, nil
	}
	rem, err := a.Remaining(ctx, track, 0)
	if err != nil {
		return nil, err
	}
	if want > rem {
		want = rem
	}
	return a.reserve(track, want), nil
}

func (a *Admission) reserve(track models.Track, n int) *Reservation {
	a.mu.Lock()
	a.reserved[track] += n
	a.mu.Unlock()
	return &Reservation{a: a, track: track, n: n}
}

// Reserved is the number of outstanding reserved slots on a track.
func (a *Admission) Reserved(track models.Track) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved[track]
}

// Reconcile drops stale reservations so the live count is the only source.
func (a *Admission) Reconcile() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for track, n := range a.reserved {
		if n > 0 {
			a.log.Debug("dropping stale reservations", logx.Track(track), logx.Int("slots", n))
		}
		delete(a.reserved, track)
	}
}
