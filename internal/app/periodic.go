package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "remindkit/pkg/logx"
)

// periodic runs the foreground pass on a cron "@every" entry. The interval
// can be changed while running.
type periodic struct {
	log logx.Logger
	run func()

	mu    sync.Mutex
	c     *cron.Cron
	id    cron.EntryID
	every time.Duration
}

func newPeriodic(log logx.Logger, run func()) *periodic {
	return &periodic{
		log: log,
		run: run,
		c:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
}

// Set replaces the schedule. A zero or unchanged interval is a no-op.
func (p *periodic) Set(every time.Duration) error {
	if every <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if every == p.every && p.id != 0 {
		return nil
	}
	id, err := p.c.AddFunc(fmt.Sprintf("@every %s", every), p.run)
	if err != nil {
		return fmt.Errorf("schedule foreground pass: %w", err)
	}
	if p.id != 0 {
		p.c.Remove(p.id)
	}
	p.id, p.every = id, every
	p.log.Info("foreground pass scheduled", logx.Duration("every", every))
	return nil
}

func (p *periodic) Every() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.every
}

// Next is the time of the next pass, zero when nothing is scheduled.
func (p *periodic) Next() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id == 0 {
		return time.Time{}
	}
	return p.c.Entry(p.id).Next
}

func (p *periodic) Start() { p.c.Start() }

// Stop waits for a running pass to finish or ctx.
func (p *periodic) Stop(ctx context.Context) {
	select {
	case <-p.c.Stop().Done():
	case <-ctx.Done():
	}
}
