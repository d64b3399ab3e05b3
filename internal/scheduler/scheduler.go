// Package scheduler runs bot jobs on fixed intervals, at wall-clock times of
// day and once after startup.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"telegram-assistant-bots/internal/logging"
	"telegram-assistant-bots/internal/metrics"
)

// RunTimeout bounds every job execution.
var RunTimeout = 30 * time.Second

// Job is a unit of scheduled work.
type Job func(ctx context.Context) error

type entry struct {
	name string
	job  Job
	// next returns the wait until the following run, given the current time.
	next func(now time.Time, first bool) (time.Duration, bool)
}

// Scheduler owns the goroutines running registered jobs.
type Scheduler struct {
	loc     *time.Location
	entries []entry

	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

// New returns a scheduler that resolves daily times in loc.
func New(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{loc: loc, now: time.Now}
}

// Every runs job every interval, the first time after first.
func (s *Scheduler) Every(name string, interval, first time.Duration, job Job) {
	if interval <= 0 {
		interval = time.Minute
	}
	s.entries = append(s.entries, entry{name: name, job: job, next: func(_ time.Time, isFirst bool) (time.Duration, bool) {
		if isFirst {
			return first, true
		}
		return interval, true
	}})
}

// Once runs job a single time after delay.
func (s *Scheduler) Once(name string, after time.Duration, job Job) {
	s.entries = append(s.entries, entry{name: name, job: job, next: func(_ time.Time, isFirst bool) (time.Duration, bool) {
		return after, isFirst
	}})
}

// Daily runs job every day at each "HH:MM" in times.
func (s *Scheduler) Daily(name string, times []string, job Job) error {
	clocks := make([][2]int, 0, len(times))
	for _, t := range times {
		var h, m int
		if _, err := fmt.Sscanf(t, "%d:%d", &h, &m); err != nil || h < 0 || h > 23 || m < 0 || m > 59 {
			return fmt.Errorf("invalid time of day %q", t)
		}
		clocks = append(clocks, [2]int{h, m})
	}
	for _, c := range clocks {
		c := c
		s.entries = append(s.entries, entry{name: name, job: job, next: func(now time.Time, _ bool) (time.Duration, bool) {
			return untilClock(now.In(s.loc), c[0], c[1]), true
		}})
	}
	return nil
}

// untilClock returns the wait from now to the next hh:mm in now's location.
func untilClock(now time.Time, hh, mm int) time.Duration {
	target := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target.Sub(now)
}

// Start launches one goroutine per registered job. Calling Start twice has no effect.
func (s *Scheduler) Start(parent context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
	logging.Log.Info().Str("event", "scheduler_start").Int("jobs", len(s.entries)).Msg("scheduler started")
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	defer s.wg.Done()
	first := true
	for {
		wait, ok := e.next(s.now(), first)
		if !ok {
			return
		}
		first = false
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		s.run(ctx, e)
	}
}

func (s *Scheduler) run(ctx context.Context, e entry) {
	runCtx, cancel := context.WithTimeout(logging.Context(ctx), RunTimeout)
	defer cancel()
	log := logging.Ctx(runCtx)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return e.job(runCtx)
	}()
	metrics.IncSchedulerRun(e.name, err == nil)
	if err != nil {
		log.Error().Err(err).Str("job", e.name).Msg("scheduled job failed")
		return
	}
	log.Debug().Str("job", e.name).Msg("scheduled job done")
}

// Stop cancels all loops and waits for them to return. It is idempotent.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.cancel = nil
	logging.Log.Info().Str("event", "scheduler_stop").Msg("scheduler stopped")
}
