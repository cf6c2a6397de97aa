package cron

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/assistantd/internal/domain"
)

// FireFunc is invoked when a job's schedule comes due. It receives the
// whole due job; the caller decides how to route it (typically enqueuing a
// cron-source AdapterMessage).
type FireFunc func(job domain.CronJob)

// Timer holds a single re-armable OS timer covering every job in a Store,
// always firing for whichever job is soonest due next.
type Timer struct {
	store *Store
	fire  FireFunc
	now   func() time.Time

	mu    sync.Mutex
	timer *time.Timer
}

func NewTimer(store *Store, fire FireFunc) *Timer {
	return &Timer{store: store, fire: fire, now: time.Now}
}

// Start arms the timer for the first time. Safe to call once at boot.
func (t *Timer) Start() error {
	return t.rearm()
}

// Stop cancels the pending timer, if any.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Rearm recomputes the next fire time across all jobs and reschedules. Call
// after any mutation to the store (add/update/remove) so new or changed
// jobs are picked up without waiting for the next natural fire.
func (t *Timer) Rearm() error {
	return t.rearm()
}

func (t *Timer) rearm() error {
	jobs, err := t.store.Load()
	if err != nil {
		return err
	}

	now := t.now()
	var soonest *time.Time
	var soonestJob domain.CronJob
	for _, j := range jobs {
		if !j.Enabled {
			continue
		}
		next, ok := NextFireTime(j, now)
		if !ok {
			continue
		}
		if soonest == nil || next.Before(*soonest) {
			n := next
			soonest = &n
			soonestJob = j
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if soonest == nil {
		return nil
	}

	delay := soonest.Sub(now)
	if delay < 0 {
		delay = 0
	}
	job := soonestJob
	t.timer = time.AfterFunc(delay, func() { t.onFire(job.ID) })
	return nil
}

func (t *Timer) onFire(jobID string) {
	jobs, err := t.store.Load()
	if err != nil {
		slog.Warn("cron: load on fire failed", "error", err)
		return
	}
	var job *domain.CronJob
	for i := range jobs {
		if jobs[i].ID == jobID {
			job = &jobs[i]
			break
		}
	}
	if job == nil || !job.Enabled {
		t.rearm()
		return
	}

	now := t.now()
	job.LastFiredAt = &now
	if _, err := t.store.Update(job.ID, func(j *domain.CronJob) { j.LastFiredAt = &now }); err != nil {
		slog.Warn("cron: persist lastFiredAt failed", "job", job.ID, "error", err)
	}

	t.fire(*job)
	t.rearm()
}

// NextFireTime computes the next time job.Schedule comes due relative to
// now. The second return is false when the schedule will never fire again
// (an elapsed oneshot with lastFiredAt already set, or an unparseable
// expression).
func NextFireTime(job domain.CronJob, now time.Time) (time.Time, bool) {
	switch job.Schedule.Type {
	case domain.ScheduleCron:
		return nextCronFire(job.Schedule.Expression, now)
	case domain.ScheduleOneshot:
		if job.Schedule.ISO.Before(now) || job.Schedule.ISO.Equal(now) {
			if job.LastFiredAt != nil {
				return time.Time{}, false
			}
			return job.Schedule.ISO, true // fires immediately, even if slightly past
		}
		return job.Schedule.ISO, true
	case domain.ScheduleInterval:
		if job.Schedule.EveryMS <= 0 {
			return time.Time{}, false
		}
		interval := time.Duration(job.Schedule.EveryMS) * time.Millisecond
		if job.LastFiredAt != nil {
			return job.LastFiredAt.Add(interval), true
		}
		return now.Add(interval), true
	default:
		return time.Time{}, false
	}
}

func nextCronFire(expr string, now time.Time) (time.Time, bool) {
	utcNow := now.UTC()
	next, err := gronx.NextTickAfter(expr, utcNow, false)
	if err != nil {
		slog.Warn("cron: unparseable expression", "expr", expr, "error", err)
		return time.Time{}, false
	}
	return next, true
}

// ValidateSchedule checks that a Schedule is well-formed for its type,
// without consulting the store or clock.
func ValidateSchedule(s domain.Schedule) error {
	switch s.Type {
	case domain.ScheduleCron:
		g := gronx.New()
		if ok, err := g.IsValid(s.Expression); err != nil || !ok {
			return fmt.Errorf("invalid cron expression %q", s.Expression)
		}
	case domain.ScheduleOneshot:
		if s.ISO.IsZero() {
			return fmt.Errorf("invalid oneshot instant")
		}
	case domain.ScheduleInterval:
		if s.EveryMS <= 0 {
			return fmt.Errorf("everyMs must be > 0")
		}
	default:
		return fmt.Errorf("unknown schedule type %q", s.Type)
	}
	return nil
}
