package scheduler

import (
	"time"

	"github.com/robfig/cron/v3"
)

// delayedSchedule fires once at first, then delegates to base.
type delayedSchedule struct {
	base  cron.Schedule
	first time.Time
}

func (s *delayedSchedule) Next(t time.Time) time.Time {
	if !s.first.IsZero() && t.Before(s.first) {
		return s.first
	}
	return s.base.Next(t)
}

// intervalSchedule returns an @every schedule whose first activation is firstDelay
// after now. A negative firstDelay means "one full interval", cron's default.
func intervalSchedule(every, firstDelay time.Duration, now time.Time) cron.Schedule {
	base := cron.Every(every)
	if firstDelay < 0 {
		return base
	}
	return &delayedSchedule{base: base, first: now.Add(firstDelay)}
}
