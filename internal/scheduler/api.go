package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Keeeszo/friends-bot/pkg/logx"
)

// AddInterval runs job every `every`, first after firstDelay (negative: after one interval).
// timeout bounds a single run; 0 means no limit.
func (s *Service) AddInterval(name string, every, firstDelay, timeout time.Duration, job Job) error {
	if every < time.Second {
		return fmt.Errorf("interval %s: must be at least 1s", every)
	}
	return s.add(scheduleDef{
		name:       name,
		spec:       "@every " + every.String(),
		every:      every,
		firstDelay: firstDelay,
		timeout:    timeout,
		job:        job,
	})
}

// AddCron registers a cron expression ("0 4 * * *", "@daily").
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("cron %q: %w", spec, err)
	}
	return s.add(scheduleDef{name: name, spec: spec, timeout: timeout, job: job})
}

func (s *Service) add(d scheduleDef) error {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return errors.New("name required")
	}
	if d.job == nil {
		return errors.New("job required")
	}
	d.stats = &runStats{}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Upsert by name so hot reloads do not duplicate schedules.
	s.removeLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	if err := s.addCronLocked(&s.defs[len(s.defs)-1]); err != nil {
		return err
	}
	s.log.Debug("schedule registered",
		logx.String("name", d.name), logx.String("spec", d.spec),
		logx.Duration("first_delay", d.firstDelay), logx.Duration("timeout", d.timeout))
	return nil
}

// Remove unschedules name. It reports whether anything was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	removed := false
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	job := s.wrap(d.name, d.timeout, d.job, d.stats)
	if d.every > 0 {
		d.entryID = s.c.Schedule(intervalSchedule(d.every, d.firstDelay, s.now().In(s.loc)), job)
		return nil
	}
	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

func (s *Service) wrap(name string, timeout time.Duration, job Job, st *runStats) cron.Job {
	base := s.base
	log := s.log.With(logx.String("job", name))
	return cron.FuncJob(func() {
		ctx, cancel := base, context.CancelFunc(func() {})
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(base, timeout)
		}
		defer cancel()

		start := time.Now()
		err := job(ctx)
		took := time.Since(start)

		st.mu.Lock()
		st.runs++
		st.lastAt, st.lastDur = start, took
		st.lastErr = ""
		if err != nil {
			st.fails++
			st.lastErr = err.Error()
		}
		st.mu.Unlock()

		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("job failed", logx.Err(err), logx.Duration("took", took))
		}
	})
}
