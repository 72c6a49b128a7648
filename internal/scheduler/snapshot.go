package scheduler

import "time"

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc := s.loc
	if loc == nil {
		loc = time.Local
	}
	out := Snapshot{Running: s.c != nil, Timezone: loc.String()}
	for _, d := range s.defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		d.stats.mu.Lock()
		it.Runs, it.Failures = d.stats.runs, d.stats.fails
		it.LastErr, it.LastDur, it.LastRun = d.stats.lastErr, d.stats.lastDur, d.stats.lastAt
		d.stats.mu.Unlock()
		out.Schedules = append(out.Schedules, it)
	}
	return out
}
