// Package scheduler runs named periodic jobs on robfig/cron.
//
// Jobs execute on the cron goroutine through a chain of Recover and
// SkipIfStillRunning, so a slow run never overlaps the next tick. Interval
// schedules honour an explicit first delay. Registering a name that already
// exists replaces the previous schedule.
package scheduler
