package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Keeeszo/friends-bot/pkg/logx"
)

type Job func(ctx context.Context) error

type Config struct {
	Timezone string // IANA TZ; empty means Local
}

type scheduleDef struct {
	name       string
	spec       string
	every      time.Duration
	firstDelay time.Duration
	timeout    time.Duration
	job        Job
	entryID    cron.EntryID
	stats      *runStats
}

type runStats struct {
	mu      sync.Mutex
	runs    uint64
	fails   uint64
	lastErr string
	lastDur time.Duration
	lastAt  time.Time
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location

	parser cron.Parser
	c      *cron.Cron
	defs   []scheduleDef

	// base is cancelled by Stop so in-flight jobs observe shutdown.
	base   context.Context
	cancel context.CancelFunc
	now    func() time.Time
}

type ScheduleInfo struct {
	Name     string
	Spec     string
	Timeout  time.Duration
	Next     time.Time
	Prev     time.Time
	Runs     uint64
	Failures uint64
	LastErr  string
	LastDur  time.Duration
	LastRun  time.Time
}

type Snapshot struct {
	Running   bool
	Timezone  string
	Schedules []ScheduleInfo
}
