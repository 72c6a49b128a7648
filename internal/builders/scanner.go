package builders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Keeeszo/friends-bot/pkg/logx"
)

// FormatFunc renders the notification for a task. late is true when the task
// had already ended before any scan caught it inside the window.
type FormatFunc func(owner Owner, acct Account, task Task, late bool) string

// ScannerConfig can be swapped at runtime with SetConfig.
type ScannerConfig struct {
	Window        time.Duration
	NotifyOverdue bool
	Format        FormatFunc
}

// Report summarises one scan.
type Report struct {
	Scanned  int
	Notified int
	Late     int
	Silent   int // removed without notification (overdue with NotifyOverdue off)
	Skipped  int // claimed elsewhere or cancelled mid-scan
	Failed   int
	Removed  int
}

func (r Report) changed() bool {
	return r.Notified+r.Silent+r.Failed+r.Removed > 0
}

// Scanner finds tasks about to end, notifies their owners once and removes them.
type Scanner struct {
	store    Store
	notifier Notifier
	opts     Options

	mu  sync.RWMutex
	cfg ScannerConfig
}

func NewScanner(store Store, notifier Notifier, cfg ScannerConfig, opts Options) *Scanner {
	s := &Scanner{store: store, notifier: notifier, opts: opts.withDefaults("scanner")}
	s.SetConfig(cfg)
	return s
}

func (s *Scanner) SetConfig(cfg ScannerConfig) {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Format == nil {
		cfg.Format = PlainMessage
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Scanner) config() ScannerConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Run performs one scan. Per-task failures are counted and logged; only a
// failed snapshot read or batch removal is returned as an error, and the
// affected tasks are picked up again by the next run.
func (s *Scanner) Run(ctx context.Context) (Report, error) {
	var rep Report
	cfg := s.config()

	owners, err := s.store.All(ctx)
	if err != nil {
		return rep, upstream("scan snapshot", err)
	}
	now := s.opts.Now()

	var (
		refs    []TaskRef
		expired []Lifecycle
	)
	mark := func(owner Owner, acct Account, t Task, notified bool) {
		refs = append(refs, TaskRef{OwnerID: owner.ID, Tag: acct.Tag, TaskID: t.ID})
		expired = append(expired, Lifecycle{
			OwnerID:  owner.ID,
			Tag:      acct.Tag,
			Account:  acct.Name,
			TaskID:   t.ID,
			Detail:   t.Description,
			Notified: notified,
		})
	}

	for _, owner := range owners {
		for _, acct := range owner.Accounts {
			for _, t := range acct.Tasks {
				if ctx.Err() != nil {
					return rep, ctx.Err()
				}
				rep.Scanned++
				left := t.End.Sub(now)
				if left > cfg.Window {
					continue
				}
				// A previous run notified but failed to remove it.
				if t.NotifiedAt != nil {
					mark(owner, acct, t, true)
					continue
				}
				late := left <= 0
				if late && !cfg.NotifyOverdue {
					rep.Silent++
					mark(owner, acct, t, false)
					continue
				}
				if s.notify(ctx, cfg, owner, acct, t, late, now, &rep) {
					mark(owner, acct, t, true)
				}
			}
		}
	}

	if len(refs) == 0 {
		s.logReport(rep)
		return rep, nil
	}
	n, err := s.store.RemoveTasks(ctx, refs)
	if err != nil {
		s.opts.Log.Warn("batch removal failed; retrying next run", logx.Int("tasks", len(refs)), logx.Err(err))
		s.logReport(rep)
		return rep, upstream("remove expired tasks", err)
	}
	rep.Removed = n
	for _, lc := range expired {
		s.opts.publish(EventTaskExpired, now, lc)
	}
	s.logReport(rep)
	return rep, nil
}

// notify claims the task, delivers the message and releases the claim when
// delivery fails. It reports whether the task should be removed.
func (s *Scanner) notify(ctx context.Context, cfg ScannerConfig, owner Owner, acct Account, t Task, late bool, now time.Time, rep *Report) bool {
	ref := TaskRef{OwnerID: owner.ID, Tag: acct.Tag, TaskID: t.ID}
	log := s.opts.Log.With(logx.Owner(owner.ID), logx.Tag(acct.Tag), logx.TaskID(t.ID))

	claimed, err := s.store.ClaimTask(ctx, ref, now)
	if err != nil {
		rep.Failed++
		log.Warn("claim failed", logx.Err(err))
		return false
	}
	if !claimed {
		rep.Skipped++
		return false
	}

	if err := s.notifier.Notify(ctx, owner.ID, cfg.Format(owner, acct, t, late)); err != nil {
		rep.Failed++
		log.Warn("notification failed", logx.Bool("late", late), logx.Err(err))
		// Released even when ctx was cancelled mid-delivery.
		if rerr := s.store.ReleaseTask(context.WithoutCancel(ctx), ref); rerr != nil {
			log.Warn("release failed; task will expire without notice", logx.Err(rerr))
		}
		return false
	}
	rep.Notified++
	if late {
		rep.Late++
	}
	return true
}

func (s *Scanner) logReport(rep Report) {
	fields := []logx.Field{
		logx.Int("scanned", rep.Scanned),
		logx.Int("notified", rep.Notified),
		logx.Int("late", rep.Late),
		logx.Int("silent", rep.Silent),
		logx.Int("skipped", rep.Skipped),
		logx.Int("failed", rep.Failed),
		logx.Int("removed", rep.Removed),
	}
	if rep.changed() {
		s.opts.Log.Info("scan finished", fields...)
		return
	}
	s.opts.Log.Debug("scan finished", fields...)
}

// PlainMessage is the default, markup-free notification text.
func PlainMessage(owner Owner, acct Account, task Task, late bool) string {
	if late {
		return fmt.Sprintf("⏰ %s, tu construcción '%s' de la cuenta %s ya finalizó.", owner.Name, task.Description, acct.Name)
	}
	return fmt.Sprintf("⏰ %s, tu construcción '%s' de la cuenta %s está por finalizar.", owner.Name, task.Description, acct.Name)
}
