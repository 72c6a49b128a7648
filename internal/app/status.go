package app

import (
	"context"
	"strings"
	"time"

	"github.com/Keeeszo/friends-bot/internal/bot"
	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/internal/config"
	"github.com/Keeeszo/friends-bot/internal/notifier"
	"github.com/Keeeszo/friends-bot/internal/scheduler"
	kit "github.com/Keeeszo/friends-bot/internal/transport"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

const (
	statusJobName     = "status.report"
	statusJobTimeout  = 30 * time.Second
	statusSentHorizon = 24 * time.Hour
)

// Status collects the digest served by /estado.
func (a *App) Status(ctx context.Context) (bot.Status, error) {
	owners, err := a.store.All(ctx)
	if err != nil {
		return bot.Status{}, err
	}
	return buildStatus(time.Now(), owners, a.sched.Snapshot(), a.notif.Snapshot()), nil
}

func buildStatus(now time.Time, owners []builders.Owner, snap scheduler.Snapshot, sent []notifier.HistoryItem) bot.Status {
	st := bot.Status{Owners: len(owners), Timezone: snap.Timezone}
	for _, o := range owners {
		st.Accounts += len(o.Accounts)
		for _, acct := range o.Accounts {
			st.Tasks += len(acct.Tasks)
			for _, t := range acct.Tasks {
				if !t.End.After(now) {
					st.Overdue++
				}
			}
		}
	}

	loc, err := time.LoadLocation(snap.Timezone)
	if err != nil {
		loc = time.Local
	}
	for _, it := range snap.Schedules {
		js := bot.JobStatus{
			Scheduled: true,
			Runs:      it.Runs,
			Failures:  it.Failures,
			LastErr:   it.LastErr,
		}
		if !it.Next.IsZero() {
			js.Next = it.Next.In(loc)
		}
		if !it.LastRun.IsZero() {
			js.LastRun = it.LastRun.In(loc)
		}
		switch it.Name {
		case scanJobName:
			st.Scan = js
		case statusJobName:
			st.Report = js
		}
	}

	for _, h := range sent {
		if now.Sub(h.At) > statusSentHorizon {
			continue
		}
		st.Sent++
		if h.At.After(st.LastSent) {
			st.LastSent = h.At.In(loc)
		}
	}
	return st
}

// scheduleStatusReport registers or removes the periodic digest.
func (a *App) scheduleStatusReport(sc config.SchedulerConfig) error {
	spec := strings.TrimSpace(sc.StatusReport)
	if spec == "" {
		a.sched.Remove(statusJobName)
		return nil
	}
	return a.sched.AddCron(statusJobName, spec, statusJobTimeout, a.sendStatusReport)
}

// sendStatusReport posts the digest to telegram.group_log, or logs it when no
// log chat is configured.
func (a *App) sendStatusReport(ctx context.Context) error {
	st, err := a.Status(ctx)
	if err != nil {
		return err
	}
	cfg := a.cfgm.Get()
	chatID, _ := cfg.Telegram.GroupLogChatID()
	if chatID == 0 || a.out == nil {
		a.log.Info("status report",
			logx.Int("owners", st.Owners), logx.Int("accounts", st.Accounts),
			logx.Int("tasks", st.Tasks), logx.Int("overdue", st.Overdue),
			logx.Uint64("scan_runs", st.Scan.Runs), logx.Uint64("scan_failures", st.Scan.Failures),
			logx.Int("sent_24h", st.Sent))
		return nil
	}
	to := kit.ChatTarget{ChatID: chatID, ThreadID: cfg.Logging.Telegram.ThreadID}
	_, err = bot.StatusMessage(st).Send(ctx, a.out, to)
	return err
}
