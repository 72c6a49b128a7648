package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/Keeeszo/friends-bot/internal/bot"
	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/internal/clanapi"
	"github.com/Keeeszo/friends-bot/internal/config"
	"github.com/Keeeszo/friends-bot/internal/eventbus"
	"github.com/Keeeszo/friends-bot/internal/notifier"
	rtsup "github.com/Keeeszo/friends-bot/internal/runtime/supervisor"
	"github.com/Keeeszo/friends-bot/internal/scheduler"
	kit "github.com/Keeeszo/friends-bot/internal/transport"
	"github.com/Keeeszo/friends-bot/internal/transport/telegram"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

const scanJobName = "builders.scan"

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store builders.Store

	adapter *telegram.Adapter
	out     kit.Sender
	members *clanapi.Client

	registry *builders.Registry
	ledger   *builders.Ledger
	scanner  *builders.Scanner

	notif  *notifier.Service
	sched  *scheduler.Service
	router *bot.Router

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgPath, err)
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; enable the Telegram sink only once its target is set
	// so Apply does not warn about a missing chat.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chatID, _ := cfg.Telegram.GroupLogChatID(); chatID != 0 {
		logSvc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
	logSvc.Apply(logCfg)
	log = log.With(logx.String("comp", "app"))

	store, err := OpenStore(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		_ = logSvc.Close()
		return nil, err
	}

	apiCfg, err := mapClanAPIConfig(cfg)
	if err != nil {
		return fail(err)
	}
	members, err := clanapi.New(apiCfg, log)
	if err != nil {
		return fail(err)
	}

	bcfg, err := cfg.Builders.Resolve()
	if err != nil {
		return fail(err)
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return fail(err)
	}

	bus := eventbus.New()
	opts := builders.Options{Log: log, Events: bus}

	registry := builders.NewRegistry(store, members, opts)
	registry.SetCapacityRange(bcfg.MinCapacity, bcfg.MaxCapacity)
	ledger := builders.NewLedger(store, opts)
	ledger.SetMaxDescription(bcfg.MaxDescription)

	notif := notifier.New(ncfg, ad, log, bus)
	scanner := builders.NewScanner(store, notif, scannerConfig(bcfg), opts)

	router := bot.NewRouter(ad, log)
	router.SetAllowedChats(cfg.Telegram.AllowedChatIDs)

	a := &App{
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		out:      ad,
		members:  members,
		registry: registry,
		ledger:   ledger,
		scanner:  scanner,
		notif:    notif,
		sched:    scheduler.New(mapSchedulerConfig(cfg), log),
		router:   router,
		updates:  make(chan kit.Update, 256),
	}
	handlers := bot.NewBuilders(registry, ledger, nil)
	router.Register(append(handlers.Commands(), bot.StatusCommand(a.Status)), handlers.Callbacks())
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return config.Validate(cfg)
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	bcfg, err := a.cfgm.Get().Builders.Resolve()
	if err != nil {
		return err
	}
	if err := a.scheduleScan(bcfg); err != nil {
		return err
	}
	if err := a.scheduleStatusReport(a.cfgm.Get().Scheduler); err != nil {
		return err
	}
	a.sched.Start(a.sup.Context())

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.DispatchLoop(c, a.updates)
	})

	a.sup.Go0("telegram.menu", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.adapter.UpdateMenuCommands(mctx, a.router.Menu()); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("menu update failed", logx.Err(err))
		}
	})

	audit, unsubAudit := a.bus.Subscribe(128, builders.EventPrefix)
	a.sup.Go0("builders.audit", func(c context.Context) {
		defer unsubAudit()
		runAudit(c, audit, a.store, a.log.With(logx.String("comp", "audit")))
	})

	events, unsubEvents := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsubEvents()
		runEventLog(c, events, a.log)
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sup.Go0("systemd.watchdog", func(c context.Context) {
		watchdog(c, a.log)
	})
	sdNotify(a.log, daemon.SdNotifyReady)

	a.log.Info("app started", logx.Duration("scan_interval", bcfg.ScanInterval), logx.Duration("notify_window", bcfg.NotifyWindow))
	return nil
}

// scheduleScan (re)registers the expiry scan. Re-adding replaces the running schedule.
func (a *App) scheduleScan(b config.Builders) error {
	return a.sched.AddInterval(scanJobName, b.ScanInterval, b.FirstDelay, scanTimeout(b.ScanInterval), func(ctx context.Context) error {
		_, err := a.scanner.Run(ctx)
		return err
	})
}

// applyConfig fans a validated config out to the live components. Sections that
// are only read at startup log a restart hint instead.
func (a *App) applyConfig(prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range sections {
		switch s {
		case "storage", "clan_api":
			a.log.Warn("config section changed; restart required for it to take effect", logx.String("section", s))
		}
	}
	if prev != nil && prev.Telegram.Token != next.Telegram.Token {
		a.log.Warn("telegram token changed; restart required for it to take effect")
	}

	// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
	chatID, _ := next.Telegram.GroupLogChatID()
	a.logs.SetTelegramTarget(chatID, next.Logging.Telegram.ThreadID)
	a.logs.Apply(mapLoggingConfig(next))

	a.router.SetAllowedChats(next.Telegram.AllowedChatIDs)

	if ncfg, err := mapNotifierConfig(next); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if bcfg, err := next.Builders.Resolve(); err != nil {
		a.log.Warn("invalid builders config; keeping previous", logx.Err(err))
	} else {
		a.registry.SetCapacityRange(bcfg.MinCapacity, bcfg.MaxCapacity)
		a.ledger.SetMaxDescription(bcfg.MaxDescription)
		a.scanner.SetConfig(scannerConfig(bcfg))
	}
	a.applySchedules(sections, next)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applySchedules re-registers only the schedules whose config section changed.
func (a *App) applySchedules(sections []string, next *config.Config) {
	if slices.Contains(sections, "scheduler") {
		a.sched.Apply(mapSchedulerConfig(next))
		if err := a.scheduleStatusReport(next.Scheduler); err != nil {
			a.log.Warn("status report reschedule failed", logx.Err(err))
		}
	}
	if slices.Contains(sections, "builders") {
		bcfg, err := next.Builders.Resolve()
		if err != nil {
			return
		}
		if err := a.scheduleScan(bcfg); err != nil {
			a.log.Warn("scan reschedule failed", logx.Err(err))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Scheduler first: a scan in progress finishes its claims before the store closes.
	a.step(ctx, "scheduler", 3*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	// Wait for supervised goroutines (dispatcher, audit, config watch).
	a.step(ctx, "supervisor", 3*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Uint64("events_dropped", a.bus.Dropped()))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < limit {
			limit = max(rem, 0)
		}
	}
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
