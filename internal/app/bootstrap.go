package app

import (
	"strings"
	"time"

	"github.com/Keeeszo/friends-bot/internal/bot"
	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/internal/clanapi"
	"github.com/Keeeszo/friends-bot/internal/config"
	"github.com/Keeeszo/friends-bot/internal/notifier"
	"github.com/Keeeszo/friends-bot/internal/scheduler"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

// Config section -> component config mapping. Every mapper assumes cfg passed config.Validate.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n, err := cfg.ResolveNotifier()
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		AlertsChatID:   cfg.Telegram.AlertsChatID,
		AlertsThreadID: cfg.Telegram.AlertsThreadID,
		RatePerSec:     n.RatePerSec,
		RetryMax:       n.RetryMax,
		RetryBase:      n.RetryBase,
		RetryMaxDelay:  n.RetryMaxDelay,
	}, nil
}

func mapClanAPIConfig(cfg *config.Config) (clanapi.Config, error) {
	c, err := cfg.ClanAPI.Resolve()
	if err != nil {
		return clanapi.Config{}, err
	}
	return clanapi.Config{
		BaseURL:    c.BaseURL,
		Token:      c.Token,
		ClanTag:    c.ClanTag,
		Timeout:    c.Timeout,
		CacheTTL:   c.CacheTTL,
		RatePerSec: c.RatePerSec,
	}, nil
}

func scannerConfig(b config.Builders) builders.ScannerConfig {
	return builders.ScannerConfig{
		Window:        b.NotifyWindow,
		NotifyOverdue: b.NotifyOverdue,
		Format:        bot.NotificationMessage,
	}
}

// scanTimeout bounds one scan run; SkipIfStillRunning covers the rest.
func scanTimeout(every time.Duration) time.Duration {
	return max(every, 30*time.Second)
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: strings.TrimSpace(cfg.Scheduler.Timezone)}
}
