package config

import (
	"reflect"
	"sort"
	"strings"

	"github.com/Keeeszo/friends-bot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging. Secrets (bot token, clan API token) are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if strings.TrimSpace(ot.PollTimeout) != strings.TrimSpace(nt.PollTimeout) ||
		!reflect.DeepEqual(ot.AllowedChatIDs, nt.AllowedChatIDs) ||
		ot.AlertsChatID != nt.AlertsChatID || ot.AlertsThreadID != nt.AlertsThreadID ||
		strings.TrimSpace(ot.GroupLog) != strings.TrimSpace(nt.GroupLog) ||
		(ot.Token != nt.Token) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.poll_timeout", strings.TrimSpace(nt.PollTimeout)),
			logx.Int("telegram.allowed_chats", len(nt.AllowedChatIDs)),
			logx.Int64("telegram.alerts_chat_id", nt.AlertsChatID),
			logx.Bool("telegram.token_changed", ot.Token != nt.Token),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	oa, na := oldCfg.ClanAPI, newCfg.ClanAPI
	if oa != na {
		changed = append(changed, "clan_api")
		attrs = append(attrs,
			logx.String("clan_api.clan_tag", strings.TrimSpace(na.ClanTag)),
			logx.String("clan_api.cache_ttl", strings.TrimSpace(na.CacheTTL)),
			logx.Bool("clan_api.token_changed", oa.Token != na.Token),
		)
	}

	ob, _ := oldCfg.Builders.Resolve()
	nb, _ := newCfg.Builders.Resolve()
	if ob != nb {
		changed = append(changed, "builders")
		attrs = append(attrs,
			logx.Duration("builders.scan_interval", nb.ScanInterval),
			logx.Duration("builders.notify_window", nb.NotifyWindow),
			logx.Bool("builders.notify_overdue", nb.NotifyOverdue),
			logx.Int("builders.max_capacity", nb.MaxCapacity),
		)
	}

	on, _ := oldCfg.ResolveNotifier()
	nn, _ := newCfg.ResolveNotifier()
	if on != nn {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", nn.RatePerSec),
			logx.Int("notifier.retry_max", nn.RetryMax),
		)
	}

	oc, nc := oldCfg.Scheduler, newCfg.Scheduler
	if strings.TrimSpace(oc.Timezone) != strings.TrimSpace(nc.Timezone) ||
		strings.TrimSpace(oc.StatusReport) != strings.TrimSpace(nc.StatusReport) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.timezone", strings.TrimSpace(nc.Timezone)),
			logx.String("scheduler.status_report", strings.TrimSpace(nc.StatusReport)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
