package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	ClanAPI  ClanAPIConfig  `json:"clan_api"`
	Builders BuildersConfig `json:"builders"`

	Scheduler SchedulerConfig `json:"scheduler"`

	// Notifier may be omitted; runtime defaults apply.
	Notifier *NotifierConfig `json:"notifier,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`

	// AllowedChatIDs restricts command handling to these chats. Empty means any chat.
	AllowedChatIDs []int64 `json:"allowed_chat_ids,omitempty"`

	// AlertsChatID/AlertsThreadID is where expiry notifications go.
	// When AlertsChatID is 0 they are sent to the owner's private chat.
	AlertsChatID   int64 `json:"alerts_chat_id,omitempty"`
	AlertsThreadID int   `json:"alerts_thread_id,omitempty"`

	// GroupLog is the chat id receiving the Telegram log sink.
	GroupLog string `json:"group_log,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig selects the persistence driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/friends.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ClanAPIConfig points at the Clash of Clans API used to validate members.
type ClanAPIConfig struct {
	BaseURL    string `json:"base_url,omitempty"` // default: https://api.clashofclans.com/v1
	Token      string `json:"token"`
	ClanTag    string `json:"clan_tag"`
	Timeout    string `json:"timeout,omitempty"`   // default: 10s
	CacheTTL   string `json:"cache_ttl,omitempty"` // default: 1m
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// BuildersConfig tunes the builder ledger and its expiry scanner.
//
// Defaults (when fields are omitted/zero):
//   - scan_interval: "60s"
//   - first_delay: "10s"
//   - notify_window: "1m"
//   - notify_overdue: true
//   - max_description: 100
//   - min_capacity: 1, max_capacity: 6
type BuildersConfig struct {
	ScanInterval   string `json:"scan_interval,omitempty"`
	FirstDelay     string `json:"first_delay,omitempty"`
	NotifyWindow   string `json:"notify_window,omitempty"`
	NotifyOverdue  *bool  `json:"notify_overdue,omitempty"`
	MaxDescription int    `json:"max_description,omitempty"`
	MinCapacity    int    `json:"min_capacity,omitempty"`
	MaxCapacity    int    `json:"max_capacity,omitempty"`
}

// SchedulerConfig controls the job clock.
//
// Example:
//
//	"scheduler": { "timezone": "America/Santiago", "status_report": "0 9 * * *" }
type SchedulerConfig struct {
	// Timezone is an IANA name; empty uses the host's local zone.
	Timezone string `json:"timezone,omitempty"`
	// StatusReport is a cron spec for the status digest sent to telegram.group_log.
	// Empty disables it.
	StatusReport string `json:"status_report,omitempty"`
}

// cronParser accepts the same specs as the scheduler: 5 or 6 fields, or a descriptor.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Check reports an unknown timezone or a malformed status_report spec.
func (s SchedulerConfig) Check() error {
	var errs []error
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if spec := strings.TrimSpace(s.StatusReport); spec != "" {
		if _, err := cronParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.status_report: %w", err))
		}
	}
	return errors.Join(errs...)
}

// NotifierConfig controls delivery of expiry notifications.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
type NotifierConfig struct {
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

const (
	DefaultClanAPIBaseURL = "https://api.clashofclans.com/v1"

	defaultScanInterval   = 60 * time.Second
	defaultFirstDelay     = 10 * time.Second
	defaultNotifyWindow   = time.Minute
	defaultMaxDescription = 100
	defaultMinCapacity    = 1
	defaultMaxCapacity    = 6
)

// Builders is the resolved form of BuildersConfig.
type Builders struct {
	ScanInterval   time.Duration
	FirstDelay     time.Duration
	NotifyWindow   time.Duration
	NotifyOverdue  bool
	MaxDescription int
	MinCapacity    int
	MaxCapacity    int
}

func (b BuildersConfig) Resolve() (Builders, error) {
	var out Builders
	var err error
	if out.ScanInterval, err = ParseDurationOrDefault("builders.scan_interval", b.ScanInterval, defaultScanInterval); err != nil {
		return out, err
	}
	if out.FirstDelay, err = ParseDurationField("builders.first_delay", b.FirstDelay); err != nil {
		return out, err
	}
	if strings.TrimSpace(b.FirstDelay) == "" {
		out.FirstDelay = defaultFirstDelay
	}
	if out.NotifyWindow, err = ParseDurationOrDefault("builders.notify_window", b.NotifyWindow, defaultNotifyWindow); err != nil {
		return out, err
	}
	out.NotifyOverdue = true
	if b.NotifyOverdue != nil {
		out.NotifyOverdue = *b.NotifyOverdue
	}
	out.MaxDescription = b.MaxDescription
	if out.MaxDescription <= 0 {
		out.MaxDescription = defaultMaxDescription
	}
	out.MinCapacity = b.MinCapacity
	if out.MinCapacity <= 0 {
		out.MinCapacity = defaultMinCapacity
	}
	out.MaxCapacity = b.MaxCapacity
	if out.MaxCapacity <= 0 {
		out.MaxCapacity = defaultMaxCapacity
	}
	if out.MaxCapacity < out.MinCapacity {
		return out, fmt.Errorf("builders: max_capacity (%d) < min_capacity (%d)", out.MaxCapacity, out.MinCapacity)
	}
	return out, nil
}

// Notifier is the resolved form of NotifierConfig.
type Notifier struct {
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c *Config) ResolveNotifier() (Notifier, error) {
	out := Notifier{RatePerSec: 3, RetryMax: 3, RetryBase: 500 * time.Millisecond, RetryMaxDelay: 10 * time.Second}
	n := c.Notifier
	if n == nil {
		return out, nil
	}
	if n.RatePerSec > 0 {
		out.RatePerSec = n.RatePerSec
	}
	if n.RetryMax > 0 {
		out.RetryMax = n.RetryMax
	}
	var err error
	if out.RetryBase, err = ParseDurationOrDefault("notifier.retry_base", n.RetryBase, out.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, out.RetryMaxDelay); err != nil {
		return out, err
	}
	return out, nil
}

// ClanAPI is the resolved form of ClanAPIConfig.
type ClanAPI struct {
	BaseURL    string
	Token      string
	ClanTag    string
	Timeout    time.Duration
	CacheTTL   time.Duration
	RatePerSec int
}

func (c ClanAPIConfig) Resolve() (ClanAPI, error) {
	out := ClanAPI{
		BaseURL:    strings.TrimRight(strings.TrimSpace(c.BaseURL), "/"),
		Token:      strings.TrimSpace(c.Token),
		ClanTag:    strings.TrimSpace(c.ClanTag),
		RatePerSec: c.RatePerSec,
	}
	if out.BaseURL == "" {
		out.BaseURL = DefaultClanAPIBaseURL
	}
	if out.RatePerSec <= 0 {
		out.RatePerSec = 5
	}
	var err error
	if out.Timeout, err = ParseDurationOrDefault("clan_api.timeout", c.Timeout, 10*time.Second); err != nil {
		return out, err
	}
	if out.CacheTTL, err = ParseDurationOrDefault("clan_api.cache_ttl", c.CacheTTL, time.Minute); err != nil {
		return out, err
	}
	return out, nil
}

// GroupLogChatID parses telegram.group_log. Empty returns 0.
func (t TelegramConfig) GroupLogChatID() (int64, error) {
	s := strings.TrimSpace(t.GroupLog)
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram.group_log: invalid chat id %q", t.GroupLog)
	}
	return id, nil
}

// Validate checks every section and reports all problems at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.Telegram.GroupLogChatID(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if api, err := cfg.ClanAPI.Resolve(); err != nil {
		errs = append(errs, err)
	} else {
		if api.Token == "" {
			errs = append(errs, errors.New("clan_api.token is required"))
		}
		if api.ClanTag == "" {
			errs = append(errs, errors.New("clan_api.clan_tag is required"))
		}
	}
	if _, err := cfg.Builders.Resolve(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.ResolveNotifier(); err != nil {
		errs = append(errs, err)
	}
	if err := cfg.Scheduler.Check(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
