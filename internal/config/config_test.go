package config

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

const validJSON = `{
  "telegram": {"token": "123:abc", "poll_timeout": "10s", "allowed_chat_ids": [-100123], "alerts_chat_id": -100123, "alerts_thread_id": 7},
  "logging": {"level": "debug", "console": true},
  "storage": {"driver": "sqlite", "path": "friends.db", "busy_timeout": "5s"},
  "clan_api": {"token": "coc", "clan_tag": "#2PQU0PLJ2"},
  "builders": {"notify_window": "2m"}
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestParseJSONStrict(t *testing.T) {
	t.Parallel()
	m := NewConfigManager(writeFile(t, "config.json", validJSON))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Telegram.AlertsThreadID != 7 || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	bad := NewConfigManager(writeFile(t, "bad.json", `{"telegram":{"token":"x","owner_user_ids":[1]}}`))
	if _, err := bad.Parse(); err == nil {
		t.Fatal("expected unknown field error")
	}

	trailing := NewConfigManager(writeFile(t, "trailing.json", `{} {}`))
	if _, err := trailing.Parse(); err == nil {
		t.Fatal("expected trailing data error")
	}
}

func TestParseYAMLAndTOML(t *testing.T) {
	t.Parallel()
	yml := `
telegram:
  token: "123:abc"
  allowed_chat_ids: [-100123]
clan_api:
  token: coc
  clan_tag: "#2PQU0PLJ2"
builders:
  notify_overdue: false
`
	cfg, err := NewConfigManager(writeFile(t, "config.yaml", yml)).Parse()
	if err != nil {
		t.Fatalf("yaml Parse: %v", err)
	}
	b, err := cfg.Builders.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b.NotifyOverdue {
		t.Fatal("notify_overdue should be false")
	}

	tml := `
[telegram]
token = "123:abc"
alerts_chat_id = -100555

[clan_api]
token = "coc"
clan_tag = "#2PQU0PLJ2"

[storage]
driver = "file"
path = "store.json"
`
	cfg, err = NewConfigManager(writeFile(t, "config.toml", tml)).Parse()
	if err != nil {
		t.Fatalf("toml Parse: %v", err)
	}
	if cfg.Telegram.AlertsChatID != -100555 || cfg.Storage.Driver != "file" {
		t.Fatalf("unexpected toml cfg: %+v", cfg)
	}
}

func TestBuildersDefaults(t *testing.T) {
	t.Parallel()
	b, err := BuildersConfig{}.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := Builders{
		ScanInterval:   60 * time.Second,
		FirstDelay:     10 * time.Second,
		NotifyWindow:   time.Minute,
		NotifyOverdue:  true,
		MaxDescription: 100,
		MinCapacity:    1,
		MaxCapacity:    6,
	}
	if b != want {
		t.Fatalf("defaults = %+v, want %+v", b, want)
	}

	zero := "0s"
	b, err = BuildersConfig{FirstDelay: zero}.Resolve()
	if err != nil || b.FirstDelay != 0 {
		t.Fatalf("explicit zero first_delay = %v, %v", b.FirstDelay, err)
	}

	if _, err := (BuildersConfig{MinCapacity: 4, MaxCapacity: 2}).Resolve(); err == nil {
		t.Fatal("expected min/max capacity error")
	}
	if _, err := (BuildersConfig{ScanInterval: "soon"}).Resolve(); err == nil {
		t.Fatal("expected duration error")
	}
}

func TestValidateReportsEverything(t *testing.T) {
	t.Parallel()
	err := Validate(&Config{Storage: StorageConfig{Driver: "mongo"}})
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"telegram.token", "storage.driver", "clan_api.token", "clan_api.clan_tag"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{ClanAPI: ClanAPIConfig{Token: "secret-a"}}
	newCfg := &Config{ClanAPI: ClanAPIConfig{Token: "secret-b"}, Builders: BuildersConfig{ScanInterval: "30s"}}
	changed, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if !slices.Equal(changed, []string{"builders", "clan_api"}) {
		t.Fatalf("changed = %v", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
}

func TestWatchPublishesValidReload(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "config.json", validJSON)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	m.SetValidator(func(ctx context.Context, cfg *Config) error { return Validate(cfg) })
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	updated := strings.Replace(validJSON, `"notify_window": "2m"`, `"notify_window": "3m"`, 1)
	// Give Watch time to register, then write once. Retries are spaced wider
	// than reloadDebounce so a rewrite never keeps pushing the reload back.
	time.Sleep(reloadDebounce + 50*time.Millisecond)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(reloadDebounce + 150*time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case cfg := <-sub:
			if cfg.Builders.NotifyWindow != "3m" {
				t.Fatalf("published notify_window = %q", cfg.Builders.NotifyWindow)
			}
			cancel()
			<-done
			return
		case <-tick.C:
			_ = os.WriteFile(path, []byte(updated), 0o644)
		case <-deadline:
			t.Fatal("no config published")
		}
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{" 90s ", 90 * time.Second, false},
		{"1d", 24 * time.Hour, false},
		{"1D12h", 36 * time.Hour, false},
		{"2d30m", 48*time.Hour + 30*time.Minute, false},
		{"-1d", 0, true},
		{"-5m", 0, true},
		{"xd", 0, true},
		{"soon", 0, true},
	}
	for _, tc := range cases {
		got, err := ParseDurationField("builders.scan_interval", tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: err=%v wantErr=%v", tc.in, err, tc.wantErr)
		}
		if err != nil {
			if !strings.HasPrefix(err.Error(), "builders.scan_interval:") {
				t.Fatalf("%q: error lacks path: %v", tc.in, err)
			}
			continue
		}
		if got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.in, got, tc.want)
		}
	}

	if d, _ := ParseDurationOrDefault("x", "0s", time.Minute); d != time.Minute {
		t.Fatalf("zero should fall back to default, got %v", d)
	}
}

func TestSchedulerCheck(t *testing.T) {
	t.Parallel()
	if err := (SchedulerConfig{Timezone: "UTC", StatusReport: "0 9 * * *"}).Check(); err != nil {
		t.Fatalf("valid scheduler: %v", err)
	}
	if err := (SchedulerConfig{StatusReport: "@daily"}).Check(); err != nil {
		t.Fatalf("descriptor: %v", err)
	}
	err := (SchedulerConfig{Timezone: "Mars/Olympus", StatusReport: "every day"}).Check()
	if err == nil || !strings.Contains(err.Error(), "scheduler.timezone") || !strings.Contains(err.Error(), "scheduler.status_report") {
		t.Fatalf("err = %v", err)
	}

	oldCfg := &Config{}
	newCfg := &Config{Scheduler: SchedulerConfig{StatusReport: "@daily"}}
	if changed, _ := SummarizeConfigChange(oldCfg, newCfg); !slices.Equal(changed, []string{"scheduler"}) {
		t.Fatalf("changed = %v", changed)
	}
}
