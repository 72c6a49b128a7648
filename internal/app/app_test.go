package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/internal/config"
	"github.com/Keeeszo/friends-bot/internal/eventbus"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in         config.StorageConfig
		wantDriver string
		wantPath   string
		wantBusy   time.Duration
		wantErr    bool
	}{
		{in: config.StorageConfig{}, wantDriver: "file", wantPath: "data/builders.json", wantBusy: 5 * time.Second},
		{in: config.StorageConfig{Driver: "SQLite3", BusyTimeout: "2s"}, wantDriver: "sqlite", wantPath: "data/friends.db", wantBusy: 2 * time.Second},
		{in: config.StorageConfig{Driver: "file", Path: "/var/lib/fb/state.json"}, wantDriver: "file", wantPath: "/var/lib/fb/state.json", wantBusy: 5 * time.Second},
		{in: config.StorageConfig{Driver: "redis"}, wantErr: true},
		{in: config.StorageConfig{Driver: "sqlite", BusyTimeout: "soon"}, wantErr: true},
	}
	for _, tt := range tests {
		got, err := mapStorageConfig(&config.Config{Storage: tt.in})
		if tt.wantErr {
			if err == nil {
				t.Errorf("%+v: expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("%+v: %v", tt.in, err)
			continue
		}
		if got.Driver != tt.wantDriver || got.Path != tt.wantPath || got.BusyTimeout != tt.wantBusy {
			t.Errorf("%+v: got %+v", tt.in, got)
		}
	}
}

func TestMapNotifierConfigUsesAlertsTopic(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{
		Telegram: config.TelegramConfig{AlertsChatID: -100, AlertsThreadID: 42},
		Notifier: &config.NotifierConfig{RatePerSec: 1, RetryBase: "1s"},
	}
	got, err := mapNotifierConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.AlertsChatID != -100 || got.AlertsThreadID != 42 || got.RatePerSec != 1 || got.RetryBase != time.Second || got.RetryMax != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestScannerConfigRendersHTML(t *testing.T) {
	t.Parallel()
	b, err := config.BuildersConfig{NotifyWindow: "2m"}.Resolve()
	if err != nil {
		t.Fatal(err)
	}
	sc := scannerConfig(b)
	if sc.Window != 2*time.Minute || !sc.NotifyOverdue || sc.Format == nil {
		t.Fatalf("got %+v", sc)
	}
	if scanTimeout(10*time.Second) != 30*time.Second || scanTimeout(time.Minute) != time.Minute {
		t.Fatal("scanTimeout bounds")
	}
}

type auditStore struct {
	builders.Store
	entries chan builders.AuditEntry
	fail    bool
}

func (s *auditStore) AppendAudit(_ context.Context, e builders.AuditEntry) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.entries <- e
	return nil
}

func TestRunAuditPersistsLifecycleEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	events, unsub := bus.Subscribe(16, builders.EventPrefix)
	defer unsub()
	store := &auditStore{entries: make(chan builders.AuditEntry, 4)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runAudit(ctx, events, store, logx.Nop())
	}()

	at := time.Date(2026, 5, 10, 18, 0, 0, 0, time.UTC)
	bus.Publish(eventbus.Event{Type: "notifier.sent", Time: at})
	bus.Publish(eventbus.Event{Type: builders.EventTaskExpired, Time: at, Data: builders.Lifecycle{
		OwnerID: "1001", Tag: "#A", TaskID: "t1", Detail: "Muro", Notified: true,
	}})

	select {
	case e := <-store.entries:
		if e.Event != builders.EventTaskExpired || e.OwnerID != "1001" || e.TaskID != "t1" || !e.At.Equal(at) {
			t.Fatalf("entry = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("audit entry not written")
	}
	cancel()
	<-done
	select {
	case e := <-store.entries:
		t.Fatalf("unexpected extra entry %+v", e)
	default:
	}
}

func TestStepHonorsLimit(t *testing.T) {
	t.Parallel()
	a := &App{log: logx.Nop()}
	start := time.Now()
	a.step(context.Background(), "stuck", 50*time.Millisecond, func(c context.Context) error {
		<-c.Done()
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	if took := time.Since(start); took > 150*time.Millisecond {
		t.Fatalf("step blocked for %s", took)
	}

	ran := false
	a.step(context.Background(), "panics", time.Second, func(context.Context) error {
		ran = true
		panic("boom")
	})
	if !ran {
		t.Fatal("step did not run")
	}
}
