package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "github.com/Keeeszo/friends-bot/internal/transport"
	"github.com/Keeeszo/friends-bot/pkg/tgui"
)

type Config struct {
	Level    string
	Console  bool
	File     FileConfig
	Telegram TelegramConfig
}

type FileConfig struct {
	Enabled bool
	Path    string
}

// TelegramConfig routes warn+ records to the admin chat set by SetTelegramTarget.
type TelegramConfig struct {
	Enabled    bool
	ThreadID   int
	MinLevel   string
	RatePerSec int
}

// Service owns the live zerolog root. Apply rebuilds the sink set (console,
// JSON file, admin chat) without invalidating Loggers already handed out.
type Service struct {
	mu  sync.Mutex
	cfg Config

	root atomic.Value // zerolog.Logger

	file *os.File

	sender   kit.Sender
	alerts   chan alert
	tgOnce   sync.Once
	tgCancel context.CancelFunc
	tgWG     sync.WaitGroup

	// guarded by mu
	chatID   int64
	threadID int
	limiter  *rate.Limiter
	minLevel zerolog.Level
}

type alert struct {
	to   kit.ChatTarget
	text string
}

// New creates the logging service, applies cfg immediately and returns
// both the Service and a live root Logger.
func New(cfg Config, sender kit.Sender) (*Service, Logger) {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = consoleTimeFormat

	s := &Service{
		cfg:      cfg,
		sender:   sender,
		alerts:   make(chan alert, 256),
		threadID: cfg.Telegram.ThreadID,
	}
	boot := zerolog.New(newConsoleWriter(Stdout())).Level(parseLevel(cfg.Level, zerolog.InfoLevel)).With().Timestamp().Logger()
	s.root.Store(boot)
	s.Apply(cfg)
	return s, Logger{svc: s}
}

func (s *Service) current() zerolog.Logger {
	zl, ok := s.root.Load().(zerolog.Logger)
	if !ok {
		return zerolog.Nop()
	}
	return zl
}

func (s *Service) Logger() Logger { return Logger{svc: s} }

func (s *Service) SetTelegramTarget(chatID int64, threadID int) {
	s.mu.Lock()
	s.chatID = chatID
	if threadID != 0 {
		s.threadID = threadID
	}
	s.mu.Unlock()
}

func (s *Service) Close() error {
	s.mu.Lock()
	f := s.file
	s.file = nil
	cancel := s.tgCancel
	s.tgCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		s.tgWG.Wait()
	}
	if f != nil {
		return f.Close()
	}
	return nil
}

// Apply swaps logger outputs/levels at runtime. Safe for concurrent use.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.minLevel = parseLevel(cfg.Telegram.MinLevel, zerolog.WarnLevel)
	rps := max(1, cfg.Telegram.RatePerSec)
	s.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	if cfg.Telegram.ThreadID != 0 {
		s.threadID = cfg.Telegram.ThreadID
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}

	writers := make([]io.Writer, 0, 3)
	if cfg.Console {
		writers = append(writers, newConsoleWriter(Stdout()))
	}
	if cfg.File.Enabled {
		path := strings.TrimSpace(cfg.File.Path)
		if path == "" {
			path = "./friends-bot.log"
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logx: failed opening log file %q: %v\n", path, err)
		} else {
			s.file = f
			writers = append(writers, zerolog.SyncWriter(f))
		}
	}
	if cfg.Telegram.Enabled && s.sender != nil {
		s.tgOnce.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			s.tgCancel = cancel
			s.tgWG.Add(1)
			go func() {
				defer s.tgWG.Done()
				s.alertWorker(ctx)
			}()
		})
		writers = append(writers, &alertSink{svc: s})
	}
	if len(writers) == 0 {
		writers = append(writers, newConsoleWriter(Stdout()))
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level, zerolog.InfoLevel)).
		With().Timestamp().Logger()
	s.root.Store(zl)
}

func (s *Service) alertWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-s.alerts:
			_, _ = s.sender.SendText(ctx, a.to, a.text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		}
	}
}

// alertSink forwards warn+ records to the admin chat. Full queue drops the record.
type alertSink struct{ svc *Service }

func (w *alertSink) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *alertSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	s.mu.Lock()
	chatID, threadID := s.chatID, s.threadID
	lim, minLevel := s.limiter, s.minLevel
	s.mu.Unlock()

	if chatID == 0 || lim == nil || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	text := formatAlert(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case s.alerts <- alert{to: kit.ChatTarget{ChatID: chatID, ThreadID: threadID}, text: text}:
	default:
	}
	return len(p), nil
}

// formatAlert renders one JSON record as HTML: level and message first, then
// the account/task subject, then the remaining fields sorted by key.
func formatAlert(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return tgui.Esc(tgui.TruncRunes(strings.TrimSpace(string(p)), alertMaxRunes)).String()
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	parts := []tgui.H{tgui.B(levelIcon(lvl) + " " + strings.ToUpper(lvl)), tgui.Esc(msg)}
	head := tgui.JoinH(" ", parts...)

	var subject []tgui.H
	if v, ok := m[KeyTag]; ok {
		subject = append(subject, tgui.Code(fmt.Sprint(v)))
	}
	if v, ok := m[KeyOwner]; ok {
		subject = append(subject, tgui.Esc("owner "+fmt.Sprint(v)))
	}
	if v, ok := m[KeyTask]; ok {
		subject = append(subject, tgui.Esc("task "+fmt.Sprint(v)))
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", zerolog.CallerFieldName, KeyTag, KeyOwner, KeyTask:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := []tgui.H{head}
	if len(subject) > 0 {
		lines = append(lines, tgui.JoinH(" · ", subject...))
	}
	for _, k := range keys {
		v := tgui.TruncRunes(fmt.Sprint(m[k]), alertFieldRunes)
		lines = append(lines, tgui.JoinH("", tgui.Esc(k+"="), tgui.Code(v)))
	}
	out := tgui.JoinH("\n", lines...).String()
	if len([]rune(out)) > alertMaxRunes {
		// Cutting HTML mid-tag breaks parsing; fall back to the header alone.
		return head.String()
	}
	return out
}

const (
	alertMaxRunes   = 3500
	alertFieldRunes = 300
)

func levelIcon(lvl string) string {
	switch lvl {
	case "error", "fatal", "panic":
		return "🔴"
	case "warn":
		return "🟠"
	default:
		return "🔵"
	}
}
