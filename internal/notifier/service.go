package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Keeeszo/friends-bot/internal/eventbus"
	kit "github.com/Keeeszo/friends-bot/internal/transport"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

var (
	ErrNoSender     = errors.New("notifier: no sender")
	ErrInvalidOwner = errors.New("notifier: owner id is not a chat id")
)

const historySize = 50

// Service implements builders.Notifier. It is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sender kit.Sender
	bus    eventbus.Publisher
	log    logx.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender kit.Sender, log logx.Logger, bus eventbus.Publisher) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		bus:    bus,
		log:    log.With(logx.String("comp", "notifier")),
		sleep:  sleepCtx,
	}
	s.Apply(cfg)
	return s
}

// Apply swaps delivery settings at runtime.
func (s *Service) Apply(cfg Config) {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limiter == nil || s.cfg.RatePerSec != cfg.RatePerSec {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	s.cfg = cfg
}

// Target resolves where an owner's notifications are delivered.
func (s *Service) Target(ownerID string) (kit.ChatTarget, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	if cfg.AlertsChatID != 0 {
		return kit.ChatTarget{ChatID: cfg.AlertsChatID, ThreadID: cfg.AlertsThreadID}, nil
	}
	id, err := strconv.ParseInt(strings.TrimSpace(ownerID), 10, 64)
	if err != nil || id == 0 {
		return kit.ChatTarget{}, fmt.Errorf("%w: %q", ErrInvalidOwner, ownerID)
	}
	return kit.ChatTarget{ChatID: id}, nil
}

// Notify sends text (HTML) and returns the last error once retries are exhausted.
func (s *Service) Notify(ctx context.Context, ownerID, text string) error {
	if s.sender == nil {
		return ErrNoSender
	}
	to, err := s.Target(ownerID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := s.sender.SendText(callCtx, to, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
		cancel()
		if err == nil {
			s.appendHistory(ownerID, text)
			s.publish(EventSent, ownerID, to, attempt, nil)
			return nil
		}
		lastErr = err
		s.log.Debug("notify send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", attempts))
		if attempt == attempts {
			break
		}
		if err := s.sleep(ctx, retryDelay(cfg, attempt)); err != nil {
			lastErr = err
			break
		}
	}
	s.publish(EventFailed, ownerID, to, attempts, lastErr)
	return fmt.Errorf("notify %s: %w", ownerID, lastErr)
}

func (s *Service) publish(typ, ownerID string, to kit.ChatTarget, attempts int, err error) {
	if s.bus == nil {
		return
	}
	ev := NotificationEvent{OwnerID: ownerID, ChatID: to.ChatID, ThreadID: to.ThreadID, At: time.Now(), Attempts: attempts}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// Snapshot returns recent deliveries, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(ownerID, text string) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: time.Now(), OwnerID: ownerID, Text: text})
	if over := len(s.history) - historySize; over > 0 {
		s.history = append(s.history[:0], s.history[over:]...)
	}
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1), capped, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	base := cfg.RetryBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := cfg.RetryMaxDelay
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	d := base
	for i := 1; i < attempt && d < maxD; i++ {
		d *= 2
	}
	j := 0.7 + rand.Float64()*0.6
	return min(time.Duration(float64(d)*j), maxD)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
