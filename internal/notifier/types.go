package notifier

import "time"

// Config controls delivery.
type Config struct {
	// AlertsChatID 0 means "send to the owner's private chat".
	AlertsChatID   int64
	AlertsThreadID int

	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

type HistoryItem struct {
	At      time.Time
	OwnerID string
	Text    string
}

// NotificationEvent is published on the bus after each delivery attempt.
type NotificationEvent struct {
	OwnerID  string    `json:"owner_id"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
}

const (
	EventSent   = "notifier.sent"
	EventFailed = "notifier.failed"
)
