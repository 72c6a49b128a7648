package builders

import (
	"fmt"
	"time"

	"github.com/Keeeszo/friends-bot/internal/eventbus"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

// Event types published on the bus. They all share EventPrefix.
const (
	EventPrefix            = "builders."
	EventAccountRegistered = "builders.account.registered"
	EventTaskAdded         = "builders.task.added"
	EventTaskCancelled     = "builders.task.cancelled"
	EventTaskExpired       = "builders.task.expired"
)

// Lifecycle is the Data of every builders event.
type Lifecycle struct {
	OwnerID  string
	Tag      string
	Account  string
	TaskID   string
	Detail   string
	Notified bool
}

// AuditFromEvent converts a bus event into its persisted form.
func AuditFromEvent(e eventbus.Event) (AuditEntry, bool) {
	lc, ok := e.Data.(Lifecycle)
	if !ok {
		return AuditEntry{}, false
	}
	detail := lc.Detail
	if e.Type == EventTaskExpired {
		detail = fmt.Sprintf("%s notified=%t", detail, lc.Notified)
	}
	return AuditEntry{
		At:      e.Time,
		Event:   e.Type,
		OwnerID: lc.OwnerID,
		Tag:     lc.Tag,
		TaskID:  lc.TaskID,
		Detail:  detail,
	}, true
}

// Options are the collaborators shared by Registry, Ledger and Scanner.
type Options struct {
	Log    logx.Logger
	Events eventbus.Publisher
	Now    func() time.Time
}

func (o Options) withDefaults(comp string) Options {
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	o.Log = o.Log.With(logx.String("comp", comp))
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) publish(typ string, at time.Time, lc Lifecycle) {
	if o.Events == nil {
		return
	}
	o.Events.Publish(eventbus.Event{Type: typ, Time: at, Data: lc})
}
