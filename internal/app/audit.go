package app

import (
	"context"
	"time"

	"github.com/Keeeszo/friends-bot/internal/builders"
	"github.com/Keeeszo/friends-bot/internal/eventbus"
	"github.com/Keeeszo/friends-bot/pkg/logx"
)

const auditWriteTimeout = 5 * time.Second

// runAudit persists builders lifecycle events until ctx is done or the
// subscription closes. A failed write is logged and skipped.
func runAudit(ctx context.Context, events <-chan eventbus.Event, store builders.Store, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			entry, ok := builders.AuditFromEvent(e)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), auditWriteTimeout)
			err := store.AppendAudit(wctx, entry)
			cancel()
			if err != nil {
				log.Warn("audit write failed", logx.String("event", e.Type), logx.Tag(entry.Tag), logx.Err(err))
			}
		}
	}
}

// runEventLog mirrors every bus event at debug level.
func runEventLog(ctx context.Context, events <-chan eventbus.Event, log logx.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
		}
	}
}
