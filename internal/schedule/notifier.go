package schedule

import (
	"context"
	"log/slog"

	"github.com/doormanhq/doorman/internal/kv"
)

// Notifier is the push path: it consumes the store's key-expiration stream and
// maps expiring trigger keys to application actions. It is near-instant but
// misses events fired while it is offline; the timeout due queue is the
// independent backstop for those.
type Notifier struct {
	events    <-chan kv.ExpiredKey
	onTimeout func(kv.Subject)
}

func NewNotifier(events <-chan kv.ExpiredKey, onTimeout func(kv.Subject)) *Notifier {
	return &Notifier{events: events, onTimeout: onTimeout}
}

// Run blocks until ctx is cancelled or the event stream closes.
func (n *Notifier) Run(ctx context.Context) {
	slog.Info("expiry notifier started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("expiry notifier stopped")
			return
		case ev, ok := <-n.events:
			if !ok {
				slog.Info("expiry notifier stream closed")
				return
			}
			n.dispatch(ev)
		}
	}
}

func (n *Notifier) dispatch(ev kv.ExpiredKey) {
	if subj, ok := kv.SplitSubjectKey(kv.PrefixTrigger, ev.Key); ok {
		n.onTimeout(subj)
		return
	}
	// Trigger keys written by pre-1.0 deployments use a different layout but
	// mean the same thing.
	if subj, ok := kv.SplitLegacyTriggerKey(ev.Key); ok {
		n.onTimeout(subj)
		return
	}
	slog.Debug("ignoring expiry for unwatched key", "key", string(ev.Key))
}
