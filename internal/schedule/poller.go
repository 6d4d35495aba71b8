package schedule

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is the pull-path cadence.
const DefaultPollInterval = time.Second

// Poller drains one due queue on a fixed interval, dispatching one action per
// entry. Handler errors are logged and never stop the loop.
type Poller struct {
	queue    *DueQueue
	interval time.Duration
	handle   func(Entry)
	now      func() time.Time
}

func NewPoller(queue *DueQueue, interval time.Duration, handle func(Entry)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{queue: queue, interval: interval, handle: handle, now: time.Now}
}

// Run blocks until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("due-queue poller started", "queue", p.queue.Name(), "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("due-queue poller stopped", "queue", p.queue.Name())
			return
		case <-ticker.C:
			p.RunOnce()
		}
	}
}

// RunOnce pops and dispatches everything currently due. Useful for testing.
func (p *Poller) RunOnce() {
	entries, err := p.queue.PopDue(p.now())
	if err != nil {
		slog.Error("pop due entries", "queue", p.queue.Name(), "error", err)
		return
	}
	for _, e := range entries {
		p.handle(e)
	}
}
