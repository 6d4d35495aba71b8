package dispatch

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/doormanhq/doorman/internal/ratelimit"
)

// DefaultWorkers is the serial lane count when none is configured.
const DefaultWorkers = 4

// Pipeline owns the execution lanes. Submit is fire-and-forget; processing is
// asynchronous and survives individual job failures. One Close drains every
// lane; a cancelled run context stops them all immediately instead.
type Pipeline struct {
	limiter  ratelimit.Limiter
	lanes    []*lane
	ctx      context.Context
	cancel   context.CancelFunc
	shutdown chan struct{}

	mu       sync.Mutex
	closed   bool
	parallel sync.WaitGroup

	processed atomic.Uint64
	failed    atomic.Uint64
}

// New starts a pipeline with workers serial lanes. limiter may be nil when no
// submitted job is Gated.
func New(workers int, limiter ratelimit.Limiter) *Pipeline {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		limiter:  limiter,
		ctx:      ctx,
		cancel:   cancel,
		shutdown: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		l := newLane(i, p)
		p.lanes = append(p.lanes, l)
		go l.run(ctx)
	}
	return p
}

// Submit enqueues job and returns immediately. Partitioned jobs keep FIFO
// order per key; the rest run concurrently. Jobs submitted after Close are
// dropped with a log line.
func (p *Pipeline) Submit(job Job) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		slog.Warn("job dropped; pipeline closed", "kind", job.Kind())
		return
	}
	if pj, ok := job.(Partitioned); ok {
		lane := p.lanes[laneIndex(pj.PartitionKey(), len(p.lanes))]
		p.mu.Unlock()
		lane.enqueue(job)
		return
	}
	p.parallel.Add(1)
	p.mu.Unlock()
	go func() {
		defer p.parallel.Done()
		p.runJob(p.ctx, job)
	}()
}

// Close stops intake, lets every queued and in-flight job finish, then
// returns. A ctx deadline turns the drain into a hard stop.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	close(p.shutdown)

	done := make(chan struct{})
	go func() {
		for _, l := range p.lanes {
			l.close()
			<-l.done
		}
		p.parallel.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return fmt.Errorf("pipeline drain aborted: %w", ctx.Err())
	}
}

// Kill cascades a fault to every lane: queued jobs are discarded and lanes
// stop as soon as the current job returns.
func (p *Pipeline) Kill() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cancel()
}

// Stats is a point-in-time snapshot for the admin surface.
type Stats struct {
	Lanes     []int  `json:"lane_depths"`
	Processed uint64 `json:"processed"`
	Failed    uint64 `json:"failed"`
}

func (p *Pipeline) Stats() Stats {
	s := Stats{Processed: p.processed.Load(), Failed: p.failed.Load()}
	for _, l := range p.lanes {
		s.Lanes = append(s.Lanes, l.depth())
	}
	return s
}

var tracer = otel.Tracer("doorman/dispatch")

// runJob executes one job with the admission gate and panic containment. A
// single bad job must never stall or kill its lane.
func (p *Pipeline) runJob(ctx context.Context, job Job) {
	if g, ok := job.(Gated); ok {
		if !p.waitAdmitted(ctx, job.Kind(), g) {
			return
		}
	}
	ctx, span := tracer.Start(ctx, job.Kind())
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			slog.Error("job panicked", "kind", job.Kind(), "panic", r)
		}
	}()
	if err := job.Process(ctx); err != nil {
		p.failed.Add(1)
		span.RecordError(err)
		slog.Error("job failed", "kind", job.Kind(), "error", err)
		return
	}
	p.processed.Add(1)
}

// waitAdmitted blocks until the limiter admits the job. Returns false when
// shutdown or a fault interrupts the wait.
func (p *Pipeline) waitAdmitted(ctx context.Context, kind string, g Gated) bool {
	action, subj, delay := g.Gate()
	for {
		if p.limiter == nil || p.limiter.Allow(action, subj) {
			return true
		}
		select {
		case <-time.After(delay):
		case <-p.shutdown:
			slog.Warn("gated job abandoned at shutdown", "kind", kind, "action", action, "subject", subj)
			return false
		case <-ctx.Done():
			return false
		}
	}
}

// laneIndex hashes key onto a lane. FNV-1a is pure and stable for the life of
// the process, which is all the ordering contract needs.
func laneIndex(key string, lanes int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(lanes))
}

// lane is a single-concurrency FIFO executor.
type lane struct {
	id   int
	p    *Pipeline
	mu   sync.Mutex
	q    []Job
	wake chan struct{}
	quit bool
	done chan struct{}
}

func newLane(id int, p *Pipeline) *lane {
	return &lane{id: id, p: p, wake: make(chan struct{}, 1), done: make(chan struct{})}
}

func (l *lane) enqueue(job Job) {
	l.mu.Lock()
	l.q = append(l.q, job)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *lane) close() {
	l.mu.Lock()
	l.quit = true
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *lane) depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.q)
}

// run drains the queue one job at a time, strictly in arrival order. A closed
// lane finishes its backlog; a cancelled context discards it.
func (l *lane) run(ctx context.Context) {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.q) == 0 {
			quit := l.quit
			l.mu.Unlock()
			if quit {
				return
			}
			select {
			case <-l.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		job := l.q[0]
		l.q = l.q[1:]
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			slog.Warn("lane stopped with queued work discarded", "lane", l.id)
			return
		default:
		}
		l.p.runJob(ctx, job)
	}
}
