package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/doormanhq/doorman/internal/kv"
)

// recordJob appends its sequence number to a shared log when processed.
type recordJob struct {
	key   string
	seq   int
	log   *orderLog
	block chan struct{}
	err   error
	panic bool
}

type orderLog struct {
	mu   sync.Mutex
	seen []int
}

func (o *orderLog) add(seq int) {
	o.mu.Lock()
	o.seen = append(o.seen, seq)
	o.mu.Unlock()
}

func (o *orderLog) snapshot() []int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.seen...)
}

func (j *recordJob) Kind() string { return "test.record" }

func (j *recordJob) Process(ctx context.Context) error {
	if j.block != nil {
		<-j.block
	}
	if j.panic {
		panic("boom")
	}
	if j.log != nil {
		j.log.add(j.seq)
	}
	return j.err
}

func (j *recordJob) PartitionKey() string { return j.key }

// looseJob has no partition key and runs on the parallel lane.
type looseJob struct {
	done chan struct{}
}

func (j *looseJob) Kind() string { return "test.loose" }

func (j *looseJob) Process(ctx context.Context) error {
	close(j.done)
	return nil
}

// gatedJob counts limiter consultations through a stub limiter.
type gatedJob struct {
	recordJob
	subj kv.Subject
}

func (j *gatedJob) Gate() (string, kv.Subject, time.Duration) {
	return "test.action", j.subj, 5 * time.Millisecond
}

// stubLimiter denies the first denials calls, then admits everything.
type stubLimiter struct {
	denials int32
	calls   atomic.Int32
}

func (s *stubLimiter) Allow(action string, subj kv.Subject) bool {
	return s.calls.Add(1) > s.denials
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within timeout")
}

func closePipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestPartitionedJobsKeepFIFOOrder(t *testing.T) {
	p := New(4, nil)
	log := &orderLog{}
	const n = 50
	for i := 0; i < n; i++ {
		p.Submit(&recordJob{key: "user:42", seq: i, log: log})
	}
	closePipeline(t, p)

	seen := log.snapshot()
	if len(seen) != n {
		t.Fatalf("processed %d jobs, want %d", len(seen), n)
	}
	for i, seq := range seen {
		if seq != i {
			t.Fatalf("order broken at position %d: got seq %d", i, seq)
		}
	}
}

func TestSamePartitionKeyNeverOverlaps(t *testing.T) {
	p := New(2, nil)
	var inFlight, maxInFlight atomic.Int32
	for i := 0; i < 20; i++ {
		p.Submit(&overlapJob{inFlight: &inFlight, max: &maxInFlight})
	}
	closePipeline(t, p)
	if got := maxInFlight.Load(); got > 1 {
		t.Errorf("max concurrent jobs on one key = %d, want 1", got)
	}
}

type overlapJob struct {
	inFlight *atomic.Int32
	max      *atomic.Int32
}

func (j *overlapJob) Kind() string         { return "test.overlap" }
func (j *overlapJob) PartitionKey() string { return "k" }

func (j *overlapJob) Process(ctx context.Context) error {
	cur := j.inFlight.Add(1)
	for {
		prev := j.max.Load()
		if cur <= prev || j.max.CompareAndSwap(prev, cur) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	j.inFlight.Add(-1)
	return nil
}

func TestUnpartitionedJobsRunConcurrently(t *testing.T) {
	p := New(1, nil)
	defer p.Kill()

	// Park the single serial lane so parallel execution is observable.
	gate := make(chan struct{})
	p.Submit(&recordJob{key: "k", block: gate})

	done := make(chan struct{})
	p.Submit(&looseJob{done: done})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("parallel job did not run while serial lane was busy")
	}
	close(gate)
	closePipeline(t, p)
}

func TestJobPanicDoesNotKillLane(t *testing.T) {
	p := New(1, nil)
	log := &orderLog{}
	p.Submit(&recordJob{key: "k", panic: true})
	p.Submit(&recordJob{key: "k", seq: 1, log: log})
	closePipeline(t, p)

	if seen := log.snapshot(); len(seen) != 1 {
		t.Errorf("job after panic not processed, log = %v", seen)
	}
	if got := p.Stats().Failed; got != 1 {
		t.Errorf("failed count = %d, want 1", got)
	}
}

func TestJobErrorIsCountedNotFatal(t *testing.T) {
	p := New(1, nil)
	log := &orderLog{}
	p.Submit(&recordJob{key: "k", err: context.DeadlineExceeded})
	p.Submit(&recordJob{key: "k", seq: 1, log: log})
	closePipeline(t, p)

	stats := p.Stats()
	if stats.Failed != 1 || stats.Processed != 1 {
		t.Errorf("stats = %+v, want 1 failed and 1 processed", stats)
	}
}

func TestGatedJobRetriesUntilAdmitted(t *testing.T) {
	limiter := &stubLimiter{denials: 3}
	p := New(1, limiter)
	log := &orderLog{}
	j := &gatedJob{subj: kv.Subject{ChatID: 1, UserID: 2}}
	j.key = "k"
	j.log = log
	p.Submit(j)

	waitFor(t, 5*time.Second, func() bool { return len(log.snapshot()) == 1 })
	if got := limiter.calls.Load(); got != 4 {
		t.Errorf("limiter consulted %d times, want 4 (3 denials then admit)", got)
	}
	closePipeline(t, p)
}

func TestGatedJobAbandonedAtShutdown(t *testing.T) {
	limiter := &stubLimiter{denials: 1 << 30} // never admits
	p := New(1, limiter)
	log := &orderLog{}
	j := &gatedJob{subj: kv.Subject{ChatID: 1, UserID: 2}}
	j.key = "k"
	j.log = log
	p.Submit(j)

	waitFor(t, 5*time.Second, func() bool { return limiter.calls.Load() >= 2 })
	closePipeline(t, p)
	if seen := log.snapshot(); len(seen) != 0 {
		t.Errorf("gated job ran despite limiter never admitting it: %v", seen)
	}
}

func TestSubmitAfterCloseIsDropped(t *testing.T) {
	p := New(1, nil)
	closePipeline(t, p)
	log := &orderLog{}
	p.Submit(&recordJob{key: "k", seq: 0, log: log})
	time.Sleep(50 * time.Millisecond)
	if seen := log.snapshot(); len(seen) != 0 {
		t.Errorf("job submitted after Close was processed: %v", seen)
	}
}

func TestCloseDrainsBacklog(t *testing.T) {
	p := New(2, nil)
	log := &orderLog{}
	const n = 30
	for i := 0; i < n; i++ {
		p.Submit(&recordJob{key: "drain", seq: i, log: log})
	}
	closePipeline(t, p)
	if got := len(log.snapshot()); got != n {
		t.Errorf("drained %d jobs, want %d", got, n)
	}
}

func TestLaneIndexIsStable(t *testing.T) {
	a := laneIndex("chat:user", 4)
	b := laneIndex("chat:user", 4)
	if a != b {
		t.Errorf("laneIndex not stable: %d vs %d", a, b)
	}
	if a < 0 || a >= 4 {
		t.Errorf("laneIndex out of range: %d", a)
	}
}
