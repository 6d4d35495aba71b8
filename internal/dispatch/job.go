// Package dispatch routes typed jobs onto partitioned execution lanes.
//
// Jobs carrying a partition key hash onto one of W serial lanes and run
// strictly in arrival order; everything else runs on a single parallel lane
// with unbounded concurrency. Each job variant carries its own processing
// logic, so there is no handler registry and no "missing handler" state.
package dispatch

import (
	"context"
	"time"

	"github.com/doormanhq/doorman/internal/kv"
)

// Job is one self-contained unit of work.
type Job interface {
	// Kind names the job for logs.
	Kind() string
	// Process performs the work. Errors are logged at the lane boundary and
	// never abort the lane.
	Process(ctx context.Context) error
}

// Partitioned jobs must preserve relative order for their key. The key needs
// to be stable only within one process lifetime; lanes are recreated fresh on
// restart.
type Partitioned interface {
	PartitionKey() string
}

// Gated jobs pass the rate limiter before running. On denial the lane waits
// RetryDelay and retries until admitted or shutdown. Deliberate backpressure,
// not drop-on-deny.
type Gated interface {
	Gate() (action string, subj kv.Subject, retryDelay time.Duration)
}
