package coordinator

import (
	"context"

	"github.com/copytrade/engine/internal/metrics"
	"github.com/copytrade/engine/internal/model"
)

// followerQueue is a bounded FIFO of TradePlans for one follower, drained
// by K worker goroutines. When full, enqueue drops the oldest queued plan
// rather than blocking the dispatcher (spec §4.6: "additional plans queue
// FIFO with a bounded queue (drop-oldest on overflow with a counter)").
type followerQueue struct {
	ch chan *model.TradePlan
}

func newFollowerQueue(depth int) *followerQueue {
	if depth <= 0 {
		depth = 1
	}
	return &followerQueue{ch: make(chan *model.TradePlan, depth)}
}

func (q *followerQueue) enqueue(plan *model.TradePlan) {
	for {
		select {
		case q.ch <- plan:
			return
		default:
		}
		select {
		case <-q.ch:
			metrics.CoordinatorQueueOverflow.Inc()
		default:
			// Another worker drained concurrently; retry the send.
		}
	}
}

// worker drains the queue until ctx is cancelled, running each plan with
// run. Multiple workers share one channel, giving the follower up to K
// plans in flight at once.
func (q *followerQueue) worker(ctx context.Context, run func(context.Context, *model.TradePlan)) {
	for {
		select {
		case <-ctx.Done():
			return
		case plan, ok := <-q.ch:
			if !ok {
				return
			}
			run(ctx, plan)
		}
	}
}
