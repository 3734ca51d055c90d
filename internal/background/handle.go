package background

import (
	"context"
	"math"
	"sync/atomic"

	"github.com/jaennil/guide_helper/backend/maps/internal/events"
)

// Handle is the worker's view of its task.
type Handle struct {
	task     *task
	pool     *Pool
	fraction atomic.Uint64
	failures atomic.Int64
}

func (h *Handle) ID() ID { return h.task.id }

func (h *Handle) Context() context.Context { return h.task.ctx }

// Progress records the completed fraction in [0,1] and reports whether the
// task should stop.
func (h *Handle) Progress(f float64) bool {
	if f < 0 {
		f = 0
	} else if f > 1 {
		f = 1
	}
	h.fraction.Store(math.Float64bits(f))
	h.pool.bus.Publish(events.Event{Kind: events.TaskProgress, TaskID: int64(h.task.id), Fraction: f})
	return h.task.ctx.Err() != nil
}

func (h *Handle) Fraction() float64 {
	return math.Float64frombits(h.fraction.Load())
}

// AddFailure counts one failed item; the count is shown with the task.
func (h *Handle) AddFailure() {
	h.failures.Add(1)
}

func (h *Handle) Failures() int {
	return int(h.failures.Load())
}
