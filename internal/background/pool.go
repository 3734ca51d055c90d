// Package background runs named, progress-bearing tasks on a bounded set
// of workers. Submissions are de-duplicated by fingerprint.
package background

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jaennil/guide_helper/backend/maps/internal/events"
	"github.com/jaennil/guide_helper/backend/maps/internal/repository/tasklog"
	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
	"github.com/jaennil/guide_helper/backend/maps/pkg/metrics"
)

// ID identifies a task. Ids are unique across every pool of the process.
type ID int64

var lastID atomic.Int64

type State int

const (
	StateQueued State = iota
	StateRunning
	StateDone
	StateCanceled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Spec describes one submission. Work runs on a worker; Free runs exactly
// once when the task ends whatever the outcome; CancelCleanup runs before
// Free only when the task was canceled.
type Spec struct {
	Fingerprint string
	Description string
	// Parent tags the view the task was started from.
	Parent        string
	Items         int
	Work          func(ctx context.Context, h *Handle) error
	Free          func()
	CancelCleanup func()
}

type Info struct {
	ID          ID      `json:"id"`
	Pool        string  `json:"pool"`
	Fingerprint string  `json:"fingerprint"`
	Description string  `json:"description"`
	Parent      string  `json:"parent,omitempty"`
	Items       int     `json:"items"`
	Fraction    float64 `json:"fraction"`
	State       State   `json:"state"`
	Failures    int     `json:"failures"`
}

// Recorder keeps finished tasks for later review.
type Recorder interface {
	Record(ctx context.Context, e tasklog.Entry) error
}

type Config struct {
	Name       string
	MaxWorkers int
	Bus        events.Publisher
	Recorder   Recorder
	Logger     logger.Logger
}

type task struct {
	id     ID
	spec   Spec
	ctx    context.Context
	cancel context.CancelFunc
	handle *Handle

	state     atomic.Int32
	canceled  atomic.Bool
	freedOnce sync.Once
}

type Pool struct {
	name     string
	sem      *semaphore.Weighted
	bus      events.Publisher
	recorder Recorder
	logger   logger.Logger

	mu            sync.Mutex
	tasks         map[ID]*task
	byFingerprint map[string]*task
	closed        bool
	wg            sync.WaitGroup
}

func NewPool(cfg Config) *Pool {
	workers := cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	bus := cfg.Bus
	if bus == nil {
		bus = events.Nop{}
	}
	l := logger.OrNop(cfg.Logger)
	l.Info("background pool created", "pool", cfg.Name, "workers", workers)

	return &Pool{
		name:          cfg.Name,
		sem:           semaphore.NewWeighted(int64(workers)),
		bus:           bus,
		recorder:      cfg.Recorder,
		logger:        l,
		tasks:         make(map[ID]*task),
		byFingerprint: make(map[string]*task),
	}
}

func (p *Pool) Name() string { return p.name }

// Submit queues spec. When a task with the same fingerprint is still in
// flight nothing is queued: the existing id is returned with false and
// spec.Free is run so the caller's data is released.
func (p *Pool) Submit(ctx context.Context, spec Spec) (ID, bool) {
	p.mu.Lock()
	if existing, ok := p.byFingerprint[spec.Fingerprint]; ok && spec.Fingerprint != "" {
		p.mu.Unlock()
		p.logger.Debug("task already in flight", "pool", p.name, "fingerprint", spec.Fingerprint, "id", existing.id)
		if spec.Free != nil {
			spec.Free()
		}
		return existing.id, false
	}
	if p.closed {
		p.mu.Unlock()
		if spec.Free != nil {
			spec.Free()
		}
		return 0, false
	}

	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &task{id: ID(lastID.Add(1)), spec: spec, ctx: tctx, cancel: cancel}
	t.handle = &Handle{task: t, pool: p}
	p.tasks[t.id] = t
	if spec.Fingerprint != "" {
		p.byFingerprint[spec.Fingerprint] = t
	}
	p.wg.Add(1)
	p.mu.Unlock()

	metrics.BackgroundTasks.WithLabelValues(p.name, StateQueued.String()).Inc()
	p.bus.Publish(events.Event{Kind: events.TaskQueued, TaskID: int64(t.id), Message: spec.Description})
	p.logger.Debug("task queued", "pool", p.name, "id", t.id, "fingerprint", spec.Fingerprint, "items", spec.Items)

	go p.run(t)
	return t.id, true
}

func (p *Pool) run(t *task) {
	defer p.wg.Done()

	final, started := StateCanceled, false
	defer func() {
		p.finish(t, final, started)
	}()

	if err := p.sem.Acquire(t.ctx, 1); err != nil {
		return
	}
	defer p.sem.Release(1)

	started = true
	t.state.Store(int32(StateRunning))
	metrics.BackgroundTasks.WithLabelValues(p.name, StateQueued.String()).Dec()
	metrics.BackgroundTasks.WithLabelValues(p.name, StateRunning.String()).Inc()

	err := p.work(t)
	switch {
	case t.canceled.Load():
		final = StateCanceled
	case err != nil:
		p.logger.Warn("task failed", "pool", p.name, "id", t.id, "description", t.spec.Description, "error", err)
		final = StateFailed
	default:
		final = StateDone
	}
}

func (p *Pool) work(t *task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if t.spec.Work == nil {
		return nil
	}
	return t.spec.Work(t.ctx, t.handle)
}

// finish runs the cleanup hooks and retires the task.
func (p *Pool) finish(t *task, final State, started bool) {
	if started {
		metrics.BackgroundTasks.WithLabelValues(p.name, StateRunning.String()).Dec()
	} else {
		metrics.BackgroundTasks.WithLabelValues(p.name, StateQueued.String()).Dec()
	}
	t.state.Store(int32(final))

	t.freedOnce.Do(func() {
		if final == StateCanceled && t.spec.CancelCleanup != nil {
			t.spec.CancelCleanup()
		}
		if t.spec.Free != nil {
			t.spec.Free()
		}
	})
	t.cancel()

	p.mu.Lock()
	delete(p.tasks, t.id)
	if p.byFingerprint[t.spec.Fingerprint] == t {
		delete(p.byFingerprint, t.spec.Fingerprint)
	}
	p.mu.Unlock()

	p.bus.Publish(events.Event{Kind: events.TaskDone, TaskID: int64(t.id), Fraction: t.handle.Fraction(), Message: final.String()})
	p.logger.Debug("task finished", "pool", p.name, "id", t.id, "state", final.String(), "failures", t.handle.Failures())

	if p.recorder != nil {
		err := p.recorder.Record(context.WithoutCancel(t.ctx), tasklog.Entry{
			TaskID:      int64(t.id),
			Pool:        p.name,
			Fingerprint: t.spec.Fingerprint,
			Description: t.spec.Description,
			State:       final.String(),
			Items:       t.spec.Items,
			Failures:    t.handle.Failures(),
			FinishedAt:  time.Now(),
		})
		if err != nil {
			p.logger.Warn("failed to record task", "pool", p.name, "id", t.id, "error", err)
		}
	}
}

// Cancel requests cancellation of one task. It reports whether the task
// was found in flight.
func (p *Pool) Cancel(id ID) bool {
	p.mu.Lock()
	t, ok := p.tasks[id]
	p.mu.Unlock()
	if !ok {
		return false
	}
	t.canceled.Store(true)
	t.cancel()
	p.logger.Info("task cancel requested", "pool", p.name, "id", id)
	return true
}

// CancelAll cancels every task in flight and returns how many there were.
func (p *Pool) CancelAll() int {
	p.mu.Lock()
	ts := make([]*task, 0, len(p.tasks))
	for _, t := range p.tasks {
		ts = append(ts, t)
	}
	p.mu.Unlock()

	for _, t := range ts {
		t.canceled.Store(true)
		t.cancel()
	}
	return len(ts)
}

// List returns the tasks in flight ordered by id.
func (p *Pool) List() []Info {
	p.mu.Lock()
	out := make([]Info, 0, len(p.tasks))
	for _, t := range p.tasks {
		out = append(out, p.info(t))
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Pool) info(t *task) Info {
	return Info{
		ID:          t.id,
		Pool:        p.name,
		Fingerprint: t.spec.Fingerprint,
		Description: t.spec.Description,
		Parent:      t.spec.Parent,
		Items:       t.spec.Items,
		Fraction:    t.handle.Fraction(),
		State:       State(t.state.Load()),
		Failures:    t.handle.Failures(),
	}
}

// Items is the number of work items of all tasks in flight.
func (p *Pool) Items() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, t := range p.tasks {
		n += t.spec.Items
	}
	return n
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close refuses new submissions, cancels what is in flight and waits.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	if n := p.CancelAll(); n > 0 {
		p.logger.Info("canceling background tasks", "pool", p.name, "count", n)
	}
	p.Wait()
}
