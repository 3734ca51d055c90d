// Package events carries notifications from background workers to
// whatever presents them. Workers never touch presentation state directly.
package events

import (
	"sync"

	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

type Kind string

const (
	TaskQueued   Kind = "task_queued"
	TaskProgress Kind = "task_progress"
	TaskDone     Kind = "task_done"
	TileReady    Kind = "tile_ready"
	LayerUpdate  Kind = "layer_update"
	Status       Kind = "status"
)

type Event struct {
	Kind     Kind    `json:"kind"`
	TaskID   int64   `json:"task_id,omitempty"`
	Fraction float64 `json:"fraction,omitempty"`
	Message  string  `json:"message,omitempty"`
	Source   int     `json:"source,omitempty"`
	X        int     `json:"x,omitempty"`
	Y        int     `json:"y,omitempty"`
	Z        int     `json:"z,omitempty"`
	Scale    int     `json:"scale,omitempty"`
}

// Publisher is the side workers see.
type Publisher interface {
	Publish(e Event)
}

const subscriberBuffer = 64

// Bus fans events out to subscribers. A subscriber whose buffer is full
// misses the event; publishers never block.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	next   int
	logger logger.Logger
}

var _ Publisher = (*Bus)(nil)

func NewBus(l logger.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger.OrNop(l),
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.logger.Debug("event dropped for slow subscriber", "subscriber", id, "kind", string(e.Kind))
		}
	}
}

// Subscribe returns the event stream and the function that ends it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers is the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}
