package mapsource

import (
	"fmt"
	"sync"

	"github.com/jaennil/guide_helper/backend/maps/pkg/logger"
)

// Registry holds the sources in registration order. It is written at
// start up and on config reload and read by every draw.
type Registry struct {
	mu      sync.RWMutex
	sources []*Source
	byID    map[int]*Source
	logger  logger.Logger
}

func NewRegistry(l logger.Logger) *Registry {
	return &Registry{
		byID:   make(map[int]*Source),
		logger: logger.OrNop(l),
	}
}

// Register appends s. A clashing id is a configuration error: it is logged
// and the later definition ignored.
func (r *Registry) Register(s *Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byID[s.ID]; ok {
		r.logger.Error("map source id already registered, ignoring",
			"id", s.ID, "label", s.Label, "registered", prev.Label)
		return fmt.Errorf("%w: %d", ErrDuplicateID, s.ID)
	}

	r.sources = append(r.sources, s)
	r.byID[s.ID] = s
	r.logger.Debug("map source registered", "id", s.ID, "label", s.Label, "drawmode", s.DrawMode().String())
	return nil
}

func (r *Registry) FindByID(id int) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

func (r *Registry) List() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Source, len(r.sources))
	copy(out, r.sources)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sources)
}

// Close releases the sources holding open files.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var firstErr error
	for _, s := range r.sources {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
