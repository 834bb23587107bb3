package jobs

import (
	"context"
	"sync"

	"github.com/coursecraft/coursecraft-backend/internal/types"
)

// HandlerFunc executes one task. A nil return marks the task succeeded; an
// error return routes through the lane's backoff policy.
type HandlerFunc func(ctx context.Context, task *types.Task) error

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerFunc{}}
}

func (r *Registry) Register(jobType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
