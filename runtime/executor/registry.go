package executor

import (
	"fmt"
	"sort"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/worker"
)

// Registry collects the service operations every worker exposes as
// activities. Services register their direct implementations at construction;
// the platform applies the whole bundle to each worker it starts so any
// workflow can dispatch any service call regardless of queue.
type Registry struct {
	mu  sync.Mutex
	ops map[string]any
}

// NewRegistry returns an empty operation registry.
func NewRegistry() *Registry {
	return &Registry{ops: make(map[string]any)}
}

// Register adds fn under its dispatch name. The name must match what callers
// pass to Execute; registering a name twice is rejected.
func (r *Registry) Register(op string, fn any) error {
	if op == "" || fn == nil {
		return fmt.Errorf("executor: operation name and function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.ops[op]; exists {
		return fmt.Errorf("executor: operation %q already registered", op)
	}
	r.ops[op] = fn
	return nil
}

// MustRegister is Register for service constructors, where a duplicate name
// is a programming error.
func (r *Registry) MustRegister(op string, fn any) {
	if err := r.Register(op, fn); err != nil {
		panic(err)
	}
}

// Operations returns the registered dispatch names in stable order.
func (r *Registry) Operations() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]string, 0, len(r.ops))
	for op := range r.ops {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// Apply registers every operation on the worker under its dispatch name.
func (r *Registry) Apply(w worker.ActivityRegistry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for op, fn := range r.ops {
		w.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: op})
	}
}
