package jobs

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps job names to jobs.
type Registry struct {
	jobs map[string]Job
	mu   sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]Job)}
}

// Register adds j, replacing any job with the same name.
func (r *Registry) Register(j Job) error {
	if j == nil {
		return fmt.Errorf("cannot register nil job")
	}
	if j.Name() == "" {
		return fmt.Errorf("job name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.Name()] = j
	return nil
}

// Get looks a job up by name.
func (r *Registry) Get(name string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[name]
	return j, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered jobs.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
