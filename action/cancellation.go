package action

import (
	"sync"

	"github.com/google/uuid"
)

// TaskCancellationRegistry maps a per-task UUID to its cancellation
// callback, per §5: child-producing APIs register once the child is
// started (LocalExecutor.Perform registers right after the process
// starts) and deregister on completion, so a parent's cancellation
// still reaches detached, fire-and-forget task contexts.
type TaskCancellationRegistry struct {
	mu        sync.Mutex
	callbacks map[uuid.UUID]func()
}

// NewTaskCancellationRegistry returns an empty registry.
func NewTaskCancellationRegistry() *TaskCancellationRegistry {
	return &TaskCancellationRegistry{callbacks: make(map[uuid.UUID]func())}
}

// Register records cancel under a fresh UUID and returns it; the
// caller deregisters with Deregister once the task completes.
func (r *TaskCancellationRegistry) Register(cancel func()) uuid.UUID {
	id := uuid.New()
	r.mu.Lock()
	r.callbacks[id] = cancel
	r.mu.Unlock()
	return id
}

// Deregister removes the callback for id without invoking it.
func (r *TaskCancellationRegistry) Deregister(id uuid.UUID) {
	r.mu.Lock()
	delete(r.callbacks, id)
	r.mu.Unlock()
}

// Cancel invokes and removes the callback for id, if still registered.
func (r *TaskCancellationRegistry) Cancel(id uuid.UUID) {
	r.mu.Lock()
	cb, ok := r.callbacks[id]
	delete(r.callbacks, id)
	r.mu.Unlock()
	if ok {
		cb()
	}
}

// CancelAll invokes every registered callback, used when a top-level
// build is cancelled and must tear down every outstanding spawn.
func (r *TaskCancellationRegistry) CancelAll() {
	r.mu.Lock()
	callbacks := make([]func(), 0, len(r.callbacks))
	for id, cb := range r.callbacks {
		callbacks = append(callbacks, cb)
		delete(r.callbacks, id)
	}
	r.mu.Unlock()
	for _, cb := range callbacks {
		cb()
	}
}
