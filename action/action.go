// Package action implements the Action Executor contract (component
// I): a pluggable perform(action, ctx) -> value collaborator, plus a
// requirements-driven Registry (adapted from the teacher's executor
// Registry, which dispatched on a CanHandle predicate) and a local
// process-spawning Executor.
package action

import (
	"context"
	"sync"

	"github.com/evalgo/forgecache/cas"
	"github.com/evalgo/forgecache/engineerrors"
)

// Action is a unit of work handed to an Executor: a requirements
// predicate used to pick a satisfying executor, the input CAS refs it
// depends on, and an opaque codable payload (the ProcessSpec, for the
// local executor).
type Action struct {
	Name         string
	Requirements Requirement
	Refs         []cas.DataID
	Payload      []byte
}

// Result is what perform returns: the CAS tree produced by the action
// and the process exit code, per §4.8.
type Result struct {
	TreeID   cas.DataID
	ExitCode int
}

// Executor performs actions whose requirements it satisfies.
type Executor interface {
	Name() string
	Satisfies(env Environment) bool
	Perform(ctx context.Context, act Action) (Result, error)
}

// Registry holds the executors known to an engine instance and picks
// the first one whose advertised Environment satisfies an action's
// Requirements, mirroring the teacher's first-match Executor Registry
// but keyed on a requirements predicate rather than a URL-prefix check.
type Registry struct {
	mu        sync.RWMutex
	executors []Executor
	envs      map[string]Environment
}

// NewRegistry returns an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{envs: make(map[string]Environment)}
}

// Register adds executor, advertising env as its execution environment
// for requirements evaluation.
func (r *Registry) Register(executor Executor, env Environment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors = append(r.executors, executor)
	r.envs[executor.Name()] = env
}

// Perform finds the first registered executor whose environment
// satisfies act.Requirements and delegates to it. It fails with
// *engineerrors.ExecutorCannotSatisfyRequirements if none match.
func (r *Registry) Perform(ctx context.Context, act Action) (Result, error) {
	r.mu.RLock()
	var chosen Executor
	for _, e := range r.executors {
		env := r.envs[e.Name()]
		if act.Requirements == nil || act.Requirements.Eval(env) {
			chosen = e
			break
		}
	}
	r.mu.RUnlock()

	if chosen == nil {
		return Result{}, &engineerrors.ExecutorCannotSatisfyRequirements{ActionName: act.Name}
	}
	return chosen.Perform(ctx, act)
}
