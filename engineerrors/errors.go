// Package engineerrors defines the error taxonomy raised by the graph,
// engine, action, and registry packages. Each kind is a concrete
// type implementing Unwrap so callers can use errors.As/errors.Is, and
// Root walks a chain of ValueComputationErrors back to the first
// non-wrapped cause.
package engineerrors

import (
	"errors"
	"fmt"
	"strings"
)

// CycleDetected is raised by the dependency graph when adding an edge
// would close a cycle. Path lists the keys encountered from origin back
// to the key that would have closed the loop, in traversal order.
type CycleDetected struct {
	Path []string
}

func (e *CycleDetected) Error() string {
	return fmt.Sprintf("cycle detected: %s", strings.Join(e.Path, " -> "))
}

// UnexpressedKeyDependency is raised when compute requests a child key
// type that the requesting key never declared in its version dependencies.
type UnexpressedKeyDependency struct {
	From string
	To   string
}

func (e *UnexpressedKeyDependency) Error() string {
	return fmt.Sprintf("key type %q requested %q without declaring it as a version dependency", e.From, e.To)
}

// MissingRequiredCacheEntry is raised when a request carries
// requireCacheHit and the function cache has no entry for the child.
type MissingRequiredCacheEntry struct {
	CachePath string
}

func (e *MissingRequiredCacheEntry) Error() string {
	return fmt.Sprintf("required cache entry missing for %q", e.CachePath)
}

// UnexpectedKeyType is raised when a typed dispatch receives a key whose
// dynamic type does not match what the dispatcher expected.
type UnexpectedKeyType struct {
	Name string
}

func (e *UnexpectedKeyType) Error() string {
	return fmt.Sprintf("unexpected key type for %q", e.Name)
}

// InvalidValueType is raised when a decoded value does not match the
// type a key's codec was registered to produce.
type InvalidValueType struct {
	Name string
}

func (e *InvalidValueType) Error() string {
	return fmt.Sprintf("invalid value type for %q", e.Name)
}

// InconsistentValue is raised when validate-cached rejects a freshly
// computed value, or rejects a cached value with no fix and
// RecomputeOnCacheFailure disabled.
type InconsistentValue struct {
	Msg string
}

func (e *InconsistentValue) Error() string {
	return fmt.Sprintf("inconsistent value: %s", e.Msg)
}

// ValueComputationError wraps any error raised by a key's Compute,
// carrying enough context to report which key failed and what it had
// already read from the cache before failing.
type ValueComputationError struct {
	KeyPrefix             string
	Key                   string
	Underlying            error
	RequestedCacheKeyPaths []string
}

func (e *ValueComputationError) Error() string {
	return fmt.Sprintf("computing %s/%s: %v", e.KeyPrefix, e.Key, e.Underlying)
}

func (e *ValueComputationError) Unwrap() error { return e.Underlying }

// KeyEncodingError is raised when building a ValueComputationError
// itself fails because the offending key could not be encoded.
type KeyEncodingError struct {
	EncodingErr error
	UnderlyingErr error
}

func (e *KeyEncodingError) Error() string {
	return fmt.Sprintf("encoding key for error report: %v (underlying: %v)", e.EncodingErr, e.UnderlyingErr)
}

func (e *KeyEncodingError) Unwrap() error { return e.UnderlyingErr }

// ExecutorCannotSatisfyRequirements is raised when no registered action
// executor's environment satisfies an action's requirements predicate.
type ExecutorCannotSatisfyRequirements struct {
	ActionName string
}

func (e *ExecutorCannotSatisfyRequirements) Error() string {
	return fmt.Sprintf("no executor satisfies requirements for action %q", e.ActionName)
}

// NoExecutable is raised when a ProcessSpec names an executable that
// cannot be resolved on PATH or as an absolute path.
type NoExecutable struct {
	Name string
}

func (e *NoExecutable) Error() string {
	return fmt.Sprintf("executable %q not found", e.Name)
}

// ResourceNotFound names a resource that is not registered or that a key
// is not entitled to. Nothing in this module returns it:
// registry.Service.Resource and engine.Interface.Resource report a
// missing or unentitled resource by returning false.
type ResourceNotFound struct {
	Key string
}

func (e *ResourceNotFound) Error() string {
	return fmt.Sprintf("resource %q not found", e.Key)
}

// DuplicateResource is raised at registration time when a resource name
// collides with one already registered.
type DuplicateResource struct {
	Name string
}

func (e *DuplicateResource) Error() string {
	return fmt.Sprintf("resource %q already registered", e.Name)
}

// Failure is raised when a local action's process exits abnormally but
// its output tree, partial as it may be, was still imported into CAS.
type Failure struct {
	TreeID     string
	Underlying error
}

func (e *Failure) Error() string {
	return fmt.Sprintf("action failed (output tree %s preserved): %v", e.TreeID, e.Underlying)
}

func (e *Failure) Unwrap() error { return e.Underlying }

// RecoveryUploadFailure is raised when a local action fails AND the
// best-effort import of whatever output it produced also fails.
type RecoveryUploadFailure struct {
	UploadErr   error
	OriginalErr error
}

func (e *RecoveryUploadFailure) Error() string {
	return fmt.Sprintf("action failed (%v) and recovering its output also failed: %v", e.OriginalErr, e.UploadErr)
}

func (e *RecoveryUploadFailure) Unwrap() error { return e.OriginalErr }

// Root walks a chain of wrapped errors back to the first cause that is
// not itself a ValueComputationError or KeyEncodingError.
func Root(err error) error {
	for {
		var vce *ValueComputationError
		var kee *KeyEncodingError
		switch {
		case errors.As(err, &vce):
			if vce.Underlying == nil {
				return err
			}
			err = vce.Underlying
		case errors.As(err, &kee):
			if kee.UnderlyingErr == nil {
				return err
			}
			err = kee.UnderlyingErr
		default:
			return err
		}
	}
}
