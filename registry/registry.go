// Package registry implements the Ruleset / Resource Registry
// (component J): a process-wide Service holding the bundles of key
// types a deployment exposes as entrypoints, the external resources
// those keys may depend on, and a chain of error classifiers used to
// turn raw engine errors into a structured, programmatically
// dispatchable form.
package registry

import (
	"fmt"
	"os"
	"sync"

	"github.com/evalgo/forgecache/engineerrors"
	"gopkg.in/yaml.v3"
)

// Ruleset bundles a named set of entrypoint key types together with
// the action types and resources they collectively depend on, per
// §4.9. Entrypoints maps a caller-facing name to the key type it
// resolves to; ActionDependencies and AggregatedResourceEntitlements
// are informational closures computed when the ruleset is authored.
type Ruleset struct {
	Name                           string            `yaml:"name"`
	Entrypoints                    map[string]string `yaml:"entrypoints"`
	ActionDependencies             []string          `yaml:"actionDependencies,omitempty"`
	AggregatedResourceEntitlements []string          `yaml:"resourceEntitlements,omitempty"`
}

// LoadRulesetManifest reads a YAML ruleset manifest from path.
func LoadRulesetManifest(path string) (*Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading ruleset manifest %s: %w", path, err)
	}
	var rs Ruleset
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("parsing ruleset manifest %s: %w", path, err)
	}
	return &rs, nil
}

// Lifetime classifies how long a resource's binding remains valid.
type Lifetime string

const (
	Idempotent  Lifetime = "idempotent"
	Versioned   Lifetime = "versioned"
	RequestOnly Lifetime = "request-only"
)

// ResourceKey is the tagged union from §6, currently carrying its one
// variant: a resource named and looked up externally to the engine.
type ResourceKey struct {
	External string
}

// Resource is what a ResourceKey resolves to: a name, an optional
// version (nil when the resource carries none), and a lifetime.
type Resource struct {
	Name     string
	Version  *int
	Lifetime Lifetime
}

// FXErrorDetails is the structured form an ErrorClassifier produces
// from a raw error, suitable for programmatic dispatch at a service
// boundary.
type FXErrorDetails struct {
	Status         int
	Classification string // "user" or "infrastructure"
	Details        map[string]any
}

const (
	ClassificationUser           = "user"
	ClassificationInfrastructure = "infrastructure"
)

// ErrorClassifier inspects err and, if it recognizes it, returns
// structured details and true. Classifiers are tried in registration
// order; the first match wins.
type ErrorClassifier func(err error) (FXErrorDetails, bool)

// Service is the process-wide registry of rulesets, external
// resources, and error classifiers.
type Service struct {
	mu          sync.RWMutex
	rulesets    map[string]*Ruleset
	resources   map[string]Resource
	classifiers []ErrorClassifier
}

// NewService returns an empty registry with the default error
// classifier chain (CycleDetected, UnexpressedKeyDependency,
// MissingRequiredCacheEntry, InconsistentValue, ResourceNotFound and
// DuplicateResource classify as "user"; everything else falls through
// as "infrastructure"). Only the error itself is inspected, not the
// errors it wraps.
func NewService() *Service {
	s := &Service{
		rulesets:  make(map[string]*Ruleset),
		resources: make(map[string]Resource),
	}
	s.AddErrorClassifier(classifyEngineTaxonomy)
	return s
}

// RegisterRuleset adds rs under rs.Name, replacing any ruleset
// previously registered under the same name.
func (s *Service) RegisterRuleset(rs *Ruleset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rulesets[rs.Name] = rs
}

// Ruleset looks up a previously registered ruleset by name.
func (s *Service) Ruleset(name string) (*Ruleset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.rulesets[name]
	return rs, ok
}

// RegisterResource adds an external resource under key.External,
// failing with *engineerrors.DuplicateResource on a name collision.
func (s *Service) RegisterResource(key ResourceKey, r Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.resources[key.External]; exists {
		return &engineerrors.DuplicateResource{Name: key.External}
	}
	s.resources[key.External] = r
	return nil
}

// Resource looks up a registered external resource by key.
func (s *Service) Resource(key ResourceKey) (Resource, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[key.External]
	return r, ok
}

// AddErrorClassifier appends c to the classifier chain, tried after
// every classifier registered before it.
func (s *Service) AddErrorClassifier(c ErrorClassifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classifiers = append(s.classifiers, c)
}

// Classify runs err through the registered classifier chain, falling
// back to an unclassified infrastructure error if none recognize it.
func (s *Service) Classify(err error) FXErrorDetails {
	s.mu.RLock()
	chain := append([]ErrorClassifier(nil), s.classifiers...)
	s.mu.RUnlock()

	for _, classify := range chain {
		if details, ok := classify(err); ok {
			return details
		}
	}
	return FXErrorDetails{
		Status:         500,
		Classification: ClassificationInfrastructure,
		Details:        map[string]any{"error": err.Error()},
	}
}

func classifyEngineTaxonomy(err error) (FXErrorDetails, bool) {
	switch err.(type) {
	case *engineerrors.CycleDetected, *engineerrors.UnexpressedKeyDependency,
		*engineerrors.MissingRequiredCacheEntry, *engineerrors.InconsistentValue:
		return FXErrorDetails{
			Status:         400,
			Classification: ClassificationUser,
			Details:        map[string]any{"error": err.Error()},
		}, true
	case *engineerrors.ResourceNotFound, *engineerrors.DuplicateResource:
		return FXErrorDetails{
			Status:         404,
			Classification: ClassificationUser,
			Details:        map[string]any{"error": err.Error()},
		}, true
	}
	return FXErrorDetails{}, false
}
