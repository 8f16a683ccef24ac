package migration

import (
	"context"
	"fmt"
	"sort"
)

// Engine is the pluggable adapter for one data-store kind. The orchestrator
// drives every service through Dump, Provision, Import and Verify in that order.
type Engine interface {
	// Kind returns the data-store family this engine handles.
	Kind() EngineKind

	// Ping checks that the consolidated target accepts commands. A failure
	// is reported as ErrTargetUnreachable.
	Ping(ctx context.Context) error

	// Dump exports the service's data from its source container into dir.
	Dump(ctx context.Context, job *Job, dir string) (*DumpArtifact, error)

	// Provision idempotently prepares the destination for the service.
	Provision(ctx context.Context, job *Job) error

	// Import loads the job's artifact into the provisioned destination.
	// ErrImportPartial signals that verification should decide the outcome.
	Import(ctx context.Context, job *Job) error

	// Verify counts the imported objects and compares them with the artifact.
	Verify(ctx context.Context, job *Job) (*VerifyResult, error)

	// Close releases connections held by the engine.
	Close() error
}

// VerifyMode selects how observed and expected counts are compared.
type VerifyMode string

const (
	// VerifyExact requires observed == expected.
	VerifyExact VerifyMode = "exact"
	// VerifyAtLeast requires observed >= expected.
	VerifyAtLeast VerifyMode = "at-least"
)

// VerifyResult contains the outcome of a post-import count check.
type VerifyResult struct {
	Valid    bool       `json:"valid" yaml:"valid"`
	Mode     VerifyMode `json:"mode" yaml:"mode"`
	Expected int64      `json:"expected" yaml:"expected"`
	Observed int64      `json:"observed" yaml:"observed"`
	Object   string     `json:"object" yaml:"object"`
}

// NewVerifyResult compares observed against expected using mode.
func NewVerifyResult(mode VerifyMode, object string, expected, observed int64) *VerifyResult {
	v := &VerifyResult{Mode: mode, Object: object, Expected: expected, Observed: observed}
	switch mode {
	case VerifyAtLeast:
		v.Valid = observed >= expected
	default:
		v.Valid = observed == expected
	}
	return v
}

// String returns a human-readable summary of the verification result.
func (v *VerifyResult) String() string {
	if v.Valid {
		return fmt.Sprintf("%d %s (expected %d)", v.Observed, v.Object, v.Expected)
	}
	return fmt.Sprintf("%d %s, expected %s %d", v.Observed, v.Object, v.Mode, v.Expected)
}

// Registry manages available engine adapters.
type Registry struct {
	engines map[EngineKind]Engine
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{engines: make(map[EngineKind]Engine)}
}

// Register adds an engine to the registry, replacing any engine of the same kind.
func (r *Registry) Register(e Engine) {
	r.engines[e.Kind()] = e
}

// Get returns the engine for a kind, or nil if none is registered.
func (r *Registry) Get(kind EngineKind) Engine {
	return r.engines[kind]
}

// GetByName resolves an engine name or alias.
func (r *Registry) GetByName(name string) (Engine, error) {
	kind, err := ParseEngineKind(name)
	if err != nil {
		return nil, err
	}
	e := r.engines[kind]
	if e == nil {
		return nil, fmt.Errorf("no engine registered for %s", kind)
	}
	return e, nil
}

// List returns the registered engine kinds in sorted order.
func (r *Registry) List() []EngineKind {
	kinds := make([]EngineKind, 0, len(r.engines))
	for k := range r.engines {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
