// Package lang implements the language extension point: each supported
// language is a tagged Adapter implementing
// {compile argv, run argv, harness generation}; the orchestrator is
// language-agnostic and only talks to this interface.
package lang

import (
	"fmt"

	"github.com/cxeteam/cxe/pkg/execution/types"
)

// Sources is what an Adapter writes under a submission's working directory.
type Sources struct {
	SolutionFileName string
	SolutionCode     string
	DriverFileName   string
	DriverCode       string
}

// Adapter is the per-language extension point.
type Adapter interface {
	// Name is the lowercase language identifier used in Submission.Language.
	Name() string

	// DefaultImage is the sandbox image used when config names none.
	DefaultImage() string

	// GenerateHarness produces the solution + driver sources for sub.
	GenerateHarness(sub *types.Submission) (*Sources, error)

	// CompileArgv returns the argv to run in the COMPILE phase, or nil if
	// this language has no compile step (interpreted languages).
	CompileArgv(containerWorkdir string, sources *Sources) []string

	// RunArgv returns the argv to run in the RUN phase.
	RunArgv(containerWorkdir string, sources *Sources) []string
}

// Registry maps language names to their Adapter.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds a to the registry, keyed by a.Name().
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Get returns the adapter for name, or an error naming the unsupported
// language.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("lang: unsupported language %q", name)
	}
	return a, nil
}

// Supports reports whether name has a registered adapter, for callers that
// only need a yes/no answer (the submission API's intake validation).
func (r *Registry) Supports(name string) bool {
	_, ok := r.adapters[name]
	return ok
}

// DefaultRegistry returns a Registry with every adapter this module ships.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewPythonAdapter())
	r.Register(NewGoAdapter())
	return r
}
