// Package registry holds the static table of execution backends and proof
// programs, their build instructions and their declared compatibility.
//
// The table is a CUE document validated against an embedded schema. It is
// loaded once at startup and is read-only afterwards.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSrc string

//go:embed registry.cue
var defaultSrc []byte

// ErrMalformedRegistry is wrapped by every registry load failure.
var ErrMalformedRegistry = errors.New("malformed registry")

// LoadError describes why a registry document was rejected.
type LoadError struct {
	Source  string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", ErrMalformedRegistry, e.Source, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", ErrMalformedRegistry, e.Source, e.Message)
}

func (e *LoadError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrMalformedRegistry, e.Err}
	}
	return []error{ErrMalformedRegistry}
}

// BuildSpec describes how to produce a component from source.
type BuildSpec struct {
	// Repo is the "org/name" source coordinate.
	Repo string `json:"repo"`
	// Rev is the pinned revision (tag, branch or commit).
	Rev string `json:"rev"`
	// WorkDir is relative to the checkout root.
	WorkDir string `json:"workdir"`
	// Steps are shell commands run in order inside WorkDir.
	Steps []string `json:"steps"`
	// Artifacts maps logical names to paths relative to WorkDir.
	Artifacts map[string]string `json:"artifacts"`
}

// BackendDefinition is the registry entry for a backend.
type BackendDefinition struct {
	Default bool       `json:"default"`
	Build   *BuildSpec `json:"build,omitempty"`
}

// ProgramDefinition is the registry entry for a proof program.
type ProgramDefinition struct {
	Default bool          `json:"default"`
	Compat  []BackendKind `json:"-"`
	Build   BuildSpec     `json:"build"`
}

// CompatibleWith reports whether the program declares support for the backend.
func (d ProgramDefinition) CompatibleWith(k BackendKind) bool {
	return slices.Contains(d.Compat, k)
}

type rawProgram struct {
	Default bool      `json:"default"`
	Compat  []string  `json:"compat"`
	Build   BuildSpec `json:"build"`
}

// Registry is the immutable table of known components.
type Registry struct {
	backends map[BackendKind]BackendDefinition
	programs map[ProgramKind]ProgramDefinition
}

// Default loads the registry document compiled into the binary.
func Default() (*Registry, error) {
	return Parse("registry.cue", defaultSrc)
}

// Load reads and parses a registry document from disk.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Source: path, Message: "failed to read registry", Err: err}
	}
	return Parse(path, data)
}

// Parse compiles a registry document, validates it against the schema and
// decodes it. source is only used in error messages.
func Parse(source string, data []byte) (*Registry, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, &LoadError{Source: "schema.cue", Message: "invalid schema", Err: err}
	}

	doc := ctx.CompileBytes(data, cue.Filename(source))
	if err := doc.Err(); err != nil {
		return nil, &LoadError{Source: source, Message: "failed to compile", Err: err}
	}

	value := schema.Unify(doc)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Source: source, Message: "schema violation", Err: err}
	}

	var rawBackends map[string]BackendDefinition
	if v := value.LookupPath(cue.ParsePath("backend")); v.Exists() {
		if err := v.Decode(&rawBackends); err != nil {
			return nil, &LoadError{Source: source, Message: "failed to decode backends", Err: err}
		}
	}
	var rawPrograms map[string]rawProgram
	if v := value.LookupPath(cue.ParsePath("program")); v.Exists() {
		if err := v.Decode(&rawPrograms); err != nil {
			return nil, &LoadError{Source: source, Message: "failed to decode programs", Err: err}
		}
	}

	reg := &Registry{
		backends: make(map[BackendKind]BackendDefinition, len(rawBackends)),
		programs: make(map[ProgramKind]ProgramDefinition, len(rawPrograms)),
	}

	for name, def := range rawBackends {
		kind, err := ParseBackendKind(name)
		if err != nil {
			return nil, &LoadError{Source: source, Message: "backend." + name, Err: err}
		}
		reg.backends[kind] = def
	}

	for name, raw := range rawPrograms {
		kind, err := ParseProgramKind(name)
		if err != nil {
			return nil, &LoadError{Source: source, Message: "program." + name, Err: err}
		}
		compat, err := ParseBackendKinds(raw.Compat)
		if err != nil {
			return nil, &LoadError{Source: source, Message: "program." + name + ".compat", Err: err}
		}
		if len(raw.Build.Artifacts) == 0 {
			return nil, &LoadError{Source: source, Message: "program." + name + ".build: at least one artifact is required"}
		}
		reg.programs[kind] = ProgramDefinition{
			Default: raw.Default,
			Compat:  compat,
			Build:   raw.Build,
		}
	}

	return reg, nil
}

// Backend returns the definition of a backend kind.
func (r *Registry) Backend(k BackendKind) (BackendDefinition, bool) {
	def, ok := r.backends[k]
	return def, ok
}

// Program returns the definition of a program kind.
func (r *Registry) Program(k ProgramKind) (ProgramDefinition, bool) {
	def, ok := r.programs[k]
	return def, ok
}

// Backends returns the registered backend kinds in display order.
func (r *Registry) Backends() []BackendKind {
	kinds := make([]BackendKind, 0, len(r.backends))
	for k := range r.backends {
		kinds = append(kinds, k)
	}
	slices.SortFunc(kinds, backendOrder)
	return kinds
}

// Programs returns the registered program kinds in display order.
func (r *Registry) Programs() []ProgramKind {
	kinds := make([]ProgramKind, 0, len(r.programs))
	for k := range r.programs {
		kinds = append(kinds, k)
	}
	slices.SortFunc(kinds, programOrder)
	return kinds
}
