package registry

import (
	"maps"
	"slices"
)

// Selection constrains which components take part in a run.
//
// An unconstrained selection (AllComponents) ignores default flags; a test
// selection falls back to defaults for any dimension without an allow-list.
// An explicit allow-list replaces the defaults for its dimension.
type Selection struct {
	Unconstrained bool
	Backends      []BackendKind
	Programs      []ProgramKind
}

// AllComponents selects every registered component.
func AllComponents() Selection {
	return Selection{Unconstrained: true}
}

// Entry pairs a backend with the programs that will run on it.
type Entry struct {
	Backend    BackendKind
	Definition BackendDefinition
	Programs   map[ProgramKind]ProgramDefinition
}

// ProgramKinds returns the entry's programs in display order.
func (e Entry) ProgramKinds() []ProgramKind {
	return slices.SortedFunc(maps.Keys(e.Programs), programOrder)
}

// Matrix is the resolved set of backend entries. Only membership is
// meaningful; entries are sorted by backend kind for stable output.
type Matrix []Entry

// Units counts backend/program pairs in the matrix.
func (m Matrix) Units() int {
	n := 0
	for _, e := range m {
		n += len(e.Programs)
	}
	return n
}

// ResolveMatrix computes which backend/program pairs a selection enables.
// Kinds that are known but absent from the registry are skipped.
func (r *Registry) ResolveMatrix(sel Selection) Matrix {
	var backends []BackendKind
	switch {
	case len(sel.Backends) > 0:
		for _, k := range sel.Backends {
			if _, ok := r.backends[k]; ok && !slices.Contains(backends, k) {
				backends = append(backends, k)
			}
		}
	case sel.Unconstrained:
		backends = r.Backends()
	default:
		for _, k := range r.Backends() {
			if r.backends[k].Default {
				backends = append(backends, k)
			}
		}
	}
	slices.SortFunc(backends, backendOrder)

	matrix := make(Matrix, 0, len(backends))
	for _, bk := range backends {
		entry := Entry{
			Backend:    bk,
			Definition: r.backends[bk],
			Programs:   make(map[ProgramKind]ProgramDefinition),
		}
		for pk, def := range r.programs {
			if !def.CompatibleWith(bk) {
				continue
			}
			if sel.allowsProgram(pk, def) {
				entry.Programs[pk] = def
			}
		}
		matrix = append(matrix, entry)
	}
	return matrix
}

func (s Selection) allowsProgram(k ProgramKind, def ProgramDefinition) bool {
	switch {
	case len(s.Programs) > 0:
		return slices.Contains(s.Programs, k)
	case s.Unconstrained:
		return true
	default:
		return def.Default
	}
}
