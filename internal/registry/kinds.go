package registry

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// ErrUnknownKind is returned when a backend or program identifier is not known.
var ErrUnknownKind = errors.New("unknown kind")

// BackendKind identifies an execution backend.
type BackendKind string

// Known backend kinds.
const (
	Native   BackendKind = "native"
	Cannon   BackendKind = "cannon"
	Asterisc BackendKind = "asterisc"
)

// ProgramKind identifies a proof program build.
type ProgramKind string

// Known program kinds.
const (
	OpProgramNative ProgramKind = "op-program-native"
	OpProgramMips   ProgramKind = "op-program-mips"
	OpProgramRiscv  ProgramKind = "op-program-riscv"
	KonaNative      ProgramKind = "kona-native"
	KonaRiscv       ProgramKind = "kona-riscv"
)

// BackendKinds lists every known backend kind in display order.
var BackendKinds = []BackendKind{Native, Cannon, Asterisc}

// ProgramKinds lists every known program kind in display order.
var ProgramKinds = []ProgramKind{OpProgramNative, OpProgramMips, OpProgramRiscv, KonaNative, KonaRiscv}

func (k BackendKind) String() string { return string(k) }

func (k ProgramKind) String() string { return string(k) }

// ParseBackendKind parses a single backend identifier.
func ParseBackendKind(s string) (BackendKind, error) {
	k := BackendKind(strings.TrimSpace(s))
	if !slices.Contains(BackendKinds, k) {
		return "", fmt.Errorf("%w: backend %q (valid: %s)", ErrUnknownKind, s, joinKinds(BackendKinds))
	}
	return k, nil
}

// ParseProgramKind parses a single program identifier.
func ParseProgramKind(s string) (ProgramKind, error) {
	k := ProgramKind(strings.TrimSpace(s))
	if !slices.Contains(ProgramKinds, k) {
		return "", fmt.Errorf("%w: program %q (valid: %s)", ErrUnknownKind, s, joinKinds(ProgramKinds))
	}
	return k, nil
}

// ParseBackendKinds parses identifiers, each of which may hold a comma-separated list.
func ParseBackendKinds(values []string) ([]BackendKind, error) {
	var kinds []BackendKind
	for _, item := range splitList(values) {
		k, err := ParseBackendKind(item)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(kinds, k) {
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

// ParseProgramKinds parses identifiers, each of which may hold a comma-separated list.
func ParseProgramKinds(values []string) ([]ProgramKind, error) {
	var kinds []ProgramKind
	for _, item := range splitList(values) {
		k, err := ParseProgramKind(item)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(kinds, k) {
			kinds = append(kinds, k)
		}
	}
	return kinds, nil
}

func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func joinKinds[K ~string](kinds []K) string {
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = string(k)
	}
	return strings.Join(parts, ", ")
}

func backendOrder(a, b BackendKind) int {
	return slices.Index(BackendKinds, a) - slices.Index(BackendKinds, b)
}

func programOrder(a, b ProgramKind) int {
	return slices.Index(ProgramKinds, a) - slices.Index(ProgramKinds, b)
}
