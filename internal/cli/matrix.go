package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/roach88/fpt/internal/registry"
)

// MatrixOptions holds flags for the matrix command.
type MatrixOptions struct {
	*RootOptions
}

// MatrixProgram is one program row in matrix output.
type MatrixProgram struct {
	Name    string `json:"name"`
	Default bool   `json:"default"`
	Built   bool   `json:"built"`
}

// MatrixBackend is one backend and the programs compatible with it.
type MatrixBackend struct {
	Name     string          `json:"name"`
	Default  bool            `json:"default"`
	Built    bool            `json:"built"`
	Programs []MatrixProgram `json:"programs"`
}

// NewMatrixCommand creates the matrix command.
func NewMatrixCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MatrixOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "List backends and the programs they can run",
		Long: `List every registered execution backend with its compatible programs,
marking defaults and components recorded in the build ledger.

Examples:
  fpt matrix
  fpt matrix --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMatrix(opts, cmd)
		},
	}
	return cmd
}

func runMatrix(opts *MatrixOptions, cmd *cobra.Command) (err error) {
	a, err := openApp(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	rows, err := describeMatrix(contextOf(cmd), a.registry.ResolveMatrix(registry.AllComponents()), a.builder)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read build ledger", err)
	}

	f := newFormatter(opts.RootOptions, cmd)
	if f.JSON() {
		return f.Success(rows)
	}
	fmt.Fprintln(f.Writer, renderMatrix(rows))
	return nil
}

// buildRecorder answers whether a component's build output is current.
type buildRecorder interface {
	Recorded(ctx context.Context, spec registry.BuildSpec) (bool, error)
}

func describeMatrix(ctx context.Context, m registry.Matrix, builds buildRecorder) ([]MatrixBackend, error) {
	recorded := func(spec *registry.BuildSpec) (bool, error) {
		if spec == nil {
			return true, nil
		}
		return builds.Recorded(ctx, *spec)
	}

	rows := make([]MatrixBackend, 0, len(m))
	for _, entry := range m {
		built, err := recorded(entry.Definition.Build)
		if err != nil {
			return nil, err
		}
		row := MatrixBackend{
			Name:     string(entry.Backend),
			Default:  entry.Definition.Default,
			Built:    built,
			Programs: []MatrixProgram{},
		}
		for _, pk := range entry.ProgramKinds() {
			def := entry.Programs[pk]
			built, err := recorded(&def.Build)
			if err != nil {
				return nil, err
			}
			row.Programs = append(row.Programs, MatrixProgram{Name: string(pk), Default: def.Default, Built: built})
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func renderMatrix(rows []MatrixBackend) string {
	label := func(name string, isDefault, built bool) string {
		var tags []string
		if isDefault {
			tags = append(tags, "default")
		}
		if built {
			tags = append(tags, "built")
		}
		if len(tags) == 0 {
			return name
		}
		return fmt.Sprintf("%s (%s)", name, strings.Join(tags, ", "))
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("BACKEND", "PROGRAMS").
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().Padding(0, 1)
			if row == table.HeaderRow {
				return s.Bold(true)
			}
			return s
		})
	for _, r := range rows {
		programs := make([]string, 0, len(r.Programs))
		for _, p := range r.Programs {
			programs = append(programs, label(p.Name, p.Default, p.Built))
		}
		if len(programs) == 0 {
			programs = append(programs, "-")
		}
		t.Row(label(r.Name, r.Default, r.Built), strings.Join(programs, "\n"))
	}
	return t.String()
}
