package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tetratelabs/wazi/internal/wasm"
	"github.com/tetratelabs/wazi/internal/wasm/binary"
)

type inspectOptions struct {
	*globalOptions
	encode string
}

func newInspectCommand(global *globalOptions) *cobra.Command {
	opts := &inspectOptions{globalOptions: global}
	cmd := &cobra.Command{
		Use:   "inspect [OPTIONS] FILE",
		Short: "Print the sections, imports and exports of a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.OutOrStdout(), opts, args[0])
		},
	}
	cmd.Flags().StringVar(&opts.encode, "encode", "", "also write the module re-encoded in canonical form to this path")
	return cmd
}

func runInspect(out io.Writer, opts *inspectOptions, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading wasm binary: %w", err)
	}
	m, err := binary.DecodeModule(source)
	if err != nil {
		return fmt.Errorf("error decoding wasm binary: %w", err)
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if err = m.Validate(cfg.memoryLimitPages()); err != nil {
		return fmt.Errorf("invalid module: %w", err)
	}

	printModule(out, m)

	if opts.encode != "" {
		if err = os.WriteFile(opts.encode, binary.EncodeModule(m), 0o644); err != nil {
			return fmt.Errorf("error writing %s: %w", opts.encode, err)
		}
	}
	return nil
}

func printModule(out io.Writer, m *wasm.Module) {
	if m.NameSection != nil && m.NameSection.ModuleName != "" {
		fmt.Fprintf(out, "module: %s\n", m.NameSection.ModuleName)
	}

	fmt.Fprintln(out, "sections:")
	for id := wasm.SectionIDCustom; id <= wasm.SectionIDData; id++ {
		if n := m.SectionElementCount(id); n > 0 {
			fmt.Fprintf(out, "  %s: %d\n", wasm.SectionIDName(id), n)
		}
	}

	if len(m.ImportSection) > 0 {
		fmt.Fprintln(out, "imports:")
		for _, im := range m.ImportSection {
			fmt.Fprintf(out, "  %s %s.%s %s\n", wasm.ExternTypeName(im.Type), im.Module, im.Name, importDesc(m, im))
		}
	}

	if len(m.ExportSection) > 0 {
		fmt.Fprintln(out, "exports:")
		globals := m.GlobalTypes()
		for _, e := range m.ExportSection {
			fmt.Fprintf(out, "  %s %s %s\n", wasm.ExternTypeName(e.Type), e.Name, exportDesc(m, globals, e))
		}
	}

	if m.StartSection != nil {
		fmt.Fprintf(out, "start: %s\n", funcDesc(m, *m.StartSection))
	}
}

func importDesc(m *wasm.Module, im *wasm.Import) string {
	switch im.Type {
	case wasm.ExternTypeFunc:
		return signature(m.TypeSection[im.DescFunc])
	case wasm.ExternTypeTable:
		return tableDesc(im.DescTable)
	case wasm.ExternTypeMemory:
		return memoryDesc(im.DescMem)
	default:
		return im.DescGlobal.String()
	}
}

func exportDesc(m *wasm.Module, globals []*wasm.GlobalType, e *wasm.Export) string {
	switch e.Type {
	case wasm.ExternTypeFunc:
		return signature(m.TypeOfFunction(e.Index))
	case wasm.ExternTypeTable:
		if i := e.Index - m.ImportTableCount(); e.Index >= m.ImportTableCount() {
			return tableDesc(m.TableSection[i])
		}
		return "(imported)"
	case wasm.ExternTypeMemory:
		if m.MemorySection != nil {
			return memoryDesc(m.MemorySection)
		}
		return "(imported)"
	default:
		return globals[e.Index].String()
	}
}

// funcDesc renders a function by name, when known, and signature.
func funcDesc(m *wasm.Module, idx wasm.Index) string {
	name := m.FunctionName(idx)
	if name == "" {
		name = fmt.Sprintf("$%d", idx)
	}
	return name + signature(m.TypeOfFunction(idx))
}

// signature renders a function type like a stack trace frame. Ex. "(i32,i32) i32"
func signature(ft *wasm.FunctionType) string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, p := range ft.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(wasm.ValueTypeName(p))
	}
	sb.WriteByte(')')

	switch len(ft.Results) {
	case 0:
	case 1:
		sb.WriteByte(' ')
		sb.WriteString(wasm.ValueTypeName(ft.Results[0]))
	default:
		sb.WriteString(" (")
		for i, r := range ft.Results {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(wasm.ValueTypeName(r))
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

func tableDesc(t *wasm.Table) string {
	if t.Max == nil {
		return fmt.Sprintf("%s{min: %d}", wasm.ValueTypeName(t.Type), t.Min)
	}
	return fmt.Sprintf("%s{min: %d, max: %d}", wasm.ValueTypeName(t.Type), t.Min, *t.Max)
}

func memoryDesc(mem *wasm.Memory) string {
	if !mem.IsMaxEncoded {
		return fmt.Sprintf("{min: %d}", mem.Min)
	}
	return fmt.Sprintf("{min: %d, max: %d}", mem.Min, mem.Max)
}
