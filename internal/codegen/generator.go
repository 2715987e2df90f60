package codegen

import (
	"fmt"
	"strings"

	"github.com/alexhholmes/kernelgen/internal/config"
	"github.com/alexhholmes/kernelgen/internal/parser"
	"github.com/alexhholmes/kernelgen/internal/planner"
	"github.com/alexhholmes/kernelgen/internal/topology"
)

const (
	// Version is printed in the generated header
	Version = "0.53"

	// MarkerInstruction opens every prologue so the kernel is easy to find in a trace
	MarkerInstruction = "PAUSE"

	indentWidth = 4
)

// Generator renders a planned kernel as C source with inline assembly
type Generator struct {
	cfg    *config.KernelConfig
	stream *parser.Stream
	plan   *planner.Plan
}

// NewGenerator creates a new kernel generator
func NewGenerator(cfg *config.KernelConfig, stream *parser.Stream, plan *planner.Plan) *Generator {
	return &Generator{
		cfg:    cfg,
		stream: stream,
		plan:   plan,
	}
}

// Generate runs the whole pipeline for cfg and returns the kernel source.
// Nothing is returned unless every stage succeeds.
func Generate(cfg *config.KernelConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	stream, err := parser.Build(cfg)
	if err != nil {
		return "", err
	}

	res, err := topology.New(cfg.Mode)
	if err != nil {
		return "", err
	}

	plan, err := planner.Build(cfg, stream, res)
	if err != nil {
		return "", err
	}

	return NewGenerator(cfg, stream, plan).Generate()
}

// Generate returns the complete kernel source
func (g *Generator) Generate() (string, error) {
	var out strings.Builder

	header, err := g.GenerateHeader()
	if err != nil {
		return "", err
	}
	out.WriteString(header)
	out.WriteString(g.GeneratePrologue())
	out.WriteString(g.GenerateBody())
	out.WriteString(g.GenerateEpilogue())
	out.WriteString(g.GenerateTrailer())

	return out.String(), nil
}

// effective returns the configuration as actually applied
func (g *Generator) effective() config.KernelConfig {
	eff := *g.cfg
	eff.Unroll = g.plan.Unroll
	eff.Reference = referenceFor(g.cfg)
	return eff
}

// GenerateHeader generates the banner comment, includes and the start of main
func (g *Generator) GenerateHeader() (string, error) {
	var code strings.Builder

	eff := g.effective()
	echo, err := eff.Echo()
	if err != nil {
		return "", err
	}

	msg := "0"
	var citation string
	if eff.Reference != "" {
		citation, err = LookupReference(eff.Reference)
		if err != nil {
			return "", err
		}
		msg = cString("Reference: " + citation)
	}

	code.WriteString(fmt.Sprintf("// Auto-generated by kernelgen version %s with configuration:\n", Version))
	for _, line := range echo {
		code.WriteString("//  " + line + "\n")
	}
	code.WriteString("// Do not modify!\n")
	code.WriteString("//\n")
	if citation != "" {
		code.WriteString(fmt.Sprintf("// Reference: %s\n", citation))
		code.WriteString("//\n")
	}
	code.WriteString("#include <stdint.h>\n")
	code.WriteString("#include <stdio.h>\n")
	code.WriteString("#include <stdlib.h>\n")
	code.WriteString("\n")
	code.WriteString(fmt.Sprintf("#define MSG %s\n", msg))
	code.WriteString("\n")
	code.WriteString("int main(int argc, const char* argv[])\n")
	code.WriteString("{\n")

	// Run count and innermost induction variable live in the reserved registers
	code.WriteString(fmt.Sprintf("    register uint64_t n asm(\"%s\");\n", config.RunCountRegister))
	var outer []string
	for _, f := range g.plan.Frames {
		if f.Innermost {
			code.WriteString(fmt.Sprintf("    register uint64_t %s asm(\"%s\");\n", f.Var, config.InductionRegister))
		} else {
			outer = append(outer, f.Var)
		}
	}
	if len(outer) > 0 {
		code.WriteString(fmt.Sprintf("    uint64_t %s;\n", strings.Join(outer, ", ")))
	}

	code.WriteString("    if (argc<2) {\n")
	code.WriteString("        printf(\"%s: missing <num-iterations> arg!\\n\", argv[0]);\n")
	code.WriteString("        exit(-1);\n")
	code.WriteString("    }\n")
	code.WriteString("    if (MSG) printf(\"%s\\n\", MSG ? MSG : \"\");\n")
	code.WriteString("    n= atol(argv[1]);\n")

	return code.String(), nil
}

// GeneratePrologue generates the marker, register preloads and prolog instructions
func (g *Generator) GeneratePrologue() string {
	var code strings.Builder

	for _, inst := range append([]string{MarkerInstruction}, g.stream.Prolog...) {
		code.WriteString(FormatInstruction(inst, 1, indentWidth))
		code.WriteString("\n")
	}

	return code.String()
}

// GenerateBody renders the planned loop nest
func (g *Generator) GenerateBody() string {
	var code strings.Builder
	depth := 1

	line := func(s string) {
		if s == "" {
			return
		}
		code.WriteString(s)
		code.WriteString("\n")
	}

	for _, d := range g.plan.Directives {
		spaces := depth * indentWidth

		switch d.Kind {
		case planner.LoopOpen:
			v := d.Frame.Var
			line(fmt.Sprintf("%sfor (%s=0; %s<n; %s++) {", strings.Repeat(" ", spaces), v, v, v))
			depth++
		case planner.LoopClose:
			depth--
			line(strings.Repeat(" ", depth*indentWidth) + "}")
		case planner.Align:
			line(FormatInstruction(fmt.Sprintf(".align %d", d.Bytes), 0, spaces))
		case planner.LabelDecl:
			line(FormatInstruction(d.Text, 0, spaces))
		case planner.Instr:
			line(FormatInstruction(d.Text, 1, spaces))
		}
	}

	return code.String()
}

// GenerateEpilogue generates the instructions that follow the loop nest
func (g *Generator) GenerateEpilogue() string {
	var code strings.Builder

	for _, inst := range g.stream.Epilog {
		code.WriteString(FormatInstruction(inst, 1, indentWidth))
		code.WriteString("\n")
	}

	return code.String()
}

// GenerateTrailer generates the end-of-kernel label and the return from main
func (g *Generator) GenerateTrailer() string {
	var code strings.Builder

	code.WriteString(fmt.Sprintf("    asm(\".align 512; %s:\");\n", topology.EndSymbol(g.cfg.LabelPrefix)))
	code.WriteString("\n")
	code.WriteString("    return 0;\n")
	code.WriteString("}\n")

	return code.String()
}
