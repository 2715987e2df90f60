package planner

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/samber/lo"

	"github.com/alexhholmes/kernelgen/internal/config"
	"github.com/alexhholmes/kernelgen/internal/parser"
	"github.com/alexhholmes/kernelgen/internal/topology"
)

// FillerInstruction is the one-byte padding instruction used for offsets
const FillerInstruction = "NOP"

type DirectiveKind int

const (
	Instr     DirectiveKind = iota // one instruction
	LabelDecl                      // label declaration
	Align                          // .align directive
	LoopOpen                       // opening of a loop frame
	LoopClose                      // closing of a loop frame
)

func (k DirectiveKind) String() string {
	switch k {
	case Instr:
		return "instr"
	case LabelDecl:
		return "label"
	case Align:
		return "align"
	case LoopOpen:
		return "loop-open"
	case LoopClose:
		return "loop-close"
	default:
		return "unknown"
	}
}

// LoopFrame is one level of the loop nest
type LoopFrame struct {
	Level     int    // 0 = outermost
	Var       string // induction variable
	Innermost bool
}

// Directive is one element of the planned loop nest, rendered by codegen
type Directive struct {
	Kind     DirectiveKind
	Text     string // Instr: instruction, LabelDecl: declaration
	Bytes    int    // Align: alignment in bytes
	Frame    *LoopFrame
	Copy     int // unroll copy, -1 outside the unrolled body
	Rotation int
	Filler   bool // offset padding
}

// Plan is the loop nest of a kernel as an ordered directive list
type Plan struct {
	Frames     []LoopFrame
	Directives []Directive
	Policy     *topology.PrefetchPolicy
	Unroll     int
	Terminal   topology.Label

	// Refs lists jump target indices in body order
	Refs []int

	// Prefetches lists prefetch target indices in body order
	Prefetches []int
}

// Build plans the loop nest for stream, asking res for jump and prefetch targets.
// res must be a fresh resolver for cfg.Mode.
func Build(cfg *config.KernelConfig, stream *parser.Stream, res topology.Resolver) (*Plan, error) {
	if stream == nil || res == nil {
		return nil, fmt.Errorf("stream and resolver are required")
	}

	jumpy := !cfg.IsBasicBlock()
	if !jumpy && stream.HasJumps() {
		return nil, config.Errorf(config.CodeMode, "jump instructions need a topology mode, %s has none", config.BasicBlock)
	}

	landings := stream.Unroll
	if jumpy {
		landings *= segments(stream)
	}

	policy, err := res.Init(landings, cfg.ModeArgs)
	if err != nil {
		return nil, fmt.Errorf("init %s: %w", cfg.Mode, err)
	}

	p := &Plan{
		Frames:   buildFrames(cfg.LoopDepth),
		Policy:   policy,
		Unroll:   stream.Unroll,
		Terminal: label(cfg, landings),
	}

	b := &builder{cfg: cfg, res: res, plan: p}

	// Phase 1: open the loop nest, aligning only the innermost entry
	for i := range p.Frames {
		frame := &p.Frames[i]
		if frame.Innermost && cfg.AlignBytes() > 0 {
			b.emit(Directive{Kind: Align, Bytes: cfg.AlignBytes(), Copy: -1})
		}
		b.emit(Directive{Kind: LoopOpen, Frame: frame, Copy: -1})
	}

	// Phase 2: unrolled copies
	for j := range p.Unroll {
		if err := b.copy(j, stream); err != nil {
			return nil, err
		}
	}

	// Phase 3: terminal label, plus any target issued past it
	if jumpy {
		if idx := res.Counter().Declare(); idx != landings {
			return nil, fmt.Errorf("%w: terminal label %d, planned %d", topology.ErrInternal, idx, landings)
		}
	}
	if jumpy || stream.HasTerminalBranches() {
		b.emit(Directive{Kind: LabelDecl, Text: p.Terminal.Decl(), Copy: -1})
		tail := lo.Uniq(lo.Filter(append(slices.Clone(p.Refs), p.Prefetches...), func(idx int, _ int) bool {
			return idx > landings
		}))
		slices.Sort(tail)
		for _, idx := range tail {
			b.emit(Directive{Kind: LabelDecl, Text: label(cfg, idx).Decl(), Copy: -1})
		}
	}

	// Phase 4: close innermost to outermost
	for i := len(p.Frames) - 1; i >= 0; i-- {
		b.emit(Directive{Kind: LoopClose, Frame: &p.Frames[i], Copy: -1})
	}

	slog.Debug("loop plan built",
		"mode", cfg.Mode,
		"frames", len(p.Frames),
		"directives", len(p.Directives),
		"labels", landings+1,
		"last_target", res.Counter().Last())

	return p, nil
}

// segments returns how many labels one unroll copy declares: one at its start
// and one after every jump point that has instructions following it
func segments(stream *parser.Stream) int {
	n := 1
	flat := lo.Flatten(stream.Variants)
	for i, inst := range flat {
		if resolved(inst) && i < len(flat)-1 {
			n++
		}
	}
	return n
}

// resolved reports whether inst takes its target from the topology
func resolved(inst parser.Instruction) bool {
	return inst.Jump && !inst.Terminal
}

func buildFrames(depth int) []LoopFrame {
	frames := make([]LoopFrame, depth)
	for level := range frames {
		frames[level] = LoopFrame{
			Level:     level,
			Var:       fmt.Sprintf("i%d", level),
			Innermost: level == depth-1,
		}
	}
	return frames
}

func label(cfg *config.KernelConfig, idx int) topology.Label {
	return topology.Label{Index: idx, Prefix: cfg.LabelPrefix}
}

type builder struct {
	cfg  *config.KernelConfig
	res  topology.Resolver
	plan *Plan
}

func (b *builder) emit(d Directive) {
	b.plan.Directives = append(b.plan.Directives, d)
}

// next asks the resolver for a target and enforces strict monotonicity per kind
func (b *builder) next(prefetch bool) (topology.Label, error) {
	idx, err := b.res.Next(prefetch)
	if err != nil {
		return topology.Label{}, err
	}

	refs, kind := &b.plan.Refs, "jump"
	if prefetch {
		refs, kind = &b.plan.Prefetches, "prefetch"
	}
	if n := len(*refs); n > 0 && idx <= (*refs)[n-1] {
		return topology.Label{}, fmt.Errorf("%w: %s issued %s label %d after %d",
			topology.ErrInternal, b.cfg.Mode, kind, idx, (*refs)[n-1])
	}
	if idx <= b.res.Counter().Current() {
		return topology.Label{}, fmt.Errorf("%w: %s issued %s label %d at or behind label %d",
			topology.ErrInternal, b.cfg.Mode, kind, idx, b.res.Counter().Current())
	}

	*refs = append(*refs, idx)
	return label(b.cfg, idx), nil
}

// declare places the next label of the body
func (b *builder) declare(j int) {
	idx := b.res.Counter().Declare()
	b.emit(Directive{Kind: LabelDecl, Text: label(b.cfg, idx).Decl(), Copy: j})
}

// copy plans unroll copy j: padding, label, prefetch, rotated instructions, alignment.
// In topology modes every jump point with instructions after it is followed by a label.
func (b *builder) copy(j int, stream *parser.Stream) error {
	jumpy := !b.cfg.IsBasicBlock()

	if b.cfg.Offset > 0 {
		for range max(0, j+b.cfg.Offset-1) {
			b.emit(Directive{Kind: Instr, Text: FillerInstruction, Copy: j, Filler: true})
		}
	}

	if jumpy {
		b.declare(j)
	}

	if policy := b.plan.Policy; policy != nil && policy.Select(j) {
		target, err := b.next(true)
		if err != nil {
			return fmt.Errorf("prefetch for copy %d: %w", j, err)
		}
		b.emit(Directive{Kind: Instr, Text: policy.Render(target), Copy: j})
	}

	remaining := lo.SumBy(stream.Variants, func(v []parser.Instruction) int { return len(v) })
	for _, variant := range stream.Variants {
		for _, inst := range variant {
			remaining--
			text := inst.Text
			switch {
			case inst.Terminal:
				text += " " + b.plan.Terminal.Ref()
			case inst.Jump:
				target, err := b.next(false)
				if err != nil {
					return fmt.Errorf("jump in copy %d: %w", j, err)
				}
				text += " " + target.Ref()
			}
			b.emit(Directive{Kind: Instr, Text: text, Copy: j, Rotation: inst.Rotation})

			if resolved(inst) && remaining > 0 {
				b.declare(j)
			}
		}
	}

	if jumpy && b.cfg.AlignBytes() > 0 {
		b.emit(Directive{Kind: Align, Bytes: b.cfg.AlignBytes(), Copy: j})
	}

	return nil
}

// Count returns the number of directives of kind in unroll copy j.
// A negative j counts the whole plan.
func (p *Plan) Count(kind DirectiveKind, j int) int {
	n := 0
	for _, d := range p.Directives {
		if d.Kind == kind && (j < 0 || d.Copy == j) {
			n++
		}
	}
	return n
}

// Fillers returns the number of padding instructions before unroll copy j
func (p *Plan) Fillers(j int) int {
	n := 0
	for _, d := range p.Directives {
		if d.Filler && d.Copy == j {
			n++
		}
	}
	return n
}
