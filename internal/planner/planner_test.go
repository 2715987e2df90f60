package planner

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/alexhholmes/kernelgen/internal/config"
	"github.com/alexhholmes/kernelgen/internal/parser"
	"github.com/alexhholmes/kernelgen/internal/topology"
)

// countingResolver records how often the planner asks for targets
type countingResolver struct {
	topology.Resolver
	next     int
	prefetch int
}

func (c *countingResolver) Next(prefetch bool) (int, error) {
	if prefetch {
		c.prefetch++
	} else {
		c.next++
	}
	return c.Resolver.Next(prefetch)
}

// fixedResolver returns a scripted sequence of indices
type fixedResolver struct {
	counter topology.LabelCounter
	seq     []int
}

func (f *fixedResolver) Init(int, []string) (*topology.PrefetchPolicy, error) { return nil, nil }
func (f *fixedResolver) Counter() *topology.LabelCounter                    { return &f.counter }
func (f *fixedResolver) Next(bool) (int, error) {
	idx := f.seq[0]
	f.seq = f.seq[1:]
	return idx, nil
}

func plan(t *testing.T, modify func(c *config.KernelConfig)) (*Plan, *countingResolver) {
	t.Helper()

	cfg := config.Default()
	modify(&cfg)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	stream, err := parser.Build(&cfg)
	if err != nil {
		t.Fatalf("parser.Build() error: %v", err)
	}

	inner, err := topology.New(cfg.Mode)
	if err != nil {
		t.Fatalf("topology.New() error: %v", err)
	}
	res := &countingResolver{Resolver: inner}

	p, err := Build(&cfg, stream, res)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	return p, res
}

func TestBuildBasicBlock(t *testing.T) {
	p, res := plan(t, func(c *config.KernelConfig) {
		c.Unroll = 3
		c.Registers = 2
		c.Instructions = []string{"add %r@, %r@+1", "NOP"}
	})

	if res.next != 0 || res.prefetch != 0 {
		t.Errorf("basicblock invoked Next %d/%d times", res.next, res.prefetch)
	}
	if got := p.Count(LabelDecl, -1); got != 0 {
		t.Errorf("basicblock declared %d labels", got)
	}

	// unroll × max(R,1) × |instructions|
	if got := p.Count(Instr, -1); got != 3*2*2 {
		t.Errorf("instructions: got %d, want %d", got, 3*2*2)
	}

	// Directive order inside one copy follows rotation, then instruction
	var copy1 []string
	for _, d := range p.Directives {
		if d.Kind == Instr && d.Copy == 1 {
			copy1 = append(copy1, d.Text)
		}
	}
	want := []string{"add %r0, %r1", "NOP", "add %r1, %r2", "NOP"}
	if strings.Join(copy1, "|") != strings.Join(want, "|") {
		t.Errorf("copy 1 = %q, want %q", copy1, want)
	}
}

func TestBuildLoopFrames(t *testing.T) {
	p, _ := plan(t, func(c *config.KernelConfig) {
		c.LoopDepth = 3
		c.Align = 6
	})

	if len(p.Frames) != 3 {
		t.Fatalf("Frames: got %d, want 3", len(p.Frames))
	}
	for i, f := range p.Frames {
		if f.Level != i {
			t.Errorf("frame %d: Level = %d", i, f.Level)
		}
		if f.Innermost != (i == 2) {
			t.Errorf("frame %d: Innermost = %v", i, f.Innermost)
		}
	}

	// open, open, align, open ... close, close, close
	var kinds []DirectiveKind
	for _, d := range p.Directives {
		if d.Kind != Instr {
			kinds = append(kinds, d.Kind)
		}
	}
	want := []DirectiveKind{LoopOpen, LoopOpen, Align, LoopOpen, LoopClose, LoopClose, LoopClose}
	if len(kinds) != len(want) {
		t.Fatalf("structure = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("structure[%d] = %s, want %s", i, kinds[i], want[i])
		}
	}

	// closings run innermost to outermost
	closes := p.Directives[len(p.Directives)-3:]
	for i, d := range closes {
		if d.Frame.Level != 2-i {
			t.Errorf("close %d: level %d, want %d", i, d.Frame.Level, 2-i)
		}
	}

	if p.Directives[2].Bytes != 64 {
		t.Errorf("align bytes = %d, want 64", p.Directives[2].Bytes)
	}
}

func TestBuildOffsetPadding(t *testing.T) {
	p, _ := plan(t, func(c *config.KernelConfig) {
		c.Unroll = 4
		c.Offset = 2
	})

	// max(0, j + offset - 1)
	for j, want := range []int{1, 2, 3, 4} {
		if got := p.Fillers(j); got != want {
			t.Errorf("copy %d: %d fillers, want %d", j, got, want)
		}
	}

	// padding directly precedes the copy's first instruction
	for i, d := range p.Directives {
		if d.Kind == Instr && !d.Filler && d.Copy == 1 {
			prev := p.Directives[i-1]
			if !prev.Filler || prev.Copy != 1 {
				t.Errorf("copy 1 body not preceded by its padding: %+v", prev)
			}
			break
		}
	}
}

func TestBuildOffsetOneStartsWithoutPadding(t *testing.T) {
	p, _ := plan(t, func(c *config.KernelConfig) {
		c.Unroll = 2
		c.Offset = 1
	})

	if got := p.Fillers(0); got != 0 {
		t.Errorf("copy 0: %d fillers, want 0", got)
	}
	if got := p.Fillers(1); got != 1 {
		t.Errorf("copy 1: %d fillers, want 1", got)
	}
}

func TestBuildChain(t *testing.T) {
	p, res := plan(t, func(c *config.KernelConfig) {
		c.Unroll = 3
		c.Mode = topology.ModeChain
		c.Instructions = []string{"add %rax, %rbx", "JMP"}
		c.Align = 4
	})

	if res.next != 3 {
		t.Errorf("Next called %d times, want 3", res.next)
	}

	var labels, jumps []string
	for _, d := range p.Directives {
		switch {
		case d.Kind == LabelDecl:
			labels = append(labels, d.Text)
		case d.Kind == Instr && strings.HasPrefix(d.Text, "JMP"):
			jumps = append(jumps, d.Text)
		}
	}

	wantLabels := []string{"Lbl00000:", "Lbl00001:", "Lbl00002:", "Lbl00003:"}
	if strings.Join(labels, " ") != strings.Join(wantLabels, " ") {
		t.Errorf("labels = %q, want %q", labels, wantLabels)
	}
	wantJumps := []string{"JMP Lbl00001", "JMP Lbl00002", "JMP Lbl00003"}
	if strings.Join(jumps, " ") != strings.Join(wantJumps, " ") {
		t.Errorf("jumps = %q, want %q", jumps, wantJumps)
	}

	// one entry alignment plus one per copy
	if got := p.Count(Align, -1); got != 4 {
		t.Errorf("align directives = %d, want 4", got)
	}
}

func TestBuildJumpIndicesStrictlyIncrease(t *testing.T) {
	p, _ := plan(t, func(c *config.KernelConfig) {
		c.Unroll = 6
		c.Registers = 3
		c.Mode = topology.ModeRandom
		c.ModeArgs = []string{"seed=3", "max-distance=5", "prefetch=2"}
		c.Instructions = []string{"inc %r@", "JL", "JMP"}
	})

	if len(p.Refs) != 6*3*2 {
		t.Fatalf("jump refs = %d, want %d", len(p.Refs), 6*3*2)
	}
	if len(p.Prefetches) != 3 {
		t.Fatalf("prefetch refs = %d, want 3", len(p.Prefetches))
	}
	for _, refs := range [][]int{p.Refs, p.Prefetches} {
		for i := 1; i < len(refs); i++ {
			if refs[i] <= refs[i-1] {
				t.Fatalf("refs not strictly increasing at %d: %v", i, refs)
			}
		}
	}

	// Every referenced index is declared exactly once
	declared := map[string]int{}
	for _, d := range p.Directives {
		if d.Kind == LabelDecl {
			declared[d.Text]++
		}
	}
	for _, idx := range append(slices.Clone(p.Refs), p.Prefetches...) {
		decl := topology.Label{Index: idx, Prefix: "Lbl"}.Decl()
		if declared[decl] != 1 {
			t.Errorf("label %s declared %d times", decl, declared[decl])
		}
	}

	// six labels per copy: its start plus one after each jump but the last
	if p.Terminal.Index != 6*6 {
		t.Errorf("terminal = %d, want %d", p.Terminal.Index, 6*6)
	}
}

// walk executes the body straight-line, following unconditional jumps,
// and returns the labels it passes in order
func walk(t *testing.T, p *Plan) []string {
	t.Helper()

	at := map[string]int{}
	for i, d := range p.Directives {
		if d.Kind == LabelDecl {
			at[strings.TrimSuffix(d.Text, ":")] = i
		}
	}

	var seen []string
	for i, steps := 0, 0; i < len(p.Directives); i, steps = i+1, steps+1 {
		if steps > len(p.Directives) {
			t.Fatal("walk did not terminate")
		}
		d := p.Directives[i]
		switch {
		case d.Kind == LabelDecl:
			seen = append(seen, d.Text)
			if d.Text == p.Terminal.Decl() {
				return seen
			}
		case d.Kind == Instr && strings.HasPrefix(d.Text, "JMP "):
			target, ok := at[strings.TrimPrefix(d.Text, "JMP ")]
			if !ok {
				t.Fatalf("%q jumps to an undeclared label", d.Text)
			}
			if target <= i {
				t.Fatalf("%q jumps backwards", d.Text)
			}
			i = target - 1
		}
	}
	return seen
}

func TestBuildChainReachesEveryLabel(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *config.KernelConfig)
	}{
		{"prefetch", func(c *config.KernelConfig) {
			c.ModeArgs = []string{"prefetch=2"}
			c.Instructions = []string{"JMP"}
		}},
		{"rotation", func(c *config.KernelConfig) {
			c.Registers = 2
			c.Instructions = []string{"JMP", "add %r@, %r@+1"}
		}},
		{"rotation with prefetch", func(c *config.KernelConfig) {
			c.Registers = 2
			c.ModeArgs = []string{"prefetch=2"}
			c.Instructions = []string{"JMP", "add %r@, %r@+1"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := plan(t, func(c *config.KernelConfig) {
				c.Unroll = 3
				c.Mode = topology.ModeChain
				tt.modify(c)
			})

			var declared []string
			for _, d := range p.Directives {
				if d.Kind == LabelDecl {
					declared = append(declared, d.Text)
				}
			}
			seen := walk(t, p)
			if strings.Join(seen, " ") != strings.Join(declared, " ") {
				t.Errorf("walk passed %q, want every label %q", seen, declared)
			}

			// no target lies past the terminal label
			for _, idx := range append(slices.Clone(p.Refs), p.Prefetches...) {
				if idx > p.Terminal.Index {
					t.Errorf("target %d past terminal %d", idx, p.Terminal.Index)
				}
			}
		})
	}
}

func TestBuildStrideReachesEveryCopy(t *testing.T) {
	p, _ := plan(t, func(c *config.KernelConfig) {
		c.Unroll = 3
		c.Registers = 2
		c.Mode = topology.ModeStride
		c.ModeArgs = []string{"prefetch=2"}
		c.Instructions = []string{"JMP", "add %r@, %r@+1"}
	})

	seen := map[string]bool{}
	for _, decl := range walk(t, p) {
		seen[decl] = true
	}

	for j := range p.Unroll {
		for _, d := range p.Directives {
			if d.Kind == LabelDecl && d.Copy == j {
				if !seen[d.Text] {
					t.Errorf("copy %d label %s is unreachable", j, d.Text)
				}
				break
			}
		}
	}
	if !seen[p.Terminal.Decl()] {
		t.Error("terminal label is unreachable")
	}
}

func TestBuildPrefetch(t *testing.T) {
	p, res := plan(t, func(c *config.KernelConfig) {
		c.Unroll = 4
		c.Mode = topology.ModeChain
		c.ModeArgs = []string{"prefetch=2"}
		c.Instructions = []string{"JMP"}
	})

	if res.prefetch != 2 {
		t.Errorf("prefetch targets requested %d times, want 2", res.prefetch)
	}

	var prefetches []Directive
	for _, d := range p.Directives {
		if d.Kind == Instr && strings.HasPrefix(d.Text, "prefetcht0") {
			prefetches = append(prefetches, d)
		}
	}
	if len(prefetches) != 2 || prefetches[0].Copy != 0 || prefetches[1].Copy != 2 {
		t.Fatalf("prefetches = %+v, want copies 0 and 2", prefetches)
	}
	if prefetches[0].Text != "prefetcht0 Lbl00001(%rip)" {
		t.Errorf("prefetch text = %q", prefetches[0].Text)
	}
}

func TestBuildBasicBlockRejectsJumps(t *testing.T) {
	cfg := config.Default()
	cfg.Instructions = []string{"NOP", "JMP"}

	stream, err := parser.Build(&cfg)
	if err != nil {
		t.Fatal(err)
	}
	res, _ := topology.New(cfg.Mode)

	_, err = Build(&cfg, stream, res)
	if !errors.Is(err, config.ErrMode) {
		t.Fatalf("Build() error = %v, want E_MODE", err)
	}
}

func TestBuildRejectsNonIncreasingResolver(t *testing.T) {
	cfg := config.Default()
	cfg.Mode = "scripted"
	cfg.Unroll = 3
	cfg.Instructions = []string{"JMP"}

	stream, err := parser.Build(&cfg)
	if err != nil {
		t.Fatal(err)
	}

	_, err = Build(&cfg, stream, &fixedResolver{seq: []int{1, 3, 3}})
	if !errors.Is(err, topology.ErrInternal) {
		t.Fatalf("Build() error = %v, want ErrInternal", err)
	}
}

func TestBuildFileSource(t *testing.T) {
	p, res := plan(t, func(c *config.KernelConfig) {
		c.Unroll = 5
		c.Instructions = []string{"../parser/testdata/loop.s"}
	})

	if p.Unroll != 1 {
		t.Errorf("Unroll = %d, want 1", p.Unroll)
	}
	if res.next != 0 {
		t.Errorf("file branches consulted the topology %d times", res.next)
	}

	var branch string
	var terminalDeclared bool
	for _, d := range p.Directives {
		if d.Kind == Instr && strings.HasPrefix(d.Text, "jne") {
			branch = d.Text
		}
		if d.Kind == LabelDecl && d.Text == "Lbl00001:" {
			terminalDeclared = true
		}
	}
	if branch != "jne Lbl00001" {
		t.Errorf("branch = %q, want %q", branch, "jne Lbl00001")
	}
	if !terminalDeclared {
		t.Error("terminal label not declared")
	}
}
