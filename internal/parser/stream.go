package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/lo"

	"github.com/alexhholmes/kernelgen/internal/config"
)

// Instruction is one loop-body instruction bound to a rotation index
type Instruction struct {
	Text     string
	Rotation int
	Jump     bool // needs a label operand
	Terminal bool // label operand is the terminal label
}

// Stream is the fully expanded instruction stream of a kernel
type Stream struct {
	Tokens   []Token
	Variants [][]Instruction // loop body per rotation index
	Unroll   int             // effective unroll factor

	// FromFile is set when the body was read from Source verbatim
	FromFile bool
	Source   string

	Prolog []string // preloads followed by prolog instructions
	Epilog []string
}

// Build expands the configured instructions into a validated stream.
// cfg must already have passed Validate.
func Build(cfg *config.KernelConfig) (*Stream, error) {
	s := &Stream{Unroll: cfg.Unroll}

	// Phase 1: tokens, from a source file or itemized specs
	if IsSourceSpec(cfg.Instructions) {
		tokens, err := ReadSource(cfg.Instructions[0])
		if err != nil {
			return nil, err
		}
		s.Tokens = tokens
		s.FromFile = true
		s.Source = cfg.Instructions[0]
		if s.Unroll != 1 {
			slog.Debug("file source forces unroll factor 1", "source", s.Source, "unroll", s.Unroll)
		}
		s.Unroll = 1
	} else {
		items, err := Itemize(cfg.Instructions)
		if err != nil {
			return nil, fmt.Errorf("instructions: %w", err)
		}
		if len(items) == 0 {
			return nil, config.Errorf(config.CodeItemize, "instructions expand to nothing")
		}
		s.Tokens = lo.Map(items, func(item string, _ int) Token {
			return Tokenize(item)
		})
	}

	// Phase 2: placeholder presence
	if cfg.Registers > 0 && !lo.SomeBy(s.Tokens, Token.HasPlaceholder) {
		return nil, config.Errorf(config.CodeNoPlaceholder, "expect '%c' in instructions when registers > 0", PlaceholderMarker)
	}

	// Phase 3: rotate and guard every variant
	for r := range cfg.RotationCount() {
		variant := make([]Instruction, 0, len(s.Tokens))
		for _, tok := range s.Tokens {
			inst := Instruction{Text: tok.Raw, Rotation: r, Jump: tok.Jump, Terminal: tok.Terminal}
			if cfg.Registers > 0 && !tok.Jump {
				inst.Text = tok.Substitute(r, cfg.RegistersMax)
			}
			if !inst.Jump {
				if err := CheckDestination(inst.Text, cfg.AllowRegisterOverwrite); err != nil {
					return nil, err
				}
			}
			variant = append(variant, inst)
		}
		s.Variants = append(s.Variants, variant)
	}

	// Phase 4: prolog and epilog
	prolog, err := buildSide(cfg.Prolog, cfg.AllowRegisterOverwrite)
	if err != nil {
		return nil, fmt.Errorf("prolog: %w", err)
	}
	preloads, err := Preloads(cfg.InitRegs, cfg.AllowRegisterOverwrite)
	if err != nil {
		return nil, fmt.Errorf("init regs: %w", err)
	}
	s.Prolog = append(preloads, prolog...)

	s.Epilog, err = buildSide(cfg.Epilog, cfg.AllowRegisterOverwrite)
	if err != nil {
		return nil, fmt.Errorf("epilog: %w", err)
	}

	slog.Debug("instruction stream built",
		"tokens", len(s.Tokens),
		"rotations", len(s.Variants),
		"unroll", s.Unroll,
		"file", s.FromFile)

	return s, nil
}

// HasJumps reports whether any body instruction needs a topology label
func (s *Stream) HasJumps() bool {
	return lo.SomeBy(s.Tokens, func(t Token) bool { return t.Jump && !t.Terminal })
}

// HasTerminalBranches reports whether any body instruction targets the terminal label
func (s *Stream) HasTerminalBranches() bool {
	return lo.SomeBy(s.Tokens, func(t Token) bool { return t.Terminal })
}

// BodySize returns the instruction count of one innermost pass, padding excluded
func (s *Stream) BodySize() int {
	return s.Unroll * len(s.Variants) * len(s.Tokens)
}

func buildSide(specs []string, allowOverwrite bool) ([]string, error) {
	items, err := Itemize(specs)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if err := CheckDestination(item, allowOverwrite); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// Preloads returns one immediate load per register, each with a distinct value
func Preloads(regs []string, allowOverwrite bool) ([]string, error) {
	var out []string
	for i, reg := range regs {
		name := strings.TrimPrefix(strings.TrimSpace(reg), "%")
		if name == "" {
			return nil, config.Errorf(config.CodeValue, "empty register name in init regs")
		}
		inst := fmt.Sprintf("mov $%d, %%%s", i+1, name)
		if err := CheckDestination(inst, allowOverwrite); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// CheckDestination rejects writes to the reserved control registers.
// The destination is the last operand of each ';'-separated instruction.
func CheckDestination(inst string, allowOverwrite bool) error {
	if allowOverwrite {
		return nil
	}

	for _, part := range strings.Split(inst, ";") {
		dest, ok := destination(part)
		if !ok {
			continue
		}
		if lo.Contains(config.ReservedAliases(), dest) {
			return config.Errorf(config.CodeReserved,
				"%q writes reserved register %%%s (allow with register overwrite)", strings.TrimSpace(part), dest)
		}
	}

	return nil
}

// destination returns the lowercased last operand of inst without its '%',
// splitting operands on commas outside parentheses
func destination(inst string) (string, bool) {
	fields := strings.Fields(inst)
	if len(fields) < 2 {
		return "", false // no operands
	}
	operands := strings.Join(fields[1:], " ")

	depth, start := 0, 0
	for i, r := range operands {
		switch r {
		case '(':
			depth++
		case ')':
			depth = max(depth-1, 0)
		case ',':
			if depth == 0 {
				start = i + 1
			}
		}
	}

	dest := strings.TrimSpace(operands[start:])
	return strings.ToLower(strings.TrimPrefix(dest, "%")), dest != ""
}
