package config

import (
	"strings"
)

const (
	// BasicBlock is the topology mode with no jumps
	BasicBlock = "basicblock"

	// DefaultInstruction is the loop body used when none is configured
	DefaultInstruction = "PAUSE"

	// RunCountRegister holds the externally supplied iteration count
	RunCountRegister = "r15"
	// InductionRegister holds the innermost loop's induction variable
	InductionRegister = "r14"

	// MaxAlign caps the alignment exponent (2^16 = 64KiB)
	MaxAlign = 16
)

// KernelConfig holds every generation parameter.
// Build it with Default or LoadProfile, call Validate once, then treat it as read-only.
type KernelConfig struct {
	Unroll       int      `yaml:"unroll"`
	Registers    int      `yaml:"registers"`
	RegistersMax int      `yaml:"registersMax"`
	Instructions []string `yaml:"instructions"`
	Prolog       []string `yaml:"prolog,omitempty"`
	Epilog       []string `yaml:"epilog,omitempty"`
	LoopDepth    int      `yaml:"loopDepth"`
	Align        int      `yaml:"align"`  // power of 2 exponent, 0 = none
	Offset       int      `yaml:"offset"` // bytes
	LabelPrefix  string   `yaml:"labelPrefix"`
	Mode         string   `yaml:"mode"`
	ModeArgs     []string `yaml:"modeArgs,omitempty"`
	InitRegs     []string `yaml:"initRegs,omitempty"`

	AllowRegisterOverwrite bool   `yaml:"allowRegisterOverwrite,omitempty"`
	Reference              string `yaml:"reference,omitempty"`
}

// Default returns the configuration used when nothing is specified
func Default() KernelConfig {
	return KernelConfig{
		Unroll:       3,
		Registers:    0,
		RegistersMax: 16,
		Instructions: []string{DefaultInstruction},
		LoopDepth:    1,
		LabelPrefix:  "Lbl",
		Mode:         BasicBlock,
	}
}

// Validate checks parameter bounds that do not depend on the instruction stream.
// Placeholder and reserved-register checks run when the stream is built.
func (c *KernelConfig) Validate() error {
	if c.Unroll < 1 {
		return Errorf(CodeValue, "unroll factor must be >= 1, got %d", c.Unroll)
	}
	if c.Registers < 0 {
		return Errorf(CodeValue, "register count must be >= 0, got %d", c.Registers)
	}
	if c.RegistersMax <= 0 {
		return Errorf(CodeValue, "registers max must be > 0, got %d", c.RegistersMax)
	}
	if c.Registers >= c.RegistersMax {
		return Errorf(CodeRange, "invalid register count %d, must be < %d", c.Registers, c.RegistersMax)
	}
	if c.LoopDepth < 1 {
		return Errorf(CodeValue, "loop depth must be >= 1, got %d", c.LoopDepth)
	}
	if c.Align < 0 || c.Align > MaxAlign {
		return Errorf(CodeValue, "align must be a power of 2 exponent in [0, %d], got %d", MaxAlign, c.Align)
	}
	if c.Offset < 0 {
		return Errorf(CodeValue, "offset must be >= 0, got %d", c.Offset)
	}
	if len(c.Instructions) == 0 {
		return Errorf(CodeValue, "at least one instruction is required")
	}
	if c.Mode == "" {
		return Errorf(CodeMode, "mode must not be empty")
	}

	// Empty prefix renders GNU numeric local labels, only safe without jumps
	if c.LabelPrefix == "" && !c.IsBasicBlock() {
		return Errorf(CodeLabel, "empty label prefix is only supported in %s mode", BasicBlock)
	}
	if strings.ContainsAny(c.LabelPrefix, " \t;:\"") {
		return Errorf(CodeLabel, "label prefix %q contains reserved characters", c.LabelPrefix)
	}

	return nil
}

// IsBasicBlock reports whether the configuration uses the jump-free topology
func (c *KernelConfig) IsBasicBlock() bool {
	return c.Mode == BasicBlock
}

// AlignBytes returns the alignment in bytes, 0 if none was requested
func (c *KernelConfig) AlignBytes() int {
	if c.Align == 0 {
		return 0
	}
	return 1 << c.Align
}

// RotationCount returns the number of register rotations per unroll copy
func (c *KernelConfig) RotationCount() int {
	return max(c.Registers, 1)
}

// ReservedAliases lists every name that writes a reserved control register
func ReservedAliases() []string {
	var names []string
	for _, reg := range []string{RunCountRegister, InductionRegister} {
		names = append(names, reg, reg+"d", reg+"w", reg+"b")
	}
	return names
}
