package parser

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/alexhholmes/kernelgen/internal/config"
)

// Macro aliases usable anywhere an instruction is accepted
var macros = map[string]string{
	"MOVLG": "movabs $0x8877665544332211, %r8",
	"NOP10": "nopw   %cs:0x0(%rax,%rax,1)",
	"NOP14": "data16 data16 data16 data16 nopw %cs:0x0(%rax,%rax,1)",
}

var upper = cases.Upper(language.Und)

// MaxRepeat bounds the count of one mnemonic#count shorthand
const MaxRepeat = 1 << 16

// ExpandMacro returns the instruction a macro alias stands for, or inst unchanged.
// Alias names match case-insensitively.
func ExpandMacro(inst string) string {
	if m, ok := macros[upper.String(strings.TrimSpace(inst))]; ok {
		return m
	}
	return inst
}

// ParseShorthand splits an instruction spec into text and repeat count
//
// Semantics:
//   - "NOP"     : one NOP
//   - "NOP#3"   : three NOPs
//   - "NOP#0"   : nothing
//
// Examples of rejected specs:
//
//	"NOP#"    → missing count
//	"NOP#x"   → non-numeric count
//	"NOP#-1"  → negative count
//	"NOP#+3"  → signed count
//	"NOP#99999999" → count above MaxRepeat
//	"NOP#2#3" → ambiguous
//	"#3"      → missing instruction
func ParseShorthand(spec string) (string, int, error) {
	parts := strings.Split(spec, "#")

	switch len(parts) {
	case 1:
		return spec, 1, nil
	case 2:
		// handled below
	default:
		return "", 0, config.Errorf(config.CodeItemize, "ambiguous repeat shorthand %q (multiple '#')", spec)
	}

	inst := strings.TrimSpace(parts[0])
	if inst == "" {
		return "", 0, config.Errorf(config.CodeItemize, "missing instruction before '#' in %q", spec)
	}

	countStr := strings.TrimSpace(parts[1])
	if countStr == "" {
		return "", 0, config.Errorf(config.CodeItemize, "missing repeat count in %q", spec)
	}
	if strings.HasPrefix(countStr, "-") {
		return "", 0, config.Errorf(config.CodeItemize, "negative repeat count in %q", spec)
	}
	if strings.Trim(countStr, "0123456789") != "" {
		return "", 0, config.Errorf(config.CodeItemize, "invalid repeat count in %q", spec)
	}
	count, err := strconv.Atoi(countStr)
	if err != nil || count > MaxRepeat {
		return "", 0, config.Errorf(config.CodeItemize, "repeat count in %q exceeds %d", spec, MaxRepeat)
	}

	return inst, count, nil
}

// Itemize expands mnemonic#count shorthand in place, preserving order
func Itemize(specs []string) ([]string, error) {
	var out []string

	for _, spec := range specs {
		inst, count, err := ParseShorthand(spec)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			slog.Debug("repeat count 0 drops instruction", "spec", spec)
			continue
		}

		out = append(out, lo.Times(count, func(int) string {
			return ExpandMacro(inst)
		})...)
	}

	return out, nil
}
