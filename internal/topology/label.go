package topology

import (
	"fmt"
	"strings"
)

// Label is a numbered jump target
//
// Rendering depends on the prefix:
//
//	"Lbl"  → Lbl00003:   / Lbl00003    (global symbol)
//	"@L"   → .LL00003:   / .LL00003    (assembler-local symbol)
//	""     → 3:          / 3f          (GNU numeric local label)
type Label struct {
	Index  int
	Prefix string
}

func (l Label) name() string {
	if strings.HasPrefix(l.Prefix, "@") {
		return fmt.Sprintf(".L%s%05d", strings.TrimPrefix(l.Prefix, "@"), l.Index)
	}
	return fmt.Sprintf("%s%05d", l.Prefix, l.Index)
}

// Decl returns the label declaration
func (l Label) Decl() string {
	if l.Prefix == "" {
		return fmt.Sprintf("%d:", l.Index)
	}
	return l.name() + ":"
}

// Ref returns the operand used to reference the label from an earlier position
func (l Label) Ref() string {
	if l.Prefix == "" {
		return fmt.Sprintf("%df", l.Index)
	}
	return l.name()
}

// EndSymbol returns the end-of-kernel symbol for prefix
func EndSymbol(prefix string) string {
	if strings.HasPrefix(prefix, "@") {
		return ".L" + strings.TrimPrefix(prefix, "@") + "_end"
	}
	return prefix + "_end"
}
