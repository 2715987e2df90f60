package codegen

import (
	"strings"
)

var cEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// FormatInstruction renders inst as inline-assembly statements.
// Instructions separated by ';' become one statement each.
//
// Example:
//
//	FormatInstruction("nop; inc %rax", 1, 8) →
//	        asm("	nop");
//	        asm("	inc %rax");
func FormatInstruction(inst string, tabs, spaces int) string {
	var code strings.Builder

	for _, part := range strings.Split(inst, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if code.Len() > 0 {
			code.WriteString("\n")
		}
		code.WriteString(strings.Repeat(" ", spaces))
		code.WriteString(`asm("`)
		code.WriteString(strings.Repeat("\t", tabs))
		code.WriteString(cEscaper.Replace(part))
		code.WriteString(`");`)
	}

	return code.String()
}

// cString quotes s as a C string literal
func cString(s string) string {
	return `"` + cEscaper.Replace(s) + `"`
}
