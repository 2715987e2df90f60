package parser

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/alexhholmes/kernelgen/internal/config"
)

const (
	// IPRelBase is the first fabricated rip-relative displacement
	IPRelBase = 0x2000
	// IPRelStride separates fabricated displacements, one cache line apart
	IPRelStride = 0x40
)

// Extensions that mark an instruction spec as a source file
var sourceExts = map[string]bool{
	".s":   true,
	".S":   true,
	".asm": true,
	".txt": true,
	".lst": true,
}

var (
	// jne 0x4005d0, jmp 4005d0 <main+0x20>, loop 12
	literalBranchRe = regexp.MustCompile(`(?i)^(j[a-z]{1,4}|loop[a-z]{0,2})\s+\*?(0x[0-9a-f]+|[0-9a-f]*[0-9][0-9a-f]*)(\s+<[^>]*>)?$`)

	// 0x1f0(%rip), -24(%rip)
	ipRelRe = regexp.MustCompile(`-?(?:0x[0-9a-fA-F]+|[0-9]+)\(%rip\)`)

	// trailing "# 601040 <var>" objdump annotations
	traceCommentRe = regexp.MustCompile(`\s+#.*$`)
)

// IsSourceSpec reports whether the instruction list names a single source file
func IsSourceSpec(specs []string) bool {
	if len(specs) != 1 {
		return false
	}
	spec := specs[0]
	if spec == "" || strings.ContainsAny(spec, " \t") {
		return false
	}
	return sourceExts[filepath.Ext(spec)]
}

// ReadLines reads a text file into trimmed lines, ANSI escapes stripped
func ReadLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &config.IOError{Path: path, Err: err}
	}

	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		lines = append(lines, strings.TrimSpace(ansi.Strip(scanner.Text())))
	}
	if err := scanner.Err(); err != nil {
		return nil, &config.IOError{Path: path, Err: err}
	}

	return lines, nil
}

// ReadSource loads a loop body captured from a trace.
//
// Blank lines are skipped and the final line (the trace's loop back-edge) is dropped.
// Literal-target branches become Terminal jump tokens, and every rip-relative
// displacement is replaced by IPRelBase + k*IPRelStride for its k-th occurrence.
func ReadSource(path string) ([]Token, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}

	var body []string
	for _, line := range lines {
		line = traceCommentRe.ReplaceAllString(line, "")
		if line == "" {
			continue
		}
		body = append(body, line)
	}
	if len(body) > 0 {
		body = body[:len(body)-1] // drop sentinel
	}
	if len(body) == 0 {
		return nil, config.Errorf(config.CodeValue, "instruction source %s has no instructions", path)
	}

	var tokens []Token
	ipRel := 0
	for _, line := range body {
		if m := literalBranchRe.FindStringSubmatch(line); m != nil {
			tokens = append(tokens, Token{
				Raw:      m[1],
				Parts:    []Part{{Kind: Literal, Text: m[1]}},
				Jump:     true,
				Terminal: true,
			})
			continue
		}

		line = ipRelRe.ReplaceAllStringFunc(line, func(string) string {
			disp := IPRelBase + ipRel*IPRelStride
			ipRel++
			return fmt.Sprintf("0x%x(%%rip)", disp)
		})
		tokens = append(tokens, Tokenize(line))
	}

	return tokens, nil
}
