package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// PlaceholderMarker is replaced with a register index during rotation
const PlaceholderMarker = '@'

type PlaceholderKind int

const (
	Literal PlaceholderKind = iota // plain text, no substitution
	Current                        // @    → r
	Ahead                          // @+k  → (r+k) mod max
	Behind                         // @-k  → (r-k) mod max
)

func (k PlaceholderKind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Current:
		return "@"
	case Ahead:
		return "@+k"
	case Behind:
		return "@-k"
	default:
		return "unknown"
	}
}

// Part is one classified span of an instruction
type Part struct {
	Kind PlaceholderKind
	Text string // Literal only
	K    int    // Ahead/Behind distance, 1..9
}

// Token is an instruction after itemizing, split into literal and placeholder parts
type Token struct {
	Raw   string
	Parts []Part
	Jump  bool // bare branch mnemonic awaiting a topology label

	// Terminal marks a branch whose target is the terminal label rather than
	// one chosen by the topology (file-source branches).
	Terminal bool
}

var jumpRe = regexp.MustCompile(`(?i)^j[a-z]{1,4}$`)

// IsJumpPoint reports whether inst is a bare branch mnemonic such as JMP or JL
func IsJumpPoint(inst string) bool {
	return jumpRe.MatchString(strings.TrimSpace(inst))
}

// Tokenize classifies every placeholder in inst before any substitution happens.
// Offset forms are matched first so a bare '@' never swallows the "+k" that follows it.
func Tokenize(inst string) Token {
	tok := Token{Raw: inst, Jump: IsJumpPoint(inst)}
	if tok.Jump {
		tok.Raw = strings.TrimSpace(inst)
		tok.Parts = []Part{{Kind: Literal, Text: tok.Raw}}
		return tok
	}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			tok.Parts = append(tok.Parts, Part{Kind: Literal, Text: lit.String()})
			lit.Reset()
		}
	}

	for i := 0; i < len(inst); i++ {
		if inst[i] != PlaceholderMarker {
			lit.WriteByte(inst[i])
			continue
		}

		flush()

		// @+k / @-k with k in 1..9
		if i+2 < len(inst) && (inst[i+1] == '+' || inst[i+1] == '-') && inst[i+2] >= '1' && inst[i+2] <= '9' {
			kind := Ahead
			if inst[i+1] == '-' {
				kind = Behind
			}
			tok.Parts = append(tok.Parts, Part{Kind: kind, K: int(inst[i+2] - '0')})
			i += 2
			continue
		}

		tok.Parts = append(tok.Parts, Part{Kind: Current})
	}
	flush()

	return tok
}

// HasPlaceholder reports whether the token references the rotation index
func (t Token) HasPlaceholder() bool {
	for _, p := range t.Parts {
		if p.Kind != Literal {
			return true
		}
	}
	return false
}

// Substitute renders the token for rotation index r.
// Every substituted index lies in [0, registersMax).
func (t Token) Substitute(r, registersMax int) string {
	var out strings.Builder

	for _, p := range t.Parts {
		switch p.Kind {
		case Literal:
			out.WriteString(p.Text)
		case Current:
			out.WriteString(strconv.Itoa(wrap(r, registersMax)))
		case Ahead:
			out.WriteString(strconv.Itoa(wrap(r+p.K, registersMax)))
		case Behind:
			out.WriteString(strconv.Itoa(wrap(r-p.K, registersMax)))
		}
	}

	return out.String()
}

func wrap(v, m int) int {
	return ((v % m) + m) % m
}
