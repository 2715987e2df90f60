// Package topology resolves jump targets for the unrolled loop body.
//
// A Resolver is selected by mode name from a registry. Label declarations and
// jump targets come from one LabelCounter, so every target is expressed in
// the same index space as the labels the planner places.
package topology

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samber/lo"

	"github.com/alexhholmes/kernelgen/internal/config"
)

// ErrInternal marks a contract violation between planner and resolver
var ErrInternal = errors.New("internal assertion")

// Resolver chooses jump targets for one generation pass
type Resolver interface {
	// Init prepares the strategy for a body declaring landings labels before
	// its terminal label and returns the prefetch policy, or nil when the
	// strategy injects no prefetches.
	Init(landings int, args []string) (*PrefetchPolicy, error)

	// Next returns the label index for the next jump point, or for the next
	// prefetch point when prefetch is set.
	Next(prefetch bool) (int, error)

	// Counter exposes the shared label counter
	Counter() *LabelCounter
}

// LabelCounter is the single source of label indices for a generation pass.
// The planner declares labels through it in body order and strategies issue
// targets relative to the most recent declaration. Jump targets and prefetch
// targets each increase strictly.
type LabelCounter struct {
	declared int // labels declared so far
	end      int // index of the terminal label
	jump     int // last jump target, 0 if none
	prefetch int // last prefetch target, 0 if none
}

// NewLabelCounter returns a counter for a body whose terminal label is end
func NewLabelCounter(end int) LabelCounter {
	return LabelCounter{end: end}
}

// Declare returns the index of the next label placed in the body
func (c *LabelCounter) Declare() int {
	c.declared++
	return c.declared - 1
}

// Current returns the most recently declared index, 0 if none
func (c *LabelCounter) Current() int {
	return max(c.declared-1, 0)
}

// Remaining returns how many labels lie ahead of the current one up to the terminal
func (c *LabelCounter) Remaining() int {
	return c.end - c.Current()
}

// Issue returns a jump target distance (at least 1) labels past the current one,
// moved further ahead when needed to stay above every earlier jump target
func (c *LabelCounter) Issue(distance int) int {
	c.jump = max(c.jump+1, c.Current()+max(distance, 1))
	return c.jump
}

// Ahead is Issue for prefetch targets, which do not consume jump targets
func (c *LabelCounter) Ahead(distance int) int {
	c.prefetch = max(c.prefetch+1, c.Current()+max(distance, 1))
	return c.prefetch
}

// Last returns the most recently issued jump target, 0 if none
func (c *LabelCounter) Last() int {
	return c.jump
}

// PrefetchPolicy injects a prefetch before selected unroll copies
type PrefetchPolicy struct {
	Rate     int    // every Rate-th copy, all copies when 0
	Mnemonic string // e.g. prefetcht0
	Base     string // addressing base register
}

// Select reports whether copy j gets a prefetch
func (p *PrefetchPolicy) Select(j int) bool {
	if p.Rate == 0 {
		return true
	}
	return j%p.Rate == 0
}

// Render returns the prefetch instruction referencing target
func (p *PrefetchPolicy) Render(target Label) string {
	return fmt.Sprintf("%s %s(%s)", p.Mnemonic, target.Ref(), p.Base)
}

var registry = map[string]func() Resolver{}

// Register adds a strategy under mode. It panics on duplicate names.
func Register(mode string, ctor func() Resolver) {
	if _, exists := registry[mode]; exists {
		panic(fmt.Sprintf("topology %q already registered", mode))
	}
	registry[mode] = ctor
}

// New returns a fresh resolver for mode
func New(mode string) (Resolver, error) {
	ctor, ok := registry[mode]
	if !ok {
		return nil, config.Errorf(config.CodeMode, "unknown mode %q (available: %v)", mode, Modes())
	}
	return ctor(), nil
}

// Modes lists registered mode names, sorted
func Modes() []string {
	modes := lo.Keys(registry)
	slices.Sort(modes)
	return modes
}
