package topology

import (
	"fmt"

	"github.com/alexhholmes/kernelgen/internal/config"
)

// basicBlock is the straight-line topology: no jumps, no prefetches
type basicBlock struct {
	counter LabelCounter
}

func init() {
	Register(config.BasicBlock, func() Resolver { return &basicBlock{} })
}

func (b *basicBlock) Init(landings int, args []string) (*PrefetchPolicy, error) {
	if len(args) > 0 {
		return nil, config.Errorf(config.CodeModeArgs, "%s takes no mode arguments, got %q", config.BasicBlock, args)
	}
	b.counter = NewLabelCounter(landings)
	return nil, nil
}

func (b *basicBlock) Next(prefetch bool) (int, error) {
	return 0, fmt.Errorf("%w: %s has no jump targets", ErrInternal, config.BasicBlock)
}

func (b *basicBlock) Counter() *LabelCounter {
	return &b.counter
}
