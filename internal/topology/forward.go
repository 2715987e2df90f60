package topology

import (
	"fmt"
	"math/rand/v2"
)

const (
	ModeChain  = "chain"
	ModeStride = "stride"
	ModeRandom = "random"
)

func init() {
	Register(ModeChain, func() Resolver { return &chain{} })
	Register(ModeStride, func() Resolver { return &stride{} })
	Register(ModeRandom, func() Resolver { return &random{} })
}

// forward carries the state every forward-jumping strategy shares
type forward struct {
	counter LabelCounter
	policy  *PrefetchPolicy
}

func (f *forward) Counter() *LabelCounter {
	return &f.counter
}

func (f *forward) issue(prefetch bool, distance int) (int, error) {
	if !prefetch {
		return f.counter.Issue(distance), nil
	}
	if f.policy == nil {
		return 0, fmt.Errorf("%w: prefetch target requested without a prefetch policy", ErrInternal)
	}
	return f.counter.Ahead(distance), nil
}

func (f *forward) init(mode string, landings int, args []string, extra ...string) (modeArgs, error) {
	if landings < 1 {
		return nil, fmt.Errorf("%w: %s needs at least one label, got %d", ErrInternal, mode, landings)
	}
	f.counter = NewLabelCounter(landings)

	m, err := parseArgs(mode, args, append([]string{ArgPrefetch, ArgPrefetchOp}, extra...)...)
	if err != nil {
		return nil, err
	}
	if f.policy, err = m.policy(mode); err != nil {
		return nil, err
	}
	return m, nil
}

// chain jumps from every jump point to the label right after it, so every
// instruction of the body runs once per pass
type chain struct {
	forward
}

func (c *chain) Init(landings int, args []string) (*PrefetchPolicy, error) {
	if _, err := c.init(ModeChain, landings, args); err != nil {
		return nil, err
	}
	return c.policy, nil
}

func (c *chain) Next(prefetch bool) (int, error) {
	return c.issue(prefetch, 1)
}

// stride lands stride labels past the jump point, skipping the segments between
type stride struct {
	forward
	stride int
}

func (s *stride) Init(landings int, args []string) (*PrefetchPolicy, error) {
	m, err := s.init(ModeStride, landings, args, "stride")
	if err != nil {
		return nil, err
	}
	if s.stride, err = m.intArg(ModeStride, "stride", 2, 1); err != nil {
		return nil, err
	}
	return s.policy, nil
}

func (s *stride) Next(prefetch bool) (int, error) {
	return s.issue(prefetch, s.stride)
}

// random lands a pseudo-random distance in [1, max-distance] past the jump
// point, never drawing past the terminal label while one remains ahead.
// The generator is seeded from the arguments, so output stays reproducible.
type random struct {
	forward
	rng         *rand.Rand
	maxDistance int
}

func (r *random) Init(landings int, args []string) (*PrefetchPolicy, error) {
	m, err := r.init(ModeRandom, landings, args, "seed", "max-distance")
	if err != nil {
		return nil, err
	}
	seed, err := m.intArg(ModeRandom, "seed", 1, 0)
	if err != nil {
		return nil, err
	}
	if r.maxDistance, err = m.intArg(ModeRandom, "max-distance", 3, 1); err != nil {
		return nil, err
	}
	r.rng = rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
	return r.policy, nil
}

func (r *random) Next(prefetch bool) (int, error) {
	if r.rng == nil {
		return 0, fmt.Errorf("%w: %s used before Init", ErrInternal, ModeRandom)
	}
	limit := r.maxDistance
	if left := r.counter.Remaining(); left > 0 {
		limit = min(limit, left)
	}
	return r.issue(prefetch, 1+r.rng.IntN(limit))
}
