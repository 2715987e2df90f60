package topology

import (
	"regexp"
	"strconv"

	"github.com/samber/lo"

	"github.com/alexhholmes/kernelgen/internal/config"
)

// Arguments shared by every jumping strategy
const (
	ArgPrefetch   = "prefetch"    // prefetch=RATE enables a policy
	ArgPrefetchOp = "prefetch-op" // prefetch mnemonic
)

const (
	DefaultPrefetchOp   = "prefetcht0"
	DefaultPrefetchBase = "%rip"
)

var pairRe = regexp.MustCompile(`^([a-z][a-z-]*)=(\S+)$`)

// modeArgs holds parsed key=value mode arguments
type modeArgs map[string]string

// parseArgs parses "key=value" pairs, accepting only the listed keys
//
// Expected format:
//
//	stride=3
//	seed=42 max-distance=4
//	prefetch=2 prefetch-op=prefetchnta
func parseArgs(mode string, args []string, allowed ...string) (modeArgs, error) {
	m := modeArgs{}

	for _, arg := range args {
		pair := pairRe.FindStringSubmatch(arg)
		if pair == nil {
			return nil, config.Errorf(config.CodeModeArgs, "%s: expected key=value, got %q", mode, arg)
		}

		key, value := pair[1], pair[2]
		if !lo.Contains(allowed, key) {
			return nil, config.Errorf(config.CodeModeArgs, "%s: unknown parameter %q (allowed: %v)", mode, key, allowed)
		}
		if _, dup := m[key]; dup {
			return nil, config.Errorf(config.CodeModeArgs, "%s: duplicate parameter %q", mode, key)
		}
		m[key] = value
	}

	return m, nil
}

// intArg returns the integer value of key, def when absent
func (m modeArgs) intArg(mode, key string, def, minimum int) (int, error) {
	value, ok := m[key]
	if !ok {
		return def, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, config.Errorf(config.CodeModeArgs, "%s: invalid %s value: %s", mode, key, value)
	}
	if n < minimum {
		return 0, config.Errorf(config.CodeModeArgs, "%s: %s must be >= %d, got: %d", mode, key, minimum, n)
	}
	return n, nil
}

// policy returns the prefetch policy requested by the arguments, nil if none
func (m modeArgs) policy(mode string) (*PrefetchPolicy, error) {
	if _, ok := m[ArgPrefetch]; !ok {
		if _, ok := m[ArgPrefetchOp]; ok {
			return nil, config.Errorf(config.CodeModeArgs, "%s: %s requires %s", mode, ArgPrefetchOp, ArgPrefetch)
		}
		return nil, nil
	}

	rate, err := m.intArg(mode, ArgPrefetch, 0, 0)
	if err != nil {
		return nil, err
	}

	op := DefaultPrefetchOp
	if v, ok := m[ArgPrefetchOp]; ok {
		op = v
	}

	return &PrefetchPolicy{Rate: rate, Mnemonic: op, Base: DefaultPrefetchBase}, nil
}
