package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/alexhholmes/kernelgen/internal/codegen"
	"github.com/alexhholmes/kernelgen/internal/config"
	"github.com/alexhholmes/kernelgen/internal/topology"
)

// stringList collects a repeatable flag
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, " ")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type options struct {
	profile   string
	verbose   bool
	listModes bool

	unroll, registers, registersMax int
	loopDepth, align, offset        int
	labelPrefix, reference          string
	allowOverwrite                  bool

	instructions, prolog, epilog stringList
	modeArgs, initRegs           stringList
}

func newFlagSet(opts *options, stderr io.Writer) *flag.FlagSet {
	def := config.Default()
	fs := flag.NewFlagSet("kernelgen", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&opts.profile, "config", "", "YAML kernel profile applied before flags")
	fs.BoolVar(&opts.verbose, "v", false, "debug logging to stderr")
	fs.BoolVar(&opts.listModes, "list-modes", false, "print available modes and exit")

	for _, name := range []string{"n", "num"} {
		fs.IntVar(&opts.unroll, name, def.Unroll, "# times to repeat instruction(s), aka unroll-factor")
	}
	for _, name := range []string{"r", "registers"} {
		fs.IntVar(&opts.registers, name, def.Registers, "# of registers to traverse via '@' if > 0")
	}
	fs.IntVar(&opts.registersMax, "registers-max", def.RegistersMax, "max # of registers in the instruction-set")
	for _, name := range []string{"i", "instructions"} {
		fs.Var(&opts.instructions, name, "instruction for the primary loop, repeatable (default PAUSE)")
	}
	for _, name := range []string{"p", "prolog"} {
		fs.Var(&opts.prolog, name, "instruction prior to the primary loop, repeatable")
	}
	for _, name := range []string{"e", "epilog"} {
		fs.Var(&opts.epilog, name, "instruction post the primary loop, repeatable")
	}
	fs.IntVar(&opts.loopDepth, "loop-depth", def.LoopDepth, "# of nested loops")
	for _, name := range []string{"a", "align"} {
		fs.IntVar(&opts.align, name, def.Align, "innermost loop alignment, in power of 2")
	}
	for _, name := range []string{"o", "offset"} {
		fs.IntVar(&opts.offset, name, def.Offset, "byte offset staggering unrolled copies")
	}
	fs.StringVar(&opts.labelPrefix, "label-prefix", def.LabelPrefix, "jump label prefix ('@name' for assembler-local labels)")
	fs.Var(&opts.modeArgs, "mode-args", "key=value argument passed to the mode, repeatable")
	fs.StringVar(&opts.reference, "reference", "", "citation id for the header banner")
	fs.Var(&opts.initRegs, "init-regs", "register to pre-load before the loop, repeatable")
	fs.BoolVar(&opts.allowOverwrite, "allow-register-overwrite", false,
		fmt.Sprintf("permit writes to %%%s and %%%s", config.RunCountRegister, config.InductionRegister))

	fs.Usage = func() {
		fmt.Fprintf(stderr, "usage: kernelgen [flags] [mode] [flags]\n\nmodes: %s\n\nflags:\n", strings.Join(topology.Modes(), ", "))
		fs.PrintDefaults()
	}

	return fs
}

// parse parses args, allowing flags on either side of positional arguments
func parse(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		if fs.NArg() == 0 {
			return positional, nil
		}
		positional = append(positional, fs.Arg(0))
		args = fs.Args()[1:]
	}
}

// buildConfig layers defaults, the optional profile and explicitly set flags
func buildConfig(fs *flag.FlagSet, opts *options, positional []string) (config.KernelConfig, error) {
	cfg := config.Default()
	if opts.profile != "" {
		var err error
		if cfg, err = config.LoadProfile(opts.profile); err != nil {
			return config.KernelConfig{}, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "n", "num":
			cfg.Unroll = opts.unroll
		case "r", "registers":
			cfg.Registers = opts.registers
		case "registers-max":
			cfg.RegistersMax = opts.registersMax
		case "i", "instructions":
			cfg.Instructions = opts.instructions
		case "p", "prolog":
			cfg.Prolog = opts.prolog
		case "e", "epilog":
			cfg.Epilog = opts.epilog
		case "loop-depth":
			cfg.LoopDepth = opts.loopDepth
		case "a", "align":
			cfg.Align = opts.align
		case "o", "offset":
			cfg.Offset = opts.offset
		case "label-prefix":
			cfg.LabelPrefix = opts.labelPrefix
		case "mode-args":
			cfg.ModeArgs = opts.modeArgs
		case "reference":
			cfg.Reference = opts.reference
		case "init-regs":
			cfg.InitRegs = opts.initRegs
		case "allow-register-overwrite":
			cfg.AllowRegisterOverwrite = opts.allowOverwrite
		}
	})

	switch len(positional) {
	case 0:
	case 1:
		cfg.Mode = positional[0]
	default:
		return config.KernelConfig{}, config.Errorf(config.CodeMode, "expected at most one mode, got %q", positional)
	}

	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	var opts options
	fs := newFlagSet(&opts, stderr)
	positional, err := parse(fs, args)
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if opts.verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})))

	if opts.listModes {
		for _, mode := range topology.Modes() {
			fmt.Fprintln(stdout, mode)
		}
		return nil
	}

	cfg, err := buildConfig(fs, &opts, positional)
	if err != nil {
		return err
	}

	code, err := codegen.Generate(&cfg)
	if err != nil {
		return err
	}

	_, err = io.WriteString(stdout, code)
	return err
}

func main() {
	err := run(os.Args[1:], os.Stdout, os.Stderr)
	if err == nil {
		return
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}

	prefix := "error:"
	if term.IsTerminal(int(os.Stderr.Fd())) {
		prefix = ansi.Style{}.Bold().ForegroundColor(ansi.Red).Styled(prefix)
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", prefix, err)
	os.Exit(1)
}
