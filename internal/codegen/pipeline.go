// Package codegen drives the backends over an ISX module.
package codegen

import (
	"context"
	"fmt"
	"runtime"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/paraflow-lang/paraflow/internal/codegen/llvmgen"
	"github.com/paraflow-lang/paraflow/internal/codegen/pentium"
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/isx"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// Target selects a backend.
type Target string

const (
	TargetPentium Target = "pentium"
	TargetLLVM    Target = "llvm"
)

// ParseTarget validates a target name.
func ParseTarget(s string) (Target, error) {
	switch t := Target(s); t {
	case TargetPentium, TargetLLVM:
		return t, nil
	}

	return "", errors.Config("unknown target %q (want %s or %s)", s, TargetPentium, TargetLLVM)
}

// SizeFunc returns the type widths class layouts must use for target t.
func SizeFunc(t Target) types.SizeFunc {
	if t == TargetLLVM {
		return llvmgen.TypeSize
	}

	return pentium.TypeSize
}

// Options configures a compilation.
type Options struct {
	Target  Target
	Pentium pentium.Options
	// Jobs bounds the functions generated in parallel; 0 means GOMAXPROCS.
	Jobs int
	// Cache, when set, is consulted before generating a Pentium function.
	Cache *Cache
}

// DefaultOptions targets the whole Pentium register file.
func DefaultOptions() Options {
	return Options{Target: TargetPentium, Pentium: pentium.DefaultOptions()}
}

// Result is the output of Compile.
type Result struct {
	Text string
	// Generated lists the functions present in Text, in module order.
	Generated []string
	// Failed lists the functions dropped because of an error.
	Failed []string
}

// Compile generates code for every function of mod. A function that fails
// is left out of the text; its error is part of the returned aggregate while
// the rest of the module is still produced.
func Compile(ctx context.Context, mod *isx.Module, opts Options) (*Result, error) {
	start := time.Now()

	var (
		res *Result
		err error
	)

	switch opts.Target {
	case TargetPentium, "":
		res, err = compilePentium(ctx, mod, opts)
	case TargetLLVM:
		res, err = compileLLVM(mod)
	default:
		return nil, errors.Config("unknown target %q", opts.Target)
	}

	if res != nil {
		log.WithFields(log.Fields{
			"target":    opts.Target,
			"generated": len(res.Generated),
			"failed":    len(res.Failed),
			"elapsed":   time.Since(start),
		}).Debug("codegen finished")
	}

	return res, err
}

func compilePentium(ctx context.Context, mod *isx.Module, opts Options) (*Result, error) {
	if err := opts.Pentium.Validate(); err != nil {
		return nil, err
	}

	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	funcs := make([]*pentium.Function, len(mod.Funcs))
	errs := make([]error, len(mod.Funcs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for i, fn := range mod.Funcs {
		i, fn := i, fn

		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			funcs[i], errs[i] = generate(fn, opts)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}

	res := &Result{}

	var (
		kept []*pentium.Function
		agg  error
	)

	for i, fn := range mod.Funcs {
		if errs[i] != nil {
			log.WithField("function", fn.Name).Warnf("code generation failed: %v", errs[i])
			res.Failed = append(res.Failed, fn.Name)
			agg = multierr.Append(agg, errs[i])

			continue
		}

		kept = append(kept, funcs[i])
		res.Generated = append(res.Generated, fn.Name)
	}

	res.Text = pentium.Assemble(mod, kept)

	return res, agg
}

func generate(fn *isx.Func, opts Options) (*pentium.Function, error) {
	if opts.Cache == nil {
		return pentium.Generate(fn, opts.Pentium)
	}

	key := KeyFor(fn, opts.Pentium)
	if f, ok := opts.Cache.Get(key); ok {
		log.WithField("function", fn.Name).Debug("codegen cache hit")
		return f, nil
	}

	f, err := pentium.Generate(fn, opts.Pentium)
	if err != nil {
		return nil, err
	}

	opts.Cache.Put(key, f)

	return f, nil
}

func compileLLVM(mod *isx.Module) (*Result, error) {
	m, err := llvmgen.Generate(mod)

	failed := make(map[string]bool)
	for _, e := range multierr.Errors(err) {
		if ce, ok := errors.As(e); ok {
			log.WithField("function", ce.Function).Warnf("code generation failed: %v", ce)
			failed[ce.Function] = true
		}
	}

	res := &Result{Text: m.String()}

	for _, fn := range mod.Funcs {
		if failed[fn.Name] {
			res.Failed = append(res.Failed, fn.Name)
		} else {
			res.Generated = append(res.Generated, fn.Name)
		}
	}

	return res, err
}
