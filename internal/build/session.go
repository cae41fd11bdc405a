// Package build runs one translation unit through the compiler: parse,
// resolve, ISX lowering and code generation.
package build

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/paraflow-lang/paraflow/internal/builtins"
	"github.com/paraflow-lang/paraflow/internal/codegen"
	"github.com/paraflow-lang/paraflow/internal/isx"
	"github.com/paraflow-lang/paraflow/internal/parser"
	"github.com/paraflow-lang/paraflow/internal/position"
	"github.com/paraflow-lang/paraflow/internal/resolver"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// Stage names the last phase a session runs.
type Stage int

const (
	StageParse Stage = iota
	StageResolve
	StageISX
	StageCodegen
)

func (s Stage) String() string {
	switch s {
	case StageParse:
		return "parse"
	case StageResolve:
		return "resolve"
	case StageISX:
		return "isx"
	}

	return "codegen"
}

// Artifact is what one compilation produced.
type Artifact struct {
	Source string
	// File holds the source text for quoting in diagnostics.
	File *position.SourceFile
	// Assembly is the generated text; empty when an earlier phase failed or
	// the session stopped before code generation.
	Assembly string
	// ISX is the listing of the lowered module.
	ISX string
	// Errors holds every diagnostic in the order the phases reported them.
	Errors []error
	// Generated and Failed name the functions code generation kept and
	// dropped.
	Generated []string
	Failed    []string
	// Stage is the last phase that ran.
	Stage Stage
}

// OK reports whether the compilation was free of errors.
func (a *Artifact) OK() bool { return len(a.Errors) == 0 }

// Err combines the diagnostics into one error, nil when there are none.
func (a *Artifact) Err() error { return multierr.Combine(a.Errors...) }

// Session compiles translation units with one set of options. A session may
// be reused, which lets its code cache serve rebuilds.
type Session struct {
	opts     codegen.Options
	provider *builtins.Provider
}

// NewSession creates a session. The provider is shared by every compilation.
func NewSession(opts codegen.Options) *Session {
	return &Session{opts: opts, provider: builtins.New()}
}

// Options returns the code generation options of the session.
func (s *Session) Options() codegen.Options { return s.opts }

// CompileFile reads path and compiles it through stage.
func (s *Session) CompileFile(ctx context.Context, path string, stage Stage) (*Artifact, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}

	return s.Compile(ctx, string(src), path, stage)
}

// Compile runs src through stage. Diagnostics end up in the artifact; the
// returned error is reserved for failures of the session itself such as
// cancellation or invalid options.
func (s *Session) Compile(ctx context.Context, src, filename string, stage Stage) (*Artifact, error) {
	art := &Artifact{Source: filename, File: position.NewSourceFile(filename, src), Stage: StageParse}
	logger := log.WithField("file", filename)

	start := time.Now()
	file, err := parser.ParseFile(src, filename)
	logger.WithField("elapsed", time.Since(start)).Debug("parsed")

	if err != nil {
		art.Errors = multierr.Errors(err)
		return art, nil
	}

	if stage == StageParse {
		return art, nil
	}

	art.Stage = StageResolve
	start = time.Now()

	u, err := resolver.NewUniverse(types.NewRegistry(codegen.SizeFunc(s.opts.Target)), s.provider)
	if err != nil {
		return nil, fmt.Errorf("built-in declarations: %w", err)
	}

	prog, err := resolver.Resolve(file, u)
	logger.WithField("elapsed", time.Since(start)).Debug("resolved")

	if err != nil {
		art.Errors = multierr.Errors(err)
		return art, nil
	}

	if stage == StageResolve {
		return art, nil
	}

	art.Stage = StageISX
	start = time.Now()
	mod, err := isx.Build(prog)

	if err != nil {
		art.Errors = multierr.Errors(err)
		return art, nil
	}

	art.ISX = mod.String()
	logger.WithFields(log.Fields{
		"functions": len(mod.Funcs),
		"elapsed":   time.Since(start),
	}).Debug("lowered")

	if stage == StageISX {
		return art, nil
	}

	art.Stage = StageCodegen

	res, err := codegen.Compile(ctx, mod, s.opts)
	if res == nil {
		return nil, err
	}

	art.Assembly = res.Text
	art.Generated = res.Generated
	art.Failed = res.Failed
	art.Errors = multierr.Errors(err)

	return art, nil
}
