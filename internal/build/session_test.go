package build

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paraflow-lang/paraflow/internal/codegen"
	"github.com/paraflow-lang/paraflow/internal/errors"
)

const adder = `to add(int x, int y) into (int sum) { sum = x + y; }
int r;
r = add(1, 2);
`

func TestCompileProducesAssembly(t *testing.T) {
	s := NewSession(codegen.DefaultOptions())

	art, err := s.Compile(context.Background(), adder, "add.pf", StageCodegen)
	require.NoError(t, err)
	require.True(t, art.OK(), "errors: %v", art.Errors)

	assert.Equal(t, StageCodegen, art.Stage)
	assert.True(t, strings.HasPrefix(art.Assembly, "bits 32\n"))
	assert.Contains(t, art.Assembly, "pf_add:")
	assert.Contains(t, art.ISX, "function pf_add (add)")
	assert.Empty(t, art.Failed)
	assert.NoError(t, art.Err())
}

func TestCompileStopsAtStage(t *testing.T) {
	s := NewSession(codegen.DefaultOptions())

	art, err := s.Compile(context.Background(), adder, "add.pf", StageISX)
	require.NoError(t, err)
	require.True(t, art.OK())
	assert.NotEmpty(t, art.ISX)
	assert.Empty(t, art.Assembly)

	art, err = s.Compile(context.Background(), adder, "add.pf", StageResolve)
	require.NoError(t, err)
	assert.Empty(t, art.ISX)
	assert.Equal(t, StageResolve, art.Stage)
}

func TestCompileReportsPhaseErrors(t *testing.T) {
	cases := []struct {
		name  string
		src   string
		stage Stage
		want  error
	}{
		{"syntax", `to f( { }`, StageParse, errors.ErrSyntax},
		{"unknown symbol", `int a = b;`, StageResolve, errors.ErrUnknownSymbol},
		{"unencodable", `to big(long a) into (long b) { b = a; }`, StageCodegen, errors.ErrUnencodableOperation},
	}

	s := NewSession(codegen.DefaultOptions())

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			art, err := s.Compile(context.Background(), c.src, "bad.pf", StageCodegen)
			require.NoError(t, err)
			require.False(t, art.OK())

			assert.Equal(t, c.stage, art.Stage)
			assert.True(t, stderrors.Is(art.Errors[0], c.want), "got %v", art.Errors)
		})
	}
}

func TestCompileKeepsGoodFunctions(t *testing.T) {
	s := NewSession(codegen.DefaultOptions())

	art, err := s.Compile(context.Background(), adder+`to big(long a) into (long b) { b = a; }`, "mixed.pf", StageCodegen)
	require.NoError(t, err)

	assert.Equal(t, []string{"big"}, art.Failed)
	assert.Contains(t, art.Assembly, "pf_add:")
	assert.NotContains(t, art.Assembly, "pf_big:")
}

func TestSessionCacheServesRebuild(t *testing.T) {
	opts := codegen.DefaultOptions()
	opts.Cache = codegen.NewCache(0)
	s := NewSession(opts)

	first, err := s.Compile(context.Background(), adder, "add.pf", StageCodegen)
	require.NoError(t, err)
	assert.Equal(t, int64(0), opts.Cache.Stats().Hits)

	second, err := s.Compile(context.Background(), adder, "add.pf", StageCodegen)
	require.NoError(t, err)
	assert.Equal(t, int64(len(first.Generated)), opts.Cache.Stats().Hits)
	assert.Equal(t, first.Assembly, second.Assembly)
}

func TestCompileLLVMTarget(t *testing.T) {
	s := NewSession(codegen.Options{Target: codegen.TargetLLVM})

	art, err := s.Compile(context.Background(), adder, "add.pf", StageCodegen)
	require.NoError(t, err)
	require.True(t, art.OK(), "errors: %v", art.Errors)
	assert.Contains(t, art.Assembly, "define void @pf_add(")
}

func TestCompileFileMissing(t *testing.T) {
	s := NewSession(codegen.DefaultOptions())

	_, err := s.CompileFile(context.Background(), filepath.Join(t.TempDir(), "none.pf"), StageCodegen)
	assert.Error(t, err)
}

func TestWatcherRebuildsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeTempFile(t, dir, "w.pf", `to f(int x) into (int y) { y = x; }`)

	w, err := NewWatcher(NewSession(codegen.DefaultOptions()), path, StageCodegen)
	require.NoError(t, err)
	w.Debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	arts := make(chan *Artifact, 8)
	done := make(chan error, 1)

	go func() { done <- w.Run(ctx, func(a *Artifact) { arts <- a }) }()

	next := func() *Artifact {
		select {
		case a := <-arts:
			return a
		case <-time.After(5 * time.Second):
			t.Fatal("no rebuild")
		}

		return nil
	}

	first := next()
	assert.Contains(t, first.Assembly, "pf_f:")

	require.NoError(t, os.WriteFile(path, []byte(`to g(int x) into (int y) { y = x; }`), 0o644))

	second := next()
	assert.Contains(t, second.Assembly, "pf_g:")
	assert.NotContains(t, second.Assembly, "pf_f:")

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
