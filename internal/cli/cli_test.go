package cli

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paraflow-lang/paraflow/internal/build"
	"github.com/paraflow-lang/paraflow/internal/codegen"
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/position"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), ConfigFileName)
	require.NoError(t, os.WriteFile(p, []byte(contents), 0o644))

	return p
}

func TestLoadConfig(t *testing.T) {
	p := writeConfig(t, `
language = ">= 1.0, < 2.0"

[build]
target = "pentium"
registers = 3
sse2 = false
jobs = 2
output = "out.asm"
`)

	c, err := LoadConfig(p)
	require.NoError(t, err)

	opts, err := c.CodegenOptions()
	require.NoError(t, err)

	assert.Equal(t, codegen.TargetPentium, opts.Target)
	assert.Equal(t, 3, opts.Pentium.Registers)
	assert.False(t, opts.Pentium.SSE2)
	assert.Equal(t, 2, opts.Jobs)
	assert.Equal(t, "out.asm", c.OutputPath("prog.pf", ".asm"))
}

func TestLoadConfigMissingFileGivesDefaults(t *testing.T) {
	c, err := LoadConfig(filepath.Join(t.TempDir(), ConfigFileName))
	require.NoError(t, err)

	opts, err := c.CodegenOptions()
	require.NoError(t, err)

	def := codegen.DefaultOptions()
	assert.Equal(t, def.Target, opts.Target)
	assert.Equal(t, def.Pentium, opts.Pentium)
	assert.Equal(t, filepath.Join("dir", "prog.asm"), c.OutputPath(filepath.Join("dir", "prog.pf"), ".asm"))
}

func TestConfigErrors(t *testing.T) {
	cases := map[string]string{
		"bad toml":         `[build`,
		"bad target":       "[build]\ntarget = \"mips\"",
		"bad registers":    "[build]\nregisters = 9",
		"negative jobs":    "[build]\njobs = -1",
		"bad constraint":   `language = "not a version"`,
		"version too high": `language = ">= 2.0"`,
	}

	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			c, err := LoadConfig(writeConfig(t, src))
			if err == nil {
				_, err = c.CodegenOptions()
			}

			require.Error(t, err)
			assert.True(t, stderrors.Is(err, errors.ErrConfig), "got %v", err)
		})
	}
}

func TestConfigFor(t *testing.T) {
	assert.Equal(t, filepath.Join("src", ConfigFileName), ConfigFor(filepath.Join("src", "a.pf")))
}

func TestExtension(t *testing.T) {
	assert.Equal(t, ".asm", Extension(codegen.TargetPentium))
	assert.Equal(t, ".ll", Extension(codegen.TargetLLVM))
}

func TestPlainPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Error(errors.Config("bad registers"))
	p.Warn("careful")
	p.Success("done")

	assert.Equal(t, "config error: [CONFIG:CONFIG] bad registers\nwarning: careful\nok: done\n", buf.String())
}

func TestPrinterArtifact(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	p.Artifact(&build.Artifact{
		Source: "a.pf",
		Errors: []error{errors.UnencodableOperation("big", 1, "assign", "long")},
		Failed: []string{"big"},
		Stage:  build.StageCodegen,
	})

	out := buf.String()
	assert.Contains(t, out, "codegen error: ")
	assert.Contains(t, out, "(in big, isx #1)")
	assert.Contains(t, out, "warning: 1 function(s) dropped: big")
	assert.NotContains(t, out, "ok:")

	buf.Reset()
	p.Artifact(&build.Artifact{Source: "a.pf", Stage: build.StageISX})
	assert.Equal(t, "ok: a.pf: isx finished\n", buf.String())
}

func TestPrinterQuotesSource(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlainPrinter(&buf)

	pos := position.Position{Filename: "a.pf", Line: 1, Column: 9, Offset: 8}
	p.Artifact(&build.Artifact{
		Source: "a.pf",
		File:   position.NewSourceFile("a.pf", "int x = ;\n"),
		Errors: []error{errors.Syntax(pos, "expected expression")},
	})

	assert.Equal(t, "syntax error: a.pf:1:9: [SYNTAX:SYNTAX_ERROR] expected expression\n"+
		"   1 | int x = ;\n"+
		"     |         ^\n", buf.String())
}

func TestPrintVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintVersion(&buf, "pfc", false))
	assert.Contains(t, buf.String(), "pfc v"+Version)
	assert.Contains(t, buf.String(), "Language: 1.0.0")

	buf.Reset()
	require.NoError(t, PrintVersion(&buf, "pfc", true))

	var decoded struct {
		Tool string      `json:"tool"`
		Info VersionInfo `json:"version_info"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "pfc", decoded.Tool)
	assert.Equal(t, Version, decoded.Info.Version)
}
