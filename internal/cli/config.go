package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml"

	"github.com/paraflow-lang/paraflow/internal/builtins"
	"github.com/paraflow-lang/paraflow/internal/codegen"
	"github.com/paraflow-lang/paraflow/internal/codegen/pentium"
	"github.com/paraflow-lang/paraflow/internal/errors"
)

// ConfigFileName is looked up next to the source file being compiled.
const ConfigFileName = "paraflow.toml"

// Config is the project file as it is encoded in TOML.
type Config struct {
	// Language is a semver constraint on the language version.
	Language string      `toml:"language,omitempty"`
	Build    BuildConfig `toml:"build"`
}

// BuildConfig holds the [build] table. Unset fields keep their defaults.
type BuildConfig struct {
	Target    string `toml:"target,omitempty"`
	Registers int    `toml:"registers,omitempty"`
	SSE2      *bool  `toml:"sse2,omitempty"`
	Jobs      int    `toml:"jobs,omitempty"`
	Output    string `toml:"output,omitempty"`
}

// LoadConfig reads the configuration at path. A missing file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}

		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, config); err != nil {
		return nil, errors.Config("%s: %v", filepath.Base(path), err)
	}

	return config, nil
}

// ConfigFor returns the path of the configuration that applies to source.
func ConfigFor(source string) string {
	return filepath.Join(filepath.Dir(source), ConfigFileName)
}

// CheckLanguage verifies that the compiler's language version satisfies the
// configured constraint.
func (c *Config) CheckLanguage() error {
	if c.Language == "" {
		return nil
	}

	constraint, err := semver.NewConstraint(c.Language)
	if err != nil {
		return errors.Config("language constraint %q: %v", c.Language, err)
	}

	version := semver.MustParse(builtins.LanguageVersion)
	if !constraint.Check(version) {
		return errors.Config("language version %s does not satisfy %q", version, c.Language)
	}

	return nil
}

// CodegenOptions converts the [build] table into code generation options.
func (c *Config) CodegenOptions() (codegen.Options, error) {
	if err := c.CheckLanguage(); err != nil {
		return codegen.Options{}, err
	}

	opts := codegen.DefaultOptions()

	if c.Build.Target != "" {
		t, err := codegen.ParseTarget(c.Build.Target)
		if err != nil {
			return codegen.Options{}, err
		}

		opts.Target = t
	}

	if c.Build.Registers != 0 {
		opts.Pentium.Registers = c.Build.Registers
	}

	if c.Build.SSE2 != nil {
		opts.Pentium.SSE2 = *c.Build.SSE2
	}

	if c.Build.Jobs < 0 {
		return codegen.Options{}, errors.Config("jobs must not be negative, got %d", c.Build.Jobs)
	}

	opts.Jobs = c.Build.Jobs

	if opts.Target == codegen.TargetPentium {
		if err := opts.Pentium.Validate(); err != nil {
			return codegen.Options{}, err
		}
	}

	return opts, nil
}

// OutputPath returns where the build of source is written: the configured
// output, or source with its extension replaced by ext.
func (c *Config) OutputPath(source, ext string) string {
	if c.Build.Output != "" {
		return c.Build.Output
	}

	return source[:len(source)-len(filepath.Ext(source))] + ext
}

// Extension returns the conventional file extension for a target.
func Extension(t codegen.Target) string {
	if t == codegen.TargetLLVM {
		return ".ll"
	}

	return ".asm"
}

// Registers bounds accepted on the command line.
const (
	MinRegisters = pentium.MinRegisters
	MaxRegisters = pentium.MaxRegisters
)
