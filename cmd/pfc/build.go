package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/paraflow-lang/paraflow/internal/build"
	"github.com/paraflow-lang/paraflow/internal/cli"
	"github.com/paraflow-lang/paraflow/internal/codegen"
)

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [flags] file.pf",
		Short: "Compile a source file to assembly.",
		Long: `Compile a source file to Pentium assembly (NASM syntax) or LLVM IR.
Settings are read from paraflow.toml next to the source file; flags
given on the command line take precedence.`,
		Args: cobra.ExactArgs(1),
		RunE: runBuild,
	}

	cmd.Flags().StringP("output", "o", "", "output file, - for stdout")
	cmd.Flags().String("target", string(codegen.TargetPentium), "target: pentium or llvm")
	cmd.Flags().Int("registers", cli.MaxRegisters, fmt.Sprintf("general purpose registers to allocate (%d-%d)", cli.MinRegisters, cli.MaxRegisters))
	cmd.Flags().Bool("no-sse2", false, "reject floating point code instead of using SSE2")
	cmd.Flags().Int("jobs", 0, "functions generated in parallel (0 means one per CPU)")
	cmd.Flags().Bool("watch", false, "rebuild whenever the source file changes")

	return cmd
}

// loadConfig reads the project file for source and applies the flags the
// user set explicitly.
func loadConfig(cmd *cobra.Command, source string) (*cli.Config, error) {
	path := getString(cmd, "config")
	if path == "" {
		path = cli.ConfigFor(source)
	}

	cfg, err := cli.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	log.WithField("config", path).Debug("configuration loaded")

	flags := cmd.Flags()
	if flags.Changed("target") {
		cfg.Build.Target = getString(cmd, "target")
	}

	if flags.Changed("registers") {
		cfg.Build.Registers = getInt(cmd, "registers")
	}

	if flags.Changed("no-sse2") {
		sse2 := !getFlag(cmd, "no-sse2")
		cfg.Build.SSE2 = &sse2
	}

	if flags.Changed("jobs") {
		cfg.Build.Jobs = getInt(cmd, "jobs")
	}

	if flags.Changed("output") {
		cfg.Build.Output = getString(cmd, "output")
	}

	return cfg, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	source := args[0]

	cfg, err := loadConfig(cmd, source)
	if err != nil {
		return err
	}

	opts, err := cfg.CodegenOptions()
	if err != nil {
		return err
	}

	opts.Cache = codegen.NewCache(0)
	session := build.NewSession(opts)
	out := cfg.OutputPath(source, cli.Extension(opts.Target))
	printer := printerFor(cmd.ErrOrStderr())

	emit := func(art *build.Artifact) error {
		printer.Artifact(art)

		if art.Assembly == "" {
			return errReported
		}

		if err := writeOutput(cmd, out, art.Assembly); err != nil {
			return err
		}

		log.WithFields(log.Fields{
			"output":    out,
			"generated": len(art.Generated),
			"failed":    len(art.Failed),
		}).Debug("output written")

		if !art.OK() {
			return errReported
		}

		return nil
	}

	if getFlag(cmd, "watch") {
		ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt)
		defer stop()

		w, err := build.NewWatcher(session, source, build.StageCodegen)
		if err != nil {
			return err
		}

		log.WithField("file", source).Info("watching for changes")

		return w.Run(ctx, func(art *build.Artifact) {
			if err := emit(art); err != nil && err != errReported {
				printer.Error(err)
			}
		})
	}

	art, err := session.CompileFile(contextOf(cmd), source, build.StageCodegen)
	if err != nil {
		return err
	}

	return emit(art)
}

func writeOutput(cmd *cobra.Command, path, text string) error {
	if path == "-" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), text)
		return err
	}

	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	return nil
}

func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}

	return context.Background()
}
