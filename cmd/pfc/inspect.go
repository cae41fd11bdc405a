package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paraflow-lang/paraflow/internal/build"
	"github.com/paraflow-lang/paraflow/internal/builtins"
	"github.com/paraflow-lang/paraflow/internal/cli"
)

func newISXCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "isx [flags] file.pf",
		Short: "Print the ISX listing of a source file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			art, err := frontEnd(cmd, args[0])
			if err != nil {
				return err
			}

			if !art.OK() {
				printerFor(cmd.ErrOrStderr()).Artifact(art)
				return errReported
			}

			_, err = fmt.Fprint(cmd.OutOrStdout(), art.ISX)

			return err
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [flags] file.pf",
		Short: "Parse, resolve and lower a source file without generating code.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			art, err := frontEnd(cmd, args[0])
			if err != nil {
				return err
			}

			printerFor(cmd.ErrOrStderr()).Artifact(art)

			if !art.OK() {
				return errReported
			}

			return nil
		},
	}
}

// frontEnd compiles source up to the ISX stage with the project settings.
func frontEnd(cmd *cobra.Command, source string) (*build.Artifact, error) {
	cfg, err := loadConfig(cmd, source)
	if err != nil {
		return nil, err
	}

	opts, err := cfg.CodegenOptions()
	if err != nil {
		return nil, err
	}

	return build.NewSession(opts).CompileFile(contextOf(cmd), source, build.StageISX)
}

func newBuiltinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "builtins",
		Short: "Print the built-in declarations every program is compiled against.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := builtins.New()
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\n%s", p.BuiltinCode(), p.StringDef())

			return err
		},
	}
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Report the version of this executable.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PrintVersion(cmd.OutOrStdout(), "pfc", getFlag(cmd, "json"))
		},
	}

	cmd.Flags().Bool("json", false, "print version information as JSON")

	return cmd
}
