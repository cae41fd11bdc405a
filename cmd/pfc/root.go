package main

import (
	stderrors "errors"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/paraflow-lang/paraflow/internal/cli"
)

// errReported marks a failure whose diagnostics were already printed.
var errReported = stderrors.New("compilation failed")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pfc",
		Short:         "A compiler for the paraFlow language.",
		Long:          "pfc compiles paraFlow source to Pentium assembly or LLVM IR.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log.SetOutput(cmd.ErrOrStderr())
			if getFlag(cmd, "verbose") {
				log.SetLevel(log.DebugLevel)
			} else {
				log.SetLevel(log.InfoLevel)
			}
		},
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "increase logging verbosity")
	root.PersistentFlags().String("config", "", "project file (default: "+cli.ConfigFileName+" next to the source)")

	root.AddCommand(newBuildCmd(), newISXCmd(), newCheckCmd(), newBuiltinsCmd(), newVersionCmd())

	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		cmd.PrintErrln(cmd.UsageString())
		return err
	})

	return root
}

// execute runs root and prints any error not already reported.
func execute(root *cobra.Command) error {
	err := root.Execute()
	if err != nil && !stderrors.Is(err, errReported) {
		printerFor(root.ErrOrStderr()).Error(err)
	}

	return err
}

// printerFor styles output only for terminals.
func printerFor(w io.Writer) *cli.Printer {
	if f, ok := w.(*os.File); ok {
		return cli.NewPrinter(f)
	}

	return cli.NewPlainPrinter(w)
}

// Get an expected flag, or exit if an error arises.
func getFlag(cmd *cobra.Command, flag string) bool {
	r, err := cmd.Flags().GetBool(flag)
	if err != nil {
		log.Fatal(err)
	}

	return r
}

func getInt(cmd *cobra.Command, flag string) int {
	r, err := cmd.Flags().GetInt(flag)
	if err != nil {
		log.Fatal(err)
	}

	return r
}

func getString(cmd *cobra.Command, flag string) string {
	r, err := cmd.Flags().GetString(flag)
	if err != nil {
		log.Fatal(err)
	}

	return r
}
