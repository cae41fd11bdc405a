package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"go.uber.org/multierr"
	"golang.org/x/term"

	"github.com/paraflow-lang/paraflow/internal/build"
	"github.com/paraflow-lang/paraflow/internal/errors"
)

var (
	errorStyle   = pterm.NewStyle(pterm.BgRed, pterm.FgWhite)
	errorColor   = pterm.FgRed
	warnStyle    = pterm.NewStyle(pterm.BgYellow, pterm.FgBlack)
	warnColor    = pterm.FgYellow
	successStyle = pterm.NewStyle(pterm.BgLightGreen, pterm.FgBlack)
	successColor = pterm.FgLightGreen
)

var categoryTags = map[errors.ErrorCategory]string{
	errors.CategorySyntax:   "Syntax Error",
	errors.CategorySymbol:   "Symbol Error",
	errors.CategoryLowering: "Lowering Error",
	errors.CategoryCodegen:  "Codegen Error",
	errors.CategoryConfig:   "Config Error",
}

// Printer writes user-facing messages, styled when the destination is a
// terminal.
type Printer struct {
	w     io.Writer
	color bool
}

// NewPrinter returns a printer for f, coloured when f is a terminal.
func NewPrinter(f *os.File) *Printer {
	return &Printer{w: f, color: term.IsTerminal(int(f.Fd()))}
}

// NewPlainPrinter returns a printer that never styles its output.
func NewPlainPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) tagged(style *pterm.Style, color pterm.Color, tag, msg string) {
	if !p.color {
		fmt.Fprintf(p.w, "%s: %s\n", strings.ToLower(tag), msg)
		return
	}

	fmt.Fprint(p.w, style.Sprint(" "+tag+" "))
	fmt.Fprintln(p.w, color.Sprint(" "+msg))
}

// Error prints err. Every error of a multi-error is printed on its own.
func (p *Printer) Error(err error) {
	for _, e := range multierr.Errors(err) {
		tag := "Error"
		if ce, ok := errors.As(e); ok {
			tag = categoryTags[ce.Category]
		}

		p.tagged(errorStyle, errorColor, tag, e.Error())
	}
}

// Warn prints a warning.
func (p *Printer) Warn(format string, args ...interface{}) {
	p.tagged(warnStyle, warnColor, "Warning", fmt.Sprintf(format, args...))
}

// Success prints a completion message.
func (p *Printer) Success(format string, args ...interface{}) {
	p.tagged(successStyle, successColor, "OK", fmt.Sprintf(format, args...))
}

// Text prints s verbatim.
func (p *Printer) Text(s string) {
	fmt.Fprint(p.w, s)
}

// Artifact reports the diagnostics of a compilation and a summary line.
func (p *Printer) Artifact(art *build.Artifact) {
	for _, e := range art.Errors {
		p.Error(e)

		if ce, ok := errors.As(e); ok && ce.Pos.IsValid() && art.File != nil {
			if ex := art.File.Excerpt(ce.Pos); ex != "" {
				fmt.Fprintln(p.w, ex)
			}
		}
	}

	if len(art.Failed) > 0 {
		p.Warn("%d function(s) dropped: %s", len(art.Failed), strings.Join(art.Failed, ", "))
	}

	if art.OK() {
		p.Success("%s: %s finished", art.Source, art.Stage)
	}
}
