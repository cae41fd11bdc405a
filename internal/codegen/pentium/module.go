package pentium

import (
	"fmt"
	"strings"

	"github.com/paraflow-lang/paraflow/internal/isx"
)

// Assemble lays out a NASM source file: string and float constants in .data,
// globals in .bss, then the code of every function in order. Functions that
// failed to generate are simply absent from funcs.
func Assemble(mod *isx.Module, funcs []*Function) string {
	var b strings.Builder

	b.WriteString("bits 32\n\n")
	b.WriteString("section .data\n")

	for _, s := range mod.Strings {
		fmt.Fprintf(&b, "%s: db %s\n", s.Symbol, stringBytes(s.Value))
	}

	for _, f := range funcs {
		for _, d := range f.Data {
			b.WriteString(d + "\n")
		}
	}

	b.WriteString("\nsection .bss\n")

	for _, g := range mod.Globals {
		fmt.Fprintf(&b, "%s: resb %d\n", g.Symbol, TypeSize(mod.Registry.Kind(g.Type)))
	}

	b.WriteString("\nsection .text\n")

	for _, e := range mod.Externs {
		fmt.Fprintf(&b, "extern %s\n", e)
	}

	for _, f := range funcs {
		fmt.Fprintf(&b, "global %s\n", f.Symbol)
	}

	for _, f := range funcs {
		b.WriteString("\n")
		b.WriteString(f.Text())
	}

	return b.String()
}

// stringBytes renders s as a zero-terminated byte list.
func stringBytes(s string) string {
	parts := make([]string, 0, len(s)+1)
	for i := 0; i < len(s); i++ {
		parts = append(parts, itoa(int(s[i])))
	}

	parts = append(parts, "0")

	return strings.Join(parts, ", ")
}
