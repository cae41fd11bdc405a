// Package pentium generates 32-bit x86 assembly in NASM syntax from ISX.
package pentium

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/cpu"

	"github.com/paraflow-lang/paraflow/internal/codegen/regalloc"
	"github.com/paraflow-lang/paraflow/internal/errors"
	"github.com/paraflow-lang/paraflow/internal/types"
)

// Register file limits.
const (
	MinRegisters = 2
	MaxRegisters = 6
	xmmCount     = 8
)

// TypeSize is the width in bytes of a value of kind k on the target. It is
// the only width table of the compiler.
func TypeSize(k types.Kind) int {
	switch k {
	case types.Byte:
		return 1
	case types.Short:
		return 2
	case types.Long, types.Double:
		return 8
	}

	return 4
}

// HostSSE2 reports the SSE2 default: the host's own capability when it is an
// x86 machine, otherwise true since the target is a Pentium 4 class part.
func HostSSE2() bool {
	switch runtime.GOARCH {
	case "386", "amd64":
		return cpu.X86.HasSSE2
	}

	return true
}

// Options selects the register file.
type Options struct {
	// Registers is the number of general purpose registers, taken in the
	// order eax, ecx, edx, ebx, esi, edi.
	Registers int
	// SSE2 enables the xmm registers and floating point code.
	SSE2 bool
}

// DefaultOptions uses the whole register file.
func DefaultOptions() Options {
	return Options{Registers: MaxRegisters, SSE2: HostSSE2()}
}

// Validate checks that the options describe a usable register file.
func (o Options) Validate() error {
	if o.Registers < MinRegisters || o.Registers > MaxRegisters {
		return errors.Config("pentium: registers must be between %d and %d, got %d", MinRegisters, MaxRegisters, o.Registers)
	}

	return nil
}

// String renders the options for cache keys and logs.
func (o Options) String() string {
	return fmt.Sprintf("pentium/r%d/sse2=%t", o.Registers, o.SSE2)
}

type gprName struct {
	r32, r16, r8 string
}

var gprNames = []gprName{
	{"eax", "ax", "al"},
	{"ecx", "cx", "cl"},
	{"edx", "dx", "dl"},
	{"ebx", "bx", "bl"},
	{"esi", "si", ""},
	{"edi", "di", ""},
}

// RegisterFile builds the register file: the general purpose registers first,
// then xmm0-xmm7 when SSE2 is enabled. eax, ecx and edx and every xmm register
// are caller saved.
func (o Options) RegisterFile() []regalloc.Register {
	var regs []regalloc.Register

	for i := 0; i < o.Registers && i < len(gprNames); i++ {
		n := gprNames[i]
		regs = append(regs, regalloc.Register{
			Name:        n.r32,
			Class:       regalloc.ClassGPR,
			CallerSaved: i < 3,
			Byte:        n.r8 != "",
		})
	}

	if o.SSE2 {
		for i := 0; i < xmmCount; i++ {
			regs = append(regs, regalloc.Register{
				Name:        fmt.Sprintf("xmm%d", i),
				Class:       regalloc.ClassXMM,
				CallerSaved: true,
			})
		}
	}

	return regs
}
