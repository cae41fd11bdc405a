package ast

// Op is a unary or binary operator.
type Op int

const (
	OpNone Op = iota

	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpBitAnd
	OpBitOr
	OpBitXor
	OpShl
	OpShr

	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe

	OpAndAnd
	OpOrOr

	OpNeg
	OpNot
	OpCompl
)

var opNames = [...]string{
	OpNone:   "",
	OpAdd:    "+",
	OpSub:    "-",
	OpMul:    "*",
	OpDiv:    "/",
	OpMod:    "%",
	OpBitAnd: "&",
	OpBitOr:  "|",
	OpBitXor: "^",
	OpShl:    "<<",
	OpShr:    ">>",
	OpEq:     "==",
	OpNe:     "!=",
	OpLt:     "<",
	OpLe:     "<=",
	OpGt:     ">",
	OpGe:     ">=",
	OpAndAnd: "&&",
	OpOrOr:   "||",
	OpNeg:    "-",
	OpNot:    "!",
	OpCompl:  "~",
}

func (o Op) String() string {
	if o >= 0 && int(o) < len(opNames) {
		return opNames[o]
	}

	return "?"
}

// IsComparison reports whether the operator yields a truth value from two
// operands of the same type.
func (o Op) IsComparison() bool { return o >= OpEq && o <= OpGe }

// IsLogical reports whether the operator short-circuits.
func (o Op) IsLogical() bool { return o == OpAndAnd || o == OpOrOr }

// IsBitwise reports whether the operator applies only to integers.
func (o Op) IsBitwise() bool { return o >= OpBitAnd && o <= OpShr || o == OpCompl }
