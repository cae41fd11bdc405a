// Package errors provides standardized error reporting for the paraFlow compiler.
// Every diagnostic produced by the core is a *CompileError carrying a category,
// a stable code and enough location context for the driver to decide whether
// to stop the build or keep collecting errors.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/paraflow-lang/paraflow/internal/position"
)

// ErrorCategory groups errors by the phase that detects them
type ErrorCategory string

const (
	CategorySyntax   ErrorCategory = "SYNTAX"
	CategorySymbol   ErrorCategory = "SYMBOL"
	CategoryLowering ErrorCategory = "LOWERING"
	CategoryCodegen  ErrorCategory = "CODEGEN"
	CategoryConfig   ErrorCategory = "CONFIG"
)

// Code identifies one kind of failure independent of its message
type Code string

const (
	CodeSyntax               Code = "SYNTAX_ERROR"
	CodeDuplicateType        Code = "DUPLICATE_TYPE"
	CodeUnknownType          Code = "UNKNOWN_TYPE"
	CodeDuplicateSymbol      Code = "DUPLICATE_SYMBOL"
	CodeUnknownSymbol        Code = "UNKNOWN_SYMBOL"
	CodeInvalidParent        Code = "INVALID_PARENT"
	CodeCyclicInheritance    Code = "CYCLIC_INHERITANCE"
	CodeTypeMismatch         Code = "TYPE_MISMATCH"
	CodeArity                Code = "ARITY"
	CodeMisplacedStatement   Code = "MISPLACED_STATEMENT"
	CodeUnsupportedConstruct Code = "UNSUPPORTED_CONSTRUCT"
	CodeDanglingLabel        Code = "DANGLING_LABEL"
	CodeUnencodableOperation Code = "UNENCODABLE_OPERATION"
	CodeConfig               Code = "CONFIG"
)

// Sentinels for errors.Is. A *CompileError matches a sentinel with the same code.
var (
	ErrSyntax               = &CompileError{Category: CategorySyntax, Code: CodeSyntax}
	ErrDuplicateType        = &CompileError{Category: CategorySymbol, Code: CodeDuplicateType}
	ErrUnknownType          = &CompileError{Category: CategorySymbol, Code: CodeUnknownType}
	ErrDuplicateSymbol      = &CompileError{Category: CategorySymbol, Code: CodeDuplicateSymbol}
	ErrUnknownSymbol        = &CompileError{Category: CategorySymbol, Code: CodeUnknownSymbol}
	ErrInvalidParent        = &CompileError{Category: CategorySymbol, Code: CodeInvalidParent}
	ErrCyclicInheritance    = &CompileError{Category: CategorySymbol, Code: CodeCyclicInheritance}
	ErrTypeMismatch         = &CompileError{Category: CategorySymbol, Code: CodeTypeMismatch}
	ErrArity                = &CompileError{Category: CategorySymbol, Code: CodeArity}
	ErrMisplacedStatement   = &CompileError{Category: CategorySymbol, Code: CodeMisplacedStatement}
	ErrUnsupportedConstruct = &CompileError{Category: CategoryLowering, Code: CodeUnsupportedConstruct}
	ErrDanglingLabel        = &CompileError{Category: CategoryLowering, Code: CodeDanglingLabel}
	ErrUnencodableOperation = &CompileError{Category: CategoryCodegen, Code: CodeUnencodableOperation}
	ErrConfig               = &CompileError{Category: CategoryConfig, Code: CodeConfig}
)

// CompileError provides a consistent error format
type CompileError struct {
	Category ErrorCategory
	Code     Code
	Message  string
	Pos      position.Position
	// Function is the enclosing function for lowering and codegen errors.
	Function string
	// Index is the ISX instruction index for codegen errors, -1 otherwise.
	Index   int
	Context map[string]interface{}
}

// Error implements the error interface
func (e *CompileError) Error() string {
	var b strings.Builder

	if e.Pos.IsValid() {
		b.WriteString(e.Pos.String())
		b.WriteString(": ")
	}

	fmt.Fprintf(&b, "[%s:%s] %s", e.Category, e.Code, e.Message)

	if e.Function != "" {
		fmt.Fprintf(&b, " (in %s", e.Function)
		if e.Index >= 0 {
			fmt.Fprintf(&b, ", isx #%d", e.Index)
		}
		b.WriteString(")")
	}

	return b.String()
}

// Is reports whether target is a CompileError with the same code.
func (e *CompileError) Is(target error) bool {
	t, ok := target.(*CompileError)
	if !ok {
		return false
	}

	return t.Code == e.Code
}

// NewCompileError creates a new error with no function context
func NewCompileError(category ErrorCategory, code Code, pos position.Position, message string, context map[string]interface{}) *CompileError {
	return &CompileError{
		Category: category,
		Code:     code,
		Message:  message,
		Pos:      pos,
		Index:    -1,
		Context:  context,
	}
}

// Symbol/type errors

func DuplicateType(pos position.Position, name string) *CompileError {
	return NewCompileError(CategorySymbol, CodeDuplicateType, pos,
		fmt.Sprintf("type %q is already defined in this scope", name),
		map[string]interface{}{"name": name})
}

func UnknownType(pos position.Position, name string) *CompileError {
	return NewCompileError(CategorySymbol, CodeUnknownType, pos,
		fmt.Sprintf("unknown type %q", name),
		map[string]interface{}{"name": name})
}

func DuplicateSymbol(pos position.Position, name string) *CompileError {
	return NewCompileError(CategorySymbol, CodeDuplicateSymbol, pos,
		fmt.Sprintf("%q is already declared in this scope", name),
		map[string]interface{}{"name": name})
}

func UnknownSymbol(pos position.Position, name string) *CompileError {
	return NewCompileError(CategorySymbol, CodeUnknownSymbol, pos,
		fmt.Sprintf("undefined: %s", name),
		map[string]interface{}{"name": name})
}

func InvalidParent(pos position.Position, class, parent string) *CompileError {
	return NewCompileError(CategorySymbol, CodeInvalidParent, pos,
		fmt.Sprintf("class %s cannot extend %s: not a class", class, parent),
		map[string]interface{}{"class": class, "parent": parent})
}

func CyclicInheritance(pos position.Position, class string, chain []string) *CompileError {
	return NewCompileError(CategorySymbol, CodeCyclicInheritance, pos,
		fmt.Sprintf("cyclic inheritance through %s: %s", class, strings.Join(chain, " -> ")),
		map[string]interface{}{"class": class, "chain": chain})
}

func TypeMismatch(pos position.Position, format string, args ...interface{}) *CompileError {
	return NewCompileError(CategorySymbol, CodeTypeMismatch, pos, fmt.Sprintf(format, args...), nil)
}

func Arity(pos position.Position, what string, want, got int) *CompileError {
	return NewCompileError(CategorySymbol, CodeArity, pos,
		fmt.Sprintf("%s: want %d, got %d", what, want, got),
		map[string]interface{}{"want": want, "got": got})
}

func MisplacedStatement(pos position.Position, stmt string) *CompileError {
	return NewCompileError(CategorySymbol, CodeMisplacedStatement, pos,
		fmt.Sprintf("%s outside of a loop", stmt), nil)
}

// Lowering errors

func UnsupportedConstruct(pos position.Position, function, construct string) *CompileError {
	e := NewCompileError(CategoryLowering, CodeUnsupportedConstruct, pos,
		fmt.Sprintf("no lowering for %s", construct),
		map[string]interface{}{"construct": construct})
	e.Function = function

	return e
}

func DanglingLabel(function, label string) *CompileError {
	e := NewCompileError(CategoryLowering, CodeDanglingLabel, position.Position{},
		fmt.Sprintf("branch target %s is never placed", label),
		map[string]interface{}{"label": label})
	e.Function = function

	return e
}

// Codegen errors

func UnencodableOperation(function string, index int, op, reason string) *CompileError {
	e := NewCompileError(CategoryCodegen, CodeUnencodableOperation, position.Position{},
		fmt.Sprintf("cannot encode %s: %s", op, reason),
		map[string]interface{}{"op": op})
	e.Function = function
	e.Index = index

	return e
}

// Syntax and configuration errors

func Syntax(pos position.Position, format string, args ...interface{}) *CompileError {
	return NewCompileError(CategorySyntax, CodeSyntax, pos, fmt.Sprintf(format, args...), nil)
}

func Config(format string, args ...interface{}) *CompileError {
	return NewCompileError(CategoryConfig, CodeConfig, position.Position{}, fmt.Sprintf(format, args...), nil)
}

// As extracts the first *CompileError from err's chain.
func As(err error) (*CompileError, bool) {
	var ce *CompileError
	if stderrors.As(err, &ce) {
		return ce, true
	}

	return nil, false
}
