package expr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidOperator reports construction of a binary node with an
	// operator outside + - * /.
	ErrInvalidOperator = errors.New("invalid binary operator")
	// ErrInvalidSymbolName reports a variable or symbol name containing a
	// forbidden character.
	ErrInvalidSymbolName = errors.New("invalid symbol name")
	// ErrUndefinedVariable reports a scalar evaluation reaching a variable
	// that is missing from the environment.
	ErrUndefinedVariable = errors.New("undefined variable")
	// ErrNonDifferentiable reports a derivative reaching a function call that
	// carries no diff callback.
	ErrNonDifferentiable = errors.New("expression is not differentiable")
	// ErrArityMismatch reports a call-site argument count that disagrees with
	// the callee, or a Taylor system whose variable and equation counts differ.
	ErrArityMismatch = errors.New("arity mismatch")
)

// ColumnLengthError reports inconsistent column lengths in a batched
// evaluation environment.
type ColumnLengthError struct {
	Name string
	Got  int
	Want int
}

func (e *ColumnLengthError) Error() string {
	return fmt.Sprintf("batch column %q has length %d, want %d", e.Name, e.Got, e.Want)
}

// CheckSymbolName validates a user-chosen symbol or variable name: it must be
// non-empty and must not contain the '.' character, which is reserved for the
// entry-point suffixes of the code generator.
func CheckSymbolName(s string) error {
	if s == "" {
		return fmt.Errorf("%w: name is empty", ErrInvalidSymbolName)
	}
	if strings.ContainsRune(s, '.') {
		return fmt.Errorf("%w: %q contains the '.' character", ErrInvalidSymbolName, s)
	}
	return nil
}
