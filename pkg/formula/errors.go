package formula

import (
	"errors"
	"fmt"
)

var (
	// ErrSyntax marks a formula outside the arithmetic grammar.
	ErrSyntax = errors.New("syntax error")
	// ErrUndefinedVariable marks a reference to a variable that was not extracted.
	ErrUndefinedVariable = errors.New("undefined variable")
	// ErrDivisionByZero marks a division whose divisor evaluated to zero.
	ErrDivisionByZero = errors.New("division by zero")
)

// FormulaError reports why a formula could not be parsed or evaluated.
type FormulaError struct {
	Formula string
	// Pos is the byte offset in Formula the error refers to.
	Pos    int
	Detail string
	Err    error
}

func (e *FormulaError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("formula %q at %d: %v", e.Formula, e.Pos, e.Err)
	}
	return fmt.Sprintf("formula %q at %d: %v: %s", e.Formula, e.Pos, e.Err, e.Detail)
}

func (e *FormulaError) Unwrap() error {
	return e.Err
}
