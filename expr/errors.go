package expr

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorKind classifies input errors.
type ErrorKind int

const (
	KindSyntax ErrorKind = iota + 1
	KindUnboundVariable
	KindUnsupportedOperator
	KindUnsupportedSyntax
	KindDivisionByZero
	KindTooComplex
)

var errorKindCodes = map[ErrorKind]string{
	KindSyntax:              "SYNTAX_ERROR",
	KindUnboundVariable:     "UNBOUND_VARIABLE",
	KindUnsupportedOperator: "UNSUPPORTED_OPERATOR",
	KindUnsupportedSyntax:   "UNSUPPORTED_SYNTAX",
	KindDivisionByZero:      "DIVISION_BY_ZERO",
	KindTooComplex:          "EXPRESSION_TOO_COMPLEX",
}

// Code returns the stable upper-case identifier of the kind, as used in API
// error envelopes and telemetry attributes.
func (k ErrorKind) Code() string {
	if code, ok := errorKindCodes[k]; ok {
		return code
	}
	return "UNKNOWN"
}

func (k ErrorKind) String() string {
	return k.Code()
}

// InputError is an error caused by the expression or its bindings rather than
// by the evaluator itself. Every error returned by Parse and Eval implements
// InputError.
type InputError interface {
	error
	Kind() ErrorKind
}

// Classify reports the kind of err if it is, or wraps, an InputError.
func Classify(err error) (ErrorKind, bool) {
	var ie InputError
	if errors.As(err, &ie) {
		return ie.Kind(), true
	}
	return 0, false
}

// SyntaxError reports source text that is not a single valid expression.
type SyntaxError struct {
	// Line and Col are 1-based; zero when unknown.
	Line int
	Col  int
	Msg  string
}

func (err *SyntaxError) Error() string {
	if err.Line > 0 {
		return fmt.Sprintf("syntax error at %d:%d: %s", err.Line, err.Col, err.Msg)
	}
	return "syntax error: " + err.Msg
}

func (*SyntaxError) Kind() ErrorKind { return KindSyntax }

// UnboundVariableError reports a variable with no entry in the bindings.
type UnboundVariableError struct {
	Name string
}

func (err *UnboundVariableError) Error() string {
	return "undefined variable: " + strconv.Quote(err.Name)
}

func (*UnboundVariableError) Kind() ErrorKind { return KindUnboundVariable }

// UnsupportedOperatorError reports an operator outside + - * / and unary + -.
type UnsupportedOperatorError struct {
	Op    string
	Unary bool
}

func (err *UnsupportedOperatorError) Error() string {
	s := "binary"
	if err.Unary {
		s = "unary"
	}
	return "unsupported " + s + " operator " + strconv.Quote(err.Op)
}

func (*UnsupportedOperatorError) Kind() ErrorKind { return KindUnsupportedOperator }

// UnsupportedSyntaxError reports a construct outside the evaluated grammar.
type UnsupportedSyntaxError struct {
	// Construct is a short description such as "call" or "comparison".
	Construct string
}

func (err *UnsupportedSyntaxError) Error() string {
	if err.Construct == "" {
		return "unsupported syntax"
	}
	return "unsupported syntax: " + err.Construct
}

func (*UnsupportedSyntaxError) Kind() ErrorKind { return KindUnsupportedSyntax }

// TooComplexError reports an expression exceeding a configured limit.
type TooComplexError struct {
	// What is the measured quantity, "depth" or "length".
	What  string
	Limit int
}

func (err *TooComplexError) Error() string {
	switch err.What {
	case "length":
		return "expression too long: limit is " + strconv.Itoa(err.Limit) + " bytes"
	default:
		return "expression too deeply nested: limit is " + strconv.Itoa(err.Limit) + " levels"
	}
}

func (*TooComplexError) Kind() ErrorKind { return KindTooComplex }

type divisionByZero struct{}

func (divisionByZero) Error() string   { return "division by zero" }
func (divisionByZero) Kind() ErrorKind { return KindDivisionByZero }

// ErrDivisionByZero is returned when the divisor of a division is exactly zero.
var ErrDivisionByZero InputError = divisionByZero{}

var (
	_ InputError = (*SyntaxError)(nil)
	_ InputError = (*UnboundVariableError)(nil)
	_ InputError = (*UnsupportedOperatorError)(nil)
	_ InputError = (*UnsupportedSyntaxError)(nil)
	_ InputError = (*TooComplexError)(nil)
)
