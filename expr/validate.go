package expr

import "strings"

// ValidateSyntax checks whether an expression string is syntactically valid
// and uses only evaluable constructs. It does not need bindings, so unbound
// variables and division by zero are not reported.
func ValidateSyntax(expression string) error {
	return DefaultConfig.Validate(expression)
}

// Validate parses source and reports the first construct Eval would reject,
// in evaluation order.
func (c Config) Validate(source string) error {
	n, err := c.Parse(source)
	if err != nil {
		return err
	}
	return checkTree(n)
}

func checkTree(n Node) error {
	if isNil(n) {
		return &UnsupportedSyntaxError{}
	}
	switch n := n.(type) {
	case *Literal, *VariableRef:
		return nil
	case *BinaryOp:
		if err := checkTree(n.Left); err != nil {
			return err
		}
		if err := checkTree(n.Right); err != nil {
			return err
		}
		switch n.Op {
		case OpAdd, OpSub, OpMul, OpDiv:
			return nil
		}
		return &UnsupportedOperatorError{Op: n.Op.String()}
	case *UnaryOp:
		if err := checkTree(n.Operand); err != nil {
			return err
		}
		switch n.Op {
		case OpNegate, OpIdentity:
			return nil
		}
		return &UnsupportedOperatorError{Op: strings.TrimSpace(n.Op.String()), Unary: true}
	case *Unsupported:
		return &UnsupportedSyntaxError{Construct: n.Kind}
	default:
		return &UnsupportedSyntaxError{}
	}
}
