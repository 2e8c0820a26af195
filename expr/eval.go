package expr

import (
	"sort"
	"strings"
)

// Bindings maps variable names to values. Lookups are exact-match.
type Bindings map[string]float64

// Eval evaluates a tree against vars using DefaultConfig.
func Eval(n Node, vars Bindings) (float64, error) {
	return DefaultConfig.Eval(n, vars)
}

// EvalString parses and evaluates source using DefaultConfig.
func EvalString(source string, vars Bindings) (float64, error) {
	return DefaultConfig.EvalString(source, vars)
}

// Eval evaluates a tree against vars. Operands are evaluated left to right
// and the first failure is returned. A nil vars behaves as an empty table.
func (c Config) Eval(n Node, vars Bindings) (float64, error) {
	ev := &evaluator{vars: vars, limit: c.maxDepth()}
	return ev.eval(n, 1)
}

// EvalString parses source and evaluates the result against vars.
func (c Config) EvalString(source string, vars Bindings) (float64, error) {
	n, err := c.Parse(source)
	if err != nil {
		return 0, err
	}
	return c.Eval(n, vars)
}

type evaluator struct {
	vars  Bindings
	limit int
}

func (ev *evaluator) eval(n Node, depth int) (float64, error) {
	if depth > ev.limit {
		return 0, &TooComplexError{What: "depth", Limit: ev.limit}
	}

	if isNil(n) {
		return 0, &UnsupportedSyntaxError{}
	}

	switch n := n.(type) {
	case *Literal:
		return n.Value, nil

	case *VariableRef:
		v, ok := ev.vars[n.Name]
		if !ok {
			return 0, &UnboundVariableError{Name: n.Name}
		}
		return v, nil

	case *BinaryOp:
		left, err := ev.eval(n.Left, depth+1)
		if err != nil {
			return 0, err
		}
		right, err := ev.eval(n.Right, depth+1)
		if err != nil {
			return 0, err
		}
		return Apply(n.Op, left, right)

	case *UnaryOp:
		x, err := ev.eval(n.Operand, depth+1)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case OpNegate:
			return -x, nil
		case OpIdentity:
			return x, nil
		default:
			return 0, &UnsupportedOperatorError{Op: strings.TrimSpace(n.Op.String()), Unary: true}
		}

	case *Unsupported:
		return 0, &UnsupportedSyntaxError{Construct: n.Kind}

	default:
		return 0, &UnsupportedSyntaxError{}
	}
}

// Apply performs one of the four basic arithmetic operations. A zero divisor
// yields ErrDivisionByZero; the check precedes operator dispatch, so it
// applies to OpDiv only.
func Apply(op BinaryOperator, a, b float64) (float64, error) {
	if op == OpDiv && b == 0 {
		return 0, ErrDivisionByZero
	}
	switch op {
	case OpAdd:
		return a + b, nil
	case OpSub:
		return a - b, nil
	case OpMul:
		return a * b, nil
	case OpDiv:
		return a / b, nil
	default:
		return 0, &UnsupportedOperatorError{Op: op.String()}
	}
}

// Variables returns the distinct variable names referenced by n, sorted.
func Variables(n Node) []string {
	seen := make(map[string]struct{})
	walk(n, func(n Node) {
		if ref, ok := n.(*VariableRef); ok {
			seen[ref.Name] = struct{}{}
		}
	})
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Depth returns the height of the tree rooted at n. A single leaf has depth 1.
func Depth(n Node) int {
	if isNil(n) {
		return 0
	}
	switch n := n.(type) {
	case *BinaryOp:
		return 1 + max(Depth(n.Left), Depth(n.Right))
	case *UnaryOp:
		return 1 + Depth(n.Operand)
	default:
		return 1
	}
}

// isNil reports whether n is nil or a typed nil pointer to a known variant.
func isNil(n Node) bool {
	switch n := n.(type) {
	case nil:
		return true
	case *Literal:
		return n == nil
	case *VariableRef:
		return n == nil
	case *BinaryOp:
		return n == nil
	case *UnaryOp:
		return n == nil
	case *Unsupported:
		return n == nil
	}
	return false
}

func walk(n Node, fn func(Node)) {
	if isNil(n) {
		return
	}
	fn(n)
	switch n := n.(type) {
	case *BinaryOp:
		walk(n.Left, fn)
		walk(n.Right, fn)
	case *UnaryOp:
		walk(n.Operand, fn)
	}
}
