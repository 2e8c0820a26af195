// Package expr provides a minimal, safe arithmetic expression language.
//
// Source text is parsed with Starlark's Python-dialect expression grammar and
// converted into a closed tree of Node values. Only numeric literals,
// variables, the binary operators + - * / and unary + - are evaluated; every
// other construct parses into a node that the evaluator rejects. Parsing and
// evaluation are stateless and side-effect-free.
package expr

import (
	"strconv"
	"strings"
)

// Node is implemented by every syntax tree variant. The set of variants is
// closed: Literal, VariableRef, BinaryOp, UnaryOp and Unsupported.
type Node interface {
	node() // marker method
	String() string
}

// Literal is a numeric constant. Integral literals are stored as float64 too.
type Literal struct {
	Value float64
}

// VariableRef is a bare identifier resolved against the bindings at
// evaluation time.
type VariableRef struct {
	Name string
}

// BinaryOp is a two-operand operation.
type BinaryOp struct {
	Op    BinaryOperator
	Left  Node
	Right Node
}

// UnaryOp is a prefix operation.
type UnaryOp struct {
	Op      UnaryOperator
	Operand Node
}

// Unsupported stands in for any construct the grammar accepts but the
// evaluator does not, e.g. calls or comparisons. Kind names the construct.
type Unsupported struct {
	Kind string
}

func (*Literal) node()     {}
func (*VariableRef) node() {}
func (*BinaryOp) node()    {}
func (*UnaryOp) node()     {}
func (*Unsupported) node() {}

func (n *Literal) String() string {
	return strconv.FormatFloat(n.Value, 'g', -1, 64)
}

func (n *VariableRef) String() string {
	return n.Name
}

func (n *BinaryOp) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(nodeString(n.Left))
	b.WriteByte(' ')
	b.WriteString(n.Op.String())
	b.WriteByte(' ')
	b.WriteString(nodeString(n.Right))
	b.WriteByte(')')
	return b.String()
}

func (n *UnaryOp) String() string {
	return "(" + n.Op.String() + nodeString(n.Operand) + ")"
}

func (n *Unsupported) String() string {
	return "<" + n.Kind + ">"
}

func nodeString(n Node) string {
	if n == nil {
		return "<nil>"
	}
	return n.String()
}

// BinaryOperator identifies a binary operator. Only OpAdd, OpSub, OpMul and
// OpDiv are evaluated; the rest exist so that rejected operators can be
// reported by name.
type BinaryOperator int

const (
	OpAdd BinaryOperator = iota + 1 // +
	OpSub                           // -
	OpMul                           // *
	OpDiv                           // /

	OpMod      // %
	OpFloorDiv // //
	OpBitOr    // |
	OpBitXor   // ^
	OpBitAnd   // &
	OpShl      // <<
	OpShr      // >>
)

var binaryOperatorNames = [...]string{
	OpAdd:      "+",
	OpSub:      "-",
	OpMul:      "*",
	OpDiv:      "/",
	OpMod:      "%",
	OpFloorDiv: "//",
	OpBitOr:    "|",
	OpBitXor:   "^",
	OpBitAnd:   "&",
	OpShl:      "<<",
	OpShr:      ">>",
}

func (op BinaryOperator) String() string {
	if op > 0 && int(op) < len(binaryOperatorNames) {
		return binaryOperatorNames[op]
	}
	return "binop(" + strconv.Itoa(int(op)) + ")"
}

// UnaryOperator identifies a prefix operator. Only OpNegate and OpIdentity
// are evaluated.
type UnaryOperator int

const (
	OpNegate   UnaryOperator = iota + 1 // -
	OpIdentity                          // +
	OpInvert                            // ~
	OpNot                               // not
)

func (op UnaryOperator) String() string {
	switch op {
	case OpNegate:
		return "-"
	case OpIdentity:
		return "+"
	case OpInvert:
		return "~"
	case OpNot:
		return "not "
	default:
		return "unop(" + strconv.Itoa(int(op)) + ")"
	}
}
