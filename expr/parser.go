package expr

import (
	"errors"
	"math/big"
	"strings"

	"go.starlark.net/syntax"
)

const (
	// DefaultMaxDepth bounds the nesting of a syntax tree.
	DefaultMaxDepth = 200
	// DefaultMaxSourceLen bounds the length of source text in bytes.
	DefaultMaxSourceLen = 4096
)

// Config holds the limits applied by Parse and Eval. The zero value uses the
// defaults.
type Config struct {
	// MaxDepth is the deepest tree accepted. Each operator and each
	// parenthesized group counts as one level.
	MaxDepth int
	// MaxSourceLen is the longest source accepted, in bytes.
	MaxSourceLen int
}

// DefaultConfig is used by the package-level functions.
var DefaultConfig = Config{
	MaxDepth:     DefaultMaxDepth,
	MaxSourceLen: DefaultMaxSourceLen,
}

func (c Config) maxDepth() int {
	if c.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return c.MaxDepth
}

func (c Config) maxSourceLen() int {
	if c.MaxSourceLen <= 0 {
		return DefaultMaxSourceLen
	}
	return c.MaxSourceLen
}

// sourceName appears in positions reported by the Starlark scanner.
const sourceName = "expression"

// Parse parses source as a single expression using DefaultConfig.
func Parse(source string) (Node, error) {
	return DefaultConfig.Parse(source)
}

// Parse parses source as a single expression. Statements, assignments and
// multiple expressions are syntax errors. Constructs outside the evaluated
// grammar are kept in the tree as *Unsupported nodes so that Eval can reject
// them.
func (c Config) Parse(source string) (Node, error) {
	if len(source) > c.maxSourceLen() {
		return nil, &TooComplexError{What: "length", Limit: c.maxSourceLen()}
	}
	src := strings.TrimSpace(source)
	if src == "" {
		return nil, &SyntaxError{Msg: "empty expression"}
	}

	opts := &syntax.FileOptions{}
	tree, err := opts.ParseExpr(sourceName, src, 0)
	if err != nil {
		return nil, syntaxError(err)
	}

	cv := converter{limit: c.maxDepth()}
	return cv.convert(tree, 1)
}

func syntaxError(err error) error {
	var se syntax.Error
	if errors.As(err, &se) {
		return &SyntaxError{
			Line: int(se.Pos.Line),
			Col:  int(se.Pos.Col),
			Msg:  se.Msg,
		}
	}
	return &SyntaxError{Msg: err.Error()}
}

// converter maps Starlark syntax nodes onto the closed Node set.
type converter struct {
	limit int
}

func (cv *converter) convert(e syntax.Expr, depth int) (Node, error) {
	if depth > cv.limit {
		return nil, &TooComplexError{What: "depth", Limit: cv.limit}
	}

	switch n := e.(type) {
	case *syntax.Literal:
		return convertLiteral(n), nil

	case *syntax.Ident:
		return &VariableRef{Name: n.Name}, nil

	case *syntax.ParenExpr:
		return cv.convert(n.X, depth+1)

	case *syntax.BinaryExpr:
		op, ok := binaryOperator(n.Op)
		if !ok {
			return &Unsupported{Kind: binaryConstruct(n.Op)}, nil
		}
		left, err := cv.convert(n.X, depth+1)
		if err != nil {
			return nil, err
		}
		right, err := cv.convert(n.Y, depth+1)
		if err != nil {
			return nil, err
		}
		return &BinaryOp{Op: op, Left: left, Right: right}, nil

	case *syntax.UnaryExpr:
		op, ok := unaryOperator(n.Op)
		if !ok || n.X == nil {
			return &Unsupported{Kind: "unary " + n.Op.String()}, nil
		}
		operand, err := cv.convert(n.X, depth+1)
		if err != nil {
			return nil, err
		}
		return &UnaryOp{Op: op, Operand: operand}, nil

	case *syntax.CallExpr:
		return &Unsupported{Kind: "call"}, nil
	case *syntax.DotExpr:
		return &Unsupported{Kind: "attribute access"}, nil
	case *syntax.IndexExpr:
		return &Unsupported{Kind: "subscript"}, nil
	case *syntax.SliceExpr:
		return &Unsupported{Kind: "slice"}, nil
	case *syntax.ListExpr:
		return &Unsupported{Kind: "list"}, nil
	case *syntax.DictExpr:
		return &Unsupported{Kind: "dict"}, nil
	case *syntax.TupleExpr:
		return &Unsupported{Kind: "tuple"}, nil
	case *syntax.Comprehension:
		return &Unsupported{Kind: "comprehension"}, nil
	case *syntax.CondExpr:
		return &Unsupported{Kind: "conditional expression"}, nil
	case *syntax.LambdaExpr:
		return &Unsupported{Kind: "lambda"}, nil
	default:
		return &Unsupported{Kind: "expression"}, nil
	}
}

// convertLiteral turns numeric literals into Literal nodes. String and bytes
// literals are unsupported.
func convertLiteral(n *syntax.Literal) Node {
	switch v := n.Value.(type) {
	case int64:
		return &Literal{Value: float64(v)}
	case *big.Int:
		f, _ := new(big.Float).SetInt(v).Float64()
		return &Literal{Value: f}
	case float64:
		return &Literal{Value: v}
	case string:
		if n.Token == syntax.BYTES {
			return &Unsupported{Kind: "bytes literal"}
		}
		return &Unsupported{Kind: "string literal"}
	default:
		return &Unsupported{Kind: "literal"}
	}
}

func binaryOperator(tok syntax.Token) (BinaryOperator, bool) {
	switch tok {
	case syntax.PLUS:
		return OpAdd, true
	case syntax.MINUS:
		return OpSub, true
	case syntax.STAR:
		return OpMul, true
	case syntax.SLASH:
		return OpDiv, true
	case syntax.PERCENT:
		return OpMod, true
	case syntax.SLASHSLASH:
		return OpFloorDiv, true
	case syntax.PIPE:
		return OpBitOr, true
	case syntax.CIRCUMFLEX:
		return OpBitXor, true
	case syntax.AMP:
		return OpBitAnd, true
	case syntax.LTLT:
		return OpShl, true
	case syntax.GTGT:
		return OpShr, true
	default:
		return 0, false
	}
}

// binaryConstruct names binary forms that are not arithmetic at all.
func binaryConstruct(tok syntax.Token) string {
	switch tok {
	case syntax.EQL, syntax.NEQ, syntax.LT, syntax.GT, syntax.LE, syntax.GE:
		return "comparison"
	case syntax.IN, syntax.NOT_IN:
		return "membership test"
	case syntax.AND, syntax.OR:
		return "boolean operation"
	default:
		return "binary " + tok.String()
	}
}

func unaryOperator(tok syntax.Token) (UnaryOperator, bool) {
	switch tok {
	case syntax.MINUS:
		return OpNegate, true
	case syntax.PLUS:
		return OpIdentity, true
	case syntax.TILDE:
		return OpInvert, true
	case syntax.NOT:
		return OpNot, true
	default:
		return 0, false
	}
}
