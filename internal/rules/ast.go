// internal/rules/ast.go
package rules

import "github.com/solatis/abusefilter/internal/types"

/*
 * Abstract syntax tree.
 *
 * Nodes are immutable after Compile returns; a Program may be evaluated
 * concurrently by any number of goroutines. Every node carries the byte
 * offset of the token that introduced it so runtime errors can point back
 * into the source.
 */

// Operator identifies a unary or binary operator.
type Operator int

const (
	OpUnspecified Operator = iota
	OpOr
	OpXor
	OpAnd
	OpEq
	OpNeq
	OpStrictEq
	OpStrictNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpRegex
	OpIRegex
	OpLike
	OpIn
	OpContains
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpPow
	OpNot
	OpNeg
	OpPlus
)

var operatorNames = map[Operator]string{
	OpOr: "|", OpXor: "^", OpAnd: "&",
	OpEq: "==", OpNeq: "!=", OpStrictEq: "===", OpStrictNeq: "!==",
	OpLt: "<", OpLte: "<=", OpGt: ">", OpGte: ">=",
	OpRegex: "rlike", OpIRegex: "irlike", OpLike: "like",
	OpIn: "in", OpContains: "contains",
	OpAdd: "+", OpSub: "-", OpMul: "*", OpDiv: "/", OpMod: "%", OpPow: "**",
	OpNot: "!", OpNeg: "-", OpPlus: "+",
}

func (op Operator) String() string {
	if s, ok := operatorNames[op]; ok {
		return s
	}
	return "?"
}

// Node is an AST node.
type Node interface {
	Pos() int
}

// Literal is a constant value.
type Literal struct {
	Value types.Value
	At    int
}

// VarRef reads a variable from the store.
type VarRef struct {
	Name string
	At   int
}

// Unary applies a prefix operator.
type Unary struct {
	Op Operator
	X  Node
	At int
}

// Binary applies an infix operator.
type Binary struct {
	Op   Operator
	L, R Node
	At   int
}

// Call invokes a builtin function.
type Call struct {
	Name string
	Fn   *Builtin
	Args []Node
	At   int
}

// ListLit builds a list from its items.
type ListLit struct {
	Items []Node
	At    int
}

// Index reads one element of a list.
type Index struct {
	X     Node
	Index Node
	At    int
}

func (n *Literal) Pos() int { return n.At }
func (n *VarRef) Pos() int  { return n.At }
func (n *Unary) Pos() int   { return n.At }
func (n *Binary) Pos() int  { return n.At }
func (n *Call) Pos() int    { return n.At }
func (n *ListLit) Pos() int { return n.At }
func (n *Index) Pos() int   { return n.At }

// Walk visits n and its children depth-first, stopping descent when fn returns false.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	switch t := n.(type) {
	case *Unary:
		Walk(t.X, fn)
	case *Binary:
		Walk(t.L, fn)
		Walk(t.R, fn)
	case *Call:
		for _, a := range t.Args {
			Walk(a, fn)
		}
	case *ListLit:
		for _, it := range t.Items {
			Walk(it, fn)
		}
	case *Index:
		Walk(t.X, fn)
		Walk(t.Index, fn)
	}
}
