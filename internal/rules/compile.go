// internal/rules/compile.go
package rules

import (
	"sort"

	"github.com/solatis/abusefilter/internal/types"
)

/*
 * Rule compilation.
 *
 * Compile turns rule source into an immutable Program: a parsed AST plus the
 * metadata the runner needs (referenced variables, static cost).
 *
 * Grammar, lowest precedence first. Binary levels are left-associative
 * except '**', which is right-associative.
 *
 *   or      := xor   ( '|' xor )*
 *   xor     := and   ( '^' and )*
 *   and     := cmp   ( '&' cmp )*
 *   cmp     := add   ( cmpop add )*
 *   cmpop   := == != === !== < <= > >= =~ in contains like matches rlike irlike regex
 *   add     := mul   ( ('+'|'-') mul )*
 *   mul     := pow   ( ('*'|'/'|'%') pow )*
 *   pow     := unary ( '**' pow )?
 *   unary   := ('!'|'-'|'+') unary | postfix
 *   postfix := primary ( '[' or ']' )*
 *   primary := literal | ident | ident '(' args ')' | '(' or ')' | '[' items ']'
 *
 * Compile-time checks: unknown function names, argument counts, nesting
 * depth (MaxNestingDepth) and source length (MaxSourceLength). Variable names
 * are not checked here; a program referencing an unknown variable compiles
 * and fails at evaluation with UnsetVariableError. CheckVariables reports
 * unknown names when a rule is saved.
 *
 * StaticCost is the number of AST nodes plus the registered cost of every
 * call and pattern operator: the cost of a full evaluation when nothing
 * short-circuits.
 */

// Program is a compiled rule.
type Program struct {
	Source     string
	Root       Node
	StaticCost int
	Variables  []string
}

var comparisonOps = map[string]Operator{
	"==":       OpEq,
	"!=":       OpNeq,
	"===":      OpStrictEq,
	"!==":      OpStrictNeq,
	"<":        OpLt,
	"<=":       OpLte,
	">":        OpGt,
	">=":       OpGte,
	"=~":       OpRegex,
	"rlike":    OpRegex,
	"regex":    OpRegex,
	"irlike":   OpIRegex,
	"like":     OpLike,
	"matches":  OpLike,
	"in":       OpIn,
	"contains": OpContains,
}

// Compile parses source into a Program.
func Compile(source string) (*Program, error) {
	toks, err := Lex(source)
	if err != nil {
		return nil, err
	}
	if len(toks) == 1 {
		return nil, &types.SyntaxError{Position: 0, Message: types.ErrEmptyExpression.Error()}
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.Kind != TokEOF {
		if tok.Kind == TokRParen || tok.Kind == TokRBracket {
			return nil, p.errorf(tok, "unbalanced "+tok.Text)
		}
		return nil, p.errorf(tok, "unexpected "+describe(tok))
	}

	prog := &Program{Source: source, Root: root}
	seen := map[string]bool{}
	Walk(root, func(n Node) bool {
		prog.StaticCost += CostNode
		switch t := n.(type) {
		case *VarRef:
			if !seen[t.Name] {
				seen[t.Name] = true
				prog.Variables = append(prog.Variables, t.Name)
			}
		case *Call:
			prog.StaticCost += t.Fn.Cost
		case *Binary:
			if t.Op.matchesPattern() {
				prog.StaticCost += CostRegexOperator
			}
		}
		return true
	})
	sort.Strings(prog.Variables)
	return prog, nil
}

// CheckVariables reports the first variable in prog for which known returns
// false, as a SyntaxError positioned at its first use.
func CheckVariables(prog *Program, known func(name string) bool) error {
	var bad *VarRef
	Walk(prog.Root, func(n Node) bool {
		if bad != nil {
			return false
		}
		if v, ok := n.(*VarRef); ok && !known(v.Name) {
			bad = v
		}
		return true
	})
	if bad != nil {
		return &types.SyntaxError{Position: bad.At, Message: "unrecognised variable " + bad.Name}
	}
	return nil
}

type parser struct {
	toks  []Token
	pos   int
	depth int
}

func (p *parser) peek() Token { return p.toks[p.pos] }

func (p *parser) advance() Token {
	tok := p.toks[p.pos]
	if tok.Kind != TokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok Token, msg string) error {
	return &types.SyntaxError{Position: tok.Pos, Message: msg}
}

func (p *parser) isOp(text string) bool {
	tok := p.peek()
	return tok.Kind == TokOperator && tok.Text == text
}

func (p *parser) enter(tok Token) error {
	p.depth++
	if p.depth > types.MaxNestingDepth {
		return p.errorf(tok, "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) parseOr() (Node, error) {
	return p.parseLeftAssoc(p.parseXor, map[string]Operator{"|": OpOr})
}

func (p *parser) parseXor() (Node, error) {
	return p.parseLeftAssoc(p.parseAnd, map[string]Operator{"^": OpXor})
}

func (p *parser) parseAnd() (Node, error) {
	return p.parseLeftAssoc(p.parseComparison, map[string]Operator{"&": OpAnd})
}

func (p *parser) parseAdditive() (Node, error) {
	return p.parseLeftAssoc(p.parseMultiplicative, map[string]Operator{"+": OpAdd, "-": OpSub})
}

func (p *parser) parseMultiplicative() (Node, error) {
	return p.parseLeftAssoc(p.parsePower, map[string]Operator{"*": OpMul, "/": OpDiv, "%": OpMod})
}

func (p *parser) parseLeftAssoc(next func() (Node, error), ops map[string]Operator) (Node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		op, ok := ops[tok.Text]
		if tok.Kind != TokOperator || !ok {
			return left, nil
		}
		p.advance()
		right, err := next()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right, At: tok.Pos}
	}
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.Kind != TokOperator && tok.Kind != TokKeyword {
			return left, nil
		}
		op, ok := comparisonOps[tok.Text]
		if !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		left = &Binary{Op: op, L: left, R: right, At: tok.Pos}
	}
}

func (p *parser) parsePower() (Node, error) {
	base, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	if !p.isOp("**") {
		return base, nil
	}
	tok := p.advance()
	if err := p.enter(tok); err != nil {
		return nil, err
	}
	defer p.leave()
	exp, err := p.parsePower()
	if err != nil {
		return nil, err
	}
	return &Binary{Op: OpPow, L: base, R: exp, At: tok.Pos}, nil
}

func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.Kind == TokOperator && (tok.Text == "!" || tok.Text == "-" || tok.Text == "+") {
		p.advance()
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		op := OpNot
		switch tok.Text {
		case "-":
			op = OpNeg
		case "+":
			op = OpPlus
		}
		return &Unary{Op: op, X: x, At: tok.Pos}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (Node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peek().Kind == TokLBracket {
		tok := p.advance()
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		idx, err := p.parseOr()
		p.leave()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokRBracket, tok); err != nil {
			return nil, err
		}
		x = &Index{X: x, Index: idx, At: tok.Pos}
	}
	return x, nil
}

func (p *parser) expect(kind TokenKind, open Token) error {
	tok := p.peek()
	if tok.Kind == kind {
		p.advance()
		return nil
	}
	closing := ")"
	if kind == TokRBracket {
		closing = "]"
	}
	if tok.Kind == TokEOF {
		return p.errorf(open, "unbalanced "+open.Text+": missing "+closing)
	}
	return p.errorf(tok, "expected "+closing+", found "+describe(tok))
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.advance()
	switch tok.Kind {
	case TokNumber:
		return &Literal{Value: types.Number(tok.Num), At: tok.Pos}, nil
	case TokString:
		return &Literal{Value: types.String(tok.Text), At: tok.Pos}, nil
	case TokKeyword:
		switch tok.Text {
		case "true":
			return &Literal{Value: types.True, At: tok.Pos}, nil
		case "false":
			return &Literal{Value: types.False, At: tok.Pos}, nil
		case "null":
			return &Literal{Value: types.Null, At: tok.Pos}, nil
		}
		return nil, p.errorf(tok, "unexpected keyword "+tok.Text)
	case TokIdent:
		if p.peek().Kind == TokLParen {
			return p.parseCall(tok)
		}
		return &VarRef{Name: tok.Text, At: tok.Pos}, nil
	case TokLParen:
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		defer p.leave()
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokRParen, tok); err != nil {
			return nil, err
		}
		return x, nil
	case TokLBracket:
		if err := p.enter(tok); err != nil {
			return nil, err
		}
		defer p.leave()
		items, err := p.parseItems(TokRBracket, tok)
		if err != nil {
			return nil, err
		}
		if len(items) > types.MaxListLength {
			return nil, p.errorf(tok, "list literal too long")
		}
		return &ListLit{Items: items, At: tok.Pos}, nil
	case TokEOF:
		return nil, p.errorf(tok, "unexpected end of expression")
	case TokRParen, TokRBracket:
		return nil, p.errorf(tok, "unbalanced "+tok.Text)
	default:
		return nil, p.errorf(tok, "unexpected "+describe(tok))
	}
}

func (p *parser) parseCall(name Token) (Node, error) {
	open := p.advance()
	if err := p.enter(open); err != nil {
		return nil, err
	}
	defer p.leave()
	fn, ok := LookupBuiltin(name.Text)
	if !ok {
		return nil, p.errorf(name, "unknown function "+name.Text)
	}
	args, err := p.parseItems(TokRParen, open)
	if err != nil {
		return nil, err
	}
	if len(args) < fn.MinArgs || (fn.MaxArgs >= 0 && len(args) > fn.MaxArgs) {
		return nil, p.errorf(name, fn.arityMessage(len(args)))
	}
	return &Call{Name: name.Text, Fn: fn, Args: args, At: name.Pos}, nil
}

// parseItems parses a comma-separated list up to the closing token.
// A trailing comma is not allowed.
func (p *parser) parseItems(closing TokenKind, open Token) ([]Node, error) {
	var items []Node
	if p.peek().Kind == closing {
		p.advance()
		return items, nil
	}
	for {
		item, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.peek().Kind == TokComma {
			p.advance()
			continue
		}
		return items, p.expect(closing, open)
	}
}

func describe(tok Token) string {
	switch tok.Kind {
	case TokEOF:
		return "end of expression"
	case TokString:
		return "string literal"
	case TokNumber:
		return "number " + tok.Text
	case TokIdent:
		return "identifier " + tok.Text
	default:
		return "'" + tok.Text + "'"
	}
}
