// Package formula evaluates the arithmetic expressions used in voucher
// templates. The grammar is closed: numeric literals, variable names,
// + - * /, unary minus and parentheses.
//
//	expr   = term { ("+" | "-") term }
//	term   = unary { ("*" | "/") unary }
//	unary  = "-" unary | primary
//	primary = number | ident | "(" expr ")"
package formula

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/mailvoucher/pkg/api"
	"github.com/ArionMiles/mailvoucher/pkg/money"
)

// maxDepth bounds parenthesis and unary nesting.
const maxDepth = 64

// Expr is a parsed formula ready for evaluation.
type Expr struct {
	src  string
	root node
}

type node interface {
	eval(src string, vars map[string]decimal.Decimal) (decimal.Decimal, error)
	collect(names map[string]struct{})
}

type numberNode struct {
	val decimal.Decimal
}

type varNode struct {
	name string
	pos  int
}

type negNode struct {
	operand node
}

type binaryNode struct {
	op          tokenKind
	pos         int
	left, right node
}

// Parse compiles src. It fails with a *FormulaError wrapping ErrSyntax.
func Parse(src string) (*Expr, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{src: src, tokens: tokens}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, p.errorf(tok, "unexpected %s", tok.kind)
	}

	return &Expr{src: src, root: root}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text of the formula.
func (e *Expr) String() string {
	return e.src
}

// Eval computes the formula against vars with exact decimal arithmetic.
// The result is not rounded.
func (e *Expr) Eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	return e.root.eval(e.src, vars)
}

// Vars returns the sorted, de-duplicated variable names the formula references.
func (e *Expr) Vars() []string {
	set := make(map[string]struct{})
	e.root.collect(set)
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate parses and evaluates src, rounding the result to two places.
func Evaluate(src string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	e, err := Parse(src)
	if err != nil {
		return decimal.Zero, err
	}
	v, err := e.Eval(vars)
	if err != nil {
		return decimal.Zero, err
	}
	return money.Round(v), nil
}

func (n numberNode) eval(string, map[string]decimal.Decimal) (decimal.Decimal, error) {
	return n.val, nil
}

func (n numberNode) collect(map[string]struct{}) {}

func (n varNode) eval(src string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, ok := vars[n.name]
	if !ok {
		return decimal.Zero, &FormulaError{Formula: src, Pos: n.pos, Detail: n.name, Err: ErrUndefinedVariable}
	}
	return v, nil
}

func (n varNode) collect(names map[string]struct{}) {
	names[n.name] = struct{}{}
}

func (n negNode) eval(src string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, err := n.operand.eval(src, vars)
	if err != nil {
		return decimal.Zero, err
	}
	return v.Neg(), nil
}

func (n negNode) collect(names map[string]struct{}) {
	n.operand.collect(names)
}

func (n binaryNode) eval(src string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	l, err := n.left.eval(src, vars)
	if err != nil {
		return decimal.Zero, err
	}
	r, err := n.right.eval(src, vars)
	if err != nil {
		return decimal.Zero, err
	}

	switch n.op {
	case tokPlus:
		return l.Add(r), nil
	case tokMinus:
		return l.Sub(r), nil
	case tokStar:
		return l.Mul(r), nil
	case tokSlash:
		if r.IsZero() {
			return decimal.Zero, &FormulaError{Formula: src, Pos: n.pos, Err: ErrDivisionByZero}
		}
		return l.Div(r), nil
	}
	return decimal.Zero, &FormulaError{Formula: src, Pos: n.pos, Detail: fmt.Sprintf("operator %s", n.op), Err: ErrSyntax}
}

func (n binaryNode) collect(names map[string]struct{}) {
	n.left.collect(names)
	n.right.collect(names)
}

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...any) error {
	return &FormulaError{
		Formula: p.src,
		Pos:     tok.pos,
		Detail:  fmt.Sprintf(format, args...),
		Err:     ErrSyntax,
	}
}

func (p *parser) parseExpr(depth int) (node, error) {
	left, err := p.parseTerm(depth)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokPlus && tok.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.kind, pos: tok.pos, left: left, right: right}
	}
}

func (p *parser) parseTerm(depth int) (node, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokStar && tok.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: tok.kind, pos: tok.pos, left: left, right: right}
	}
}

func (p *parser) parseUnary(depth int) (node, error) {
	if depth > maxDepth {
		return nil, p.errorf(p.peek(), "nesting deeper than %d", maxDepth)
	}
	if tok := p.peek(); tok.kind == tokMinus {
		p.next()
		operand, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return negNode{operand: operand}, nil
	}
	return p.parsePrimary(depth)
}

func (p *parser) parsePrimary(depth int) (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return numberNode{val: tok.num}, nil
	case tokIdent:
		return varNode{name: tok.text, pos: tok.pos}, nil
	case tokLParen:
		inner, err := p.parseExpr(depth + 1)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ')' but found %s", closing.kind)
		}
		return inner, nil
	case tokEOF:
		return nil, p.errorf(tok, "unexpected end of formula")
	}
	return nil, p.errorf(tok, "unexpected %s", tok.kind)
}

// EvaluateAmount resolves a template amount. Literals are only rounded.
func EvaluateAmount(a api.Amount, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	if !a.IsFormula() {
		return money.Round(a.Literal), nil
	}
	return Evaluate(a.Formula, vars)
}
