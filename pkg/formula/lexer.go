package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
)

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of formula"
	case tokNumber:
		return "number"
	case tokIdent:
		return "variable"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	}
	return "unknown"
}

type token struct {
	kind tokenKind
	pos  int
	text string
	num  decimal.Decimal
}

// tokenize splits src into tokens. Any byte that cannot start a number,
// an identifier or an operator is a syntax error.
func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '+':
			tokens = append(tokens, token{kind: tokPlus, pos: i, text: "+"})
			i++
		case c == '-':
			tokens = append(tokens, token{kind: tokMinus, pos: i, text: "-"})
			i++
		case c == '*':
			tokens = append(tokens, token{kind: tokStar, pos: i, text: "*"})
			i++
		case c == '/':
			tokens = append(tokens, token{kind: tokSlash, pos: i, text: "/"})
			i++
		case c == '(':
			tokens = append(tokens, token{kind: tokLParen, pos: i, text: "("})
			i++
		case c == ')':
			tokens = append(tokens, token{kind: tokRParen, pos: i, text: ")"})
			i++
		case isDigit(c) || c == '.':
			tok, next, err := lexNumber(src, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, tok)
			i = next
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, pos: start, text: src[start:i]})
		default:
			return nil, &FormulaError{
				Formula: src,
				Pos:     i,
				Detail:  fmt.Sprintf("unexpected character %q", c),
				Err:     ErrSyntax,
			}
		}
	}
	tokens = append(tokens, token{kind: tokEOF, pos: len(src)})
	return tokens, nil
}

func lexNumber(src string, start int) (token, int, error) {
	i := start
	digits := 0
	for i < len(src) && isDigit(src[i]) {
		i++
		digits++
	}
	if i < len(src) && src[i] == '.' {
		i++
		for i < len(src) && isDigit(src[i]) {
			i++
			digits++
		}
	}
	// A number running straight into a letter ("2x") or a second point is not a literal.
	if digits == 0 || (i < len(src) && (src[i] == '.' || isIdentStart(src[i]))) {
		return token{}, 0, &FormulaError{
			Formula: src,
			Pos:     start,
			Detail:  "malformed number",
			Err:     ErrSyntax,
		}
	}

	text := src[start:i]
	literal := text
	if literal[0] == '.' {
		literal = "0" + literal
	}
	if literal[len(literal)-1] == '.' {
		literal += "0"
	}
	num, err := decimal.NewFromString(literal)
	if err != nil {
		return token{}, 0, &FormulaError{Formula: src, Pos: start, Detail: err.Error(), Err: ErrSyntax}
	}
	return token{kind: tokNumber, pos: start, text: text, num: num}, i, nil
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
