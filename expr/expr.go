// Package expr implements the small expression language used for
// transition conditions and mapping transforms: boolean and arithmetic
// operators over number/string/bool/null values, with dotted
// identifiers resolving into the execution's variable bindings.
package expr

import (
	"strings"
	"unicode"

	"github.com/juju/errors"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

var twoCharOps = []string{"||", "&&", "==", "!=", "<=", ">="}

func lex(input string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c >= '0' && c <= '9':
			j := i
			for j < len(input) && (input[j] >= '0' && input[j] <= '9' || input[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokNumber, input[i:j], i})
			i = j

		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(input) && input[j] != quote {
				if input[j] == '\\' && j+1 < len(input) {
					j++
				}
				sb.WriteByte(input[j])
				j++
			}
			if j >= len(input) {
				return nil, errors.Errorf("unterminated string at %d", i)
			}
			tokens = append(tokens, token{tokString, sb.String(), i})
			i = j + 1

		case unicode.IsLetter(rune(c)) || c == '_':
			j := i
			for j < len(input) && (unicode.IsLetter(rune(input[j])) ||
				unicode.IsDigit(rune(input[j])) || input[j] == '_' || input[j] == '.') {
				j++
			}
			tokens = append(tokens, token{tokIdent, input[i:j], i})
			i = j

		default:
			matched := false
			if i+1 < len(input) {
				two := input[i : i+2]
				for _, op := range twoCharOps {
					if two == op {
						tokens = append(tokens, token{tokOp, op, i})
						i += 2
						matched = true
						break
					}
				}
			}
			if matched {
				break
			}
			switch c {
			case '<', '>', '+', '-', '*', '/', '%', '!', '(', ')':
				tokens = append(tokens, token{tokOp, string(c), i})
				i++
			default:
				return nil, errors.Errorf("unexpected character %q at %d", c, i)
			}
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(input)})
	return tokens, nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) acceptOp(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokOp {
		return "", false
	}
	for _, op := range ops {
		if t.text == op {
			p.next()
			return op, true
		}
	}
	return "", false
}

// Parse compiles an expression for repeated evaluation.
func Parse(input string) (Expr, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, errors.Trace(err)
	}
	p := &parser{tokens: tokens}
	e, err := p.parseOr()
	if err != nil {
		return nil, errors.Trace(err)
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, errors.Errorf("unexpected token %q at %d", t.text, t.pos)
	}
	return e, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for {
		if _, ok := p.acceptOp("||"); !ok {
			return left, nil
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, errors.Trace(err)
		}
		left = &binaryExpr{op: "||", left: left, right: right}
	}
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for {
		if _, ok := p.acceptOp("&&"); !ok {
			return left, nil
		}
		right, err := p.parseComparison()
		if err != nil {
			return nil, errors.Trace(err)
		}
		left = &binaryExpr{op: "&&", left: left, right: right}
	}
}

func (p *parser) parseComparison() (Expr, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, errors.Trace(err)
	}
	op, ok := p.acceptOp("==", "!=", "<=", ">=", "<", ">")
	if !ok {
		return left, nil
	}
	right, err := p.parseSum()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &binaryExpr{op: op, left: left, right: right}, nil
}

func (p *parser) parseSum() (Expr, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for {
		op, ok := p.acceptOp("+", "-")
		if !ok {
			return left, nil
		}
		right, err := p.parseTerm()
		if err != nil {
			return nil, errors.Trace(err)
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) parseTerm() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for {
		op, ok := p.acceptOp("*", "/", "%")
		if !ok {
			return left, nil
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, errors.Trace(err)
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
}

func (p *parser) parseUnary() (Expr, error) {
	if op, ok := p.acceptOp("!", "-"); ok {
		x, err := p.parseUnary()
		if err != nil {
			return nil, errors.Trace(err)
		}
		return &unaryExpr{op: op, x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literalExpr{parseNumber(t.text)}, nil

	case tokString:
		return &literalExpr{t.text}, nil

	case tokIdent:
		switch t.text {
		case "true":
			return &literalExpr{true}, nil
		case "false":
			return &literalExpr{false}, nil
		case "null":
			return &literalExpr{nil}, nil
		}
		return &identExpr{path: strings.Split(t.text, ".")}, nil

	case tokOp:
		if t.text == "(" {
			e, err := p.parseOr()
			if err != nil {
				return nil, errors.Trace(err)
			}
			if _, ok := p.acceptOp(")"); !ok {
				return nil, errors.Errorf("missing closing parenthesis at %d", p.peek().pos)
			}
			return e, nil
		}
	}
	return nil, errors.Errorf("unexpected token %q at %d", t.text, t.pos)
}
