package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Program is a compiled expression. It is immutable and safe for concurrent use.
type Program struct {
	src  string
	root node
}

// Compile parses src into a Program.
func Compile(src string) (*Program, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks}
	root, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
	}

	return &Program{src: src, root: root}, nil
}

// Names returns the variable names src refers to, in order of first
// appearance. Keywords and string literals are not names. It works on
// expressions that tokenize but do not parse.
func Names(src string) ([]string, error) {
	toks, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[string]bool)
	for _, tok := range toks {
		if tok.kind == tokIdent && !seen[tok.text] {
			seen[tok.text] = true
			names = append(names, tok.text)
		}
	}
	return names, nil
}

// MustCompile is like Compile but panics on error. Intended for tests and
// package-level literals.
func MustCompile(src string) *Program {
	p, err := Compile(src)
	if err != nil {
		panic(fmt.Sprintf("expr: Compile(%q): %v", src, err))
	}
	return p
}

// String returns the source text.
func (p *Program) String() string { return p.src }

// Eval evaluates the program against vars. Unknown names, type mismatches and
// division by zero are reported as errors.
func (p *Program) Eval(vars map[string]any) (any, error) {
	return p.root.eval(vars)
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) isKeyword(word string) bool {
	tok := p.peek()
	return tok.kind == tokKeyword && tok.text == word
}

func (p *parser) isOp(ops ...string) bool {
	tok := p.peek()
	if tok.kind != tokOp {
		return false
	}
	for _, op := range ops {
		if tok.text == op {
			return true
		}
	}
	return false
}

// parseExpr handles the conditional form: a if cond else b.
func (p *parser) parseExpr() (node, error) {
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("if") {
		return then, nil
	}
	p.next()

	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.isKeyword("else") {
		tok := p.peek()
		return nil, &SyntaxError{Pos: tok.pos, Msg: "expected 'else'"}
	}
	p.next()

	otherwise, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &condNode{cond: cond, then: then, otherwise: otherwise}, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("or") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicNode{and: false, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("and") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &logicNode{and: true, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.isKeyword("not") {
		p.next()
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{operand: operand}, nil
	}
	return p.parseComparison()
}

// parseComparison builds a chain so that a < b < c means a < b and b < c.
func (p *parser) parseComparison() (node, error) {
	first, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if !p.isOp("==", "!=", "<", "<=", ">", ">=") {
		return first, nil
	}

	chain := &compareNode{operands: []node{first}}
	for p.isOp("==", "!=", "<", "<=", ">", ">=") {
		chain.ops = append(chain.ops, p.next().text)
		operand, err := p.parseAdditive()
		if err != nil {
			return nil, err
		}
		chain.operands = append(chain.operands, operand)
	}
	return chain, nil
}

func (p *parser) parseAdditive() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+", "-") {
		op := p.next().text
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseTerm() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*", "/", "//", "%") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.isOp("-", "+") {
		op := p.next().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: op, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		return parseNumber(tok)
	case tokString:
		return &literalNode{value: tok.text}, nil
	case tokIdent:
		return &nameNode{name: tok.text}, nil
	case tokKeyword:
		switch tok.text {
		case "True":
			return &literalNode{value: true}, nil
		case "False":
			return &literalNode{value: false}, nil
		case "None":
			return &literalNode{value: nil}, nil
		}
	case tokOp:
		if tok.text == "(" {
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if !p.isOp(")") {
				return nil, &SyntaxError{Pos: p.peek().pos, Msg: "expected ')'"}
			}
			p.next()
			return inner, nil
		}
	case tokEOF:
		return nil, &SyntaxError{Pos: tok.pos, Msg: "unexpected end of expression"}
	}
	return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("unexpected %q", tok.text)}
}

func parseNumber(tok token) (node, error) {
	if !strings.ContainsAny(tok.text, ".eE") {
		if i, err := strconv.ParseInt(tok.text, 10, 64); err == nil {
			return &literalNode{value: i}, nil
		}
	}
	f, err := strconv.ParseFloat(tok.text, 64)
	if err != nil {
		return nil, &SyntaxError{Pos: tok.pos, Msg: fmt.Sprintf("invalid number %q", tok.text)}
	}
	return &literalNode{value: f}, nil
}
