// Package expr implements the integer expression language used by NEM task
// graphs for region offsets, extents, slot selectors, resource indices and
// opcode attributes, e.g. "(i mod K) * 4096" or "i mod 4".
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Expr is an evaluable integer expression node.
type Expr interface {
	Eval(env Env) (int64, error)
	String() string
}

// Env binds identifiers to integer values.
type Env map[string]int64

// With returns a copy of env extended with name=value.
func (e Env) With(name string, value int64) Env {
	out := make(Env, len(e)+1)
	for k, v := range e {
		out[k] = v
	}

	out[name] = value

	return out
}

// EvalError is raised when evaluation fails (unknown identifier, division by zero).
type EvalError struct {
	Expr    string
	Message string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluate %q: %s", e.Expr, e.Message)
}

// Int is an integer literal.
type Int struct{ Value int64 }

func (n Int) Eval(Env) (int64, error) { return n.Value, nil }
func (n Int) String() string          { return strconv.FormatInt(n.Value, 10) }

// Ident is an identifier reference.
type Ident struct{ Name string }

func (n Ident) Eval(env Env) (int64, error) {
	v, ok := env[n.Name]
	if !ok {
		return 0, &EvalError{Expr: n.Name, Message: fmt.Sprintf("undeclared identifier %s", n.Name)}
	}

	return v, nil
}

func (n Ident) String() string { return n.Name }

// Neg is unary minus.
type Neg struct{ X Expr }

func (n Neg) Eval(env Env) (int64, error) {
	v, err := n.X.Eval(env)
	if err != nil {
		return 0, err
	}

	return -v, nil
}

func (n Neg) String() string { return "-" + n.X.String() }

// Binary is a binary operation; Op is one of + - * / mod.
type Binary struct {
	Left  Expr
	Right Expr
	Op    string
}

func (n Binary) Eval(env Env) (int64, error) {
	l, err := n.Left.Eval(env)
	if err != nil {
		return 0, err
	}

	r, err := n.Right.Eval(env)
	if err != nil {
		return 0, err
	}

	switch n.Op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return 0, &EvalError{Expr: n.String(), Message: "division by zero"}
		}

		return l / r, nil
	case "mod":
		if r == 0 {
			return 0, &EvalError{Expr: n.String(), Message: "division by zero"}
		}

		return FloorMod(l, r), nil
	default:
		return 0, &EvalError{Expr: n.String(), Message: fmt.Sprintf("unknown operator %q", n.Op)}
	}
}

func (n Binary) String() string {
	return "(" + n.Left.String() + " " + n.Op + " " + n.Right.String() + ")"
}

// FloorMod returns a mod b with the sign of b, so a non-negative result for
// any positive modulus.
func FloorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}

	return m
}

// Parse parses an expression. The empty string is a parse error.
func Parse(src string) (Expr, error) {
	p := &parser{src: src}
	p.next()

	if p.tok.kind == tokEOF {
		return nil, fmt.Errorf("parse %q: empty expression", src)
	}

	e, err := p.parseSum()
	if err != nil {
		return nil, err
	}

	if p.tok.kind != tokEOF {
		return nil, p.errorf("unexpected %q", p.tok.text)
	}

	return e, nil
}

// MustParse is like Parse but panics on error; intended for tests and tables.
func MustParse(src string) Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}

	return e
}

// Eval parses and evaluates src in env.
func Eval(src string, env Env) (int64, error) {
	e, err := Parse(src)
	if err != nil {
		return 0, err
	}

	return e.Eval(env)
}

// EvalOr evaluates src, returning def when src is blank.
func EvalOr(src string, def int64, env Env) (int64, error) {
	if strings.TrimSpace(src) == "" {
		return def, nil
	}

	return Eval(src, env)
}

type tokKind int

const (
	tokEOF tokKind = iota
	tokInt
	tokIdent
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	text string
	kind tokKind
	pos  int
}

type parser struct {
	src string
	tok token
	off int
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("parse %q at %d: %s", p.src, p.tok.pos, fmt.Sprintf(format, args...))
}

func (p *parser) next() {
	for p.off < len(p.src) && (p.src[p.off] == ' ' || p.src[p.off] == '\t') {
		p.off++
	}

	start := p.off
	if p.off >= len(p.src) {
		p.tok = token{kind: tokEOF, pos: start}
		return
	}

	c := p.src[p.off]

	switch {
	case c >= '0' && c <= '9':
		for p.off < len(p.src) && (isDigit(p.src[p.off]) || p.src[p.off] == '_' || p.src[p.off] == 'x' ||
			(p.off > start && isHex(p.src[p.off]))) {
			p.off++
		}

		p.tok = token{kind: tokInt, text: p.src[start:p.off], pos: start}
	case isIdentStart(c):
		for p.off < len(p.src) && (isIdentStart(p.src[p.off]) || isDigit(p.src[p.off])) {
			p.off++
		}

		text := p.src[start:p.off]
		if text == "mod" {
			p.tok = token{kind: tokOp, text: text, pos: start}
		} else {
			p.tok = token{kind: tokIdent, text: text, pos: start}
		}
	case c == '(':
		p.off++
		p.tok = token{kind: tokLParen, text: "(", pos: start}
	case c == ')':
		p.off++
		p.tok = token{kind: tokRParen, text: ")", pos: start}
	case c == '%':
		p.off++
		p.tok = token{kind: tokOp, text: "mod", pos: start}
	default:
		p.off++
		p.tok = token{kind: tokOp, text: string(c), pos: start}
	}
}

func (p *parser) parseSum() (Expr, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}

	for p.tok.kind == tokOp && (p.tok.text == "+" || p.tok.text == "-") {
		op := p.tok.text
		p.next()

		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}

		left = Binary{Op: op, Left: left, Right: right}
	}

	return left, nil
}

func (p *parser) parseProduct() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for p.tok.kind == tokOp && (p.tok.text == "*" || p.tok.text == "/" || p.tok.text == "mod") {
		op := p.tok.text
		p.next()

		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		left = Binary{Op: op, Left: left, Right: right}
	}

	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.tok.kind == tokOp && p.tok.text == "-" {
		p.next()

		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return Neg{X: x}, nil
	}

	if p.tok.kind == tokOp && p.tok.text == "+" {
		p.next()
		return p.parseUnary()
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	switch p.tok.kind {
	case tokInt:
		text := strings.ReplaceAll(p.tok.text, "_", "")

		v, err := strconv.ParseInt(text, 0, 64)
		if err != nil {
			return nil, p.errorf("bad integer literal %q", p.tok.text)
		}

		p.next()

		return Int{Value: v}, nil
	case tokIdent:
		name := p.tok.text
		p.next()

		return Ident{Name: name}, nil
	case tokLParen:
		p.next()

		e, err := p.parseSum()
		if err != nil {
			return nil, err
		}

		if p.tok.kind != tokRParen {
			return nil, p.errorf("expected ')'")
		}

		p.next()

		return e, nil
	case tokEOF:
		return nil, p.errorf("unexpected end of expression")
	default:
		if p.tok.text == "." {
			return nil, p.errorf("float literals are not allowed in integer expressions")
		}

		return nil, p.errorf("unexpected %q", p.tok.text)
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool { return (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') }

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
