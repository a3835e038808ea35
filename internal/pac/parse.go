package pac

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

const entryFunction = "FindProxyForURL"

type parser struct {
	src    string
	tokens []token
	pos    int
	params [2]string
	opts   Options

	clauses    []Clause
	def        *Directive
	terminated bool
}

// guard is the conjunction of enclosing if-conditions. A nil cond means the
// statement is reached unconditionally.
type guard struct {
	cond boolNode
	text string
}

func (g guard) and(cond boolNode, text string) guard {
	if g.cond == nil {
		return guard{cond: cond, text: text}
	}
	return guard{cond: andNode{left: g.cond, right: cond}, text: g.text + " && " + text}
}

func (p *parser) parseScript() error {
	if p.peekIdent("function") {
		if err := p.parseFunction(); err != nil {
			return err
		}
		for p.peekPunct(";") {
			p.pos++
		}
		if tok := p.peek(); tok.kind != tokEOF {
			return p.errorAt(tok, "unexpected content after %s", entryFunction)
		}
		return nil
	}

	for p.peek().kind != tokEOF {
		if err := p.parseStatement(guard{}); err != nil {
			return err
		}
	}
	return nil
}

func (p *parser) parseFunction() error {
	p.pos++
	name, err := p.expectIdent()
	if err != nil {
		return err
	}
	if name.text != entryFunction {
		return p.errorAt(name, "expected function %s, found %s", entryFunction, name.text)
	}
	if _, err := p.expectPunct("("); err != nil {
		return err
	}
	for i := range p.params {
		if i > 0 {
			if _, err := p.expectPunct(","); err != nil {
				return err
			}
		}
		tok, err := p.expectIdent()
		if err != nil {
			return err
		}
		p.params[i] = tok.text
	}
	if _, err := p.expectPunct(")"); err != nil {
		return err
	}
	return p.parseBlock(guard{})
}

func (p *parser) parseBlock(g guard) error {
	if _, err := p.expectPunct("{"); err != nil {
		return err
	}
	for !p.peekPunct("}") {
		if p.peek().kind == tokEOF {
			return p.errorAt(p.peek(), "missing closing brace")
		}
		if err := p.parseStatement(g); err != nil {
			return err
		}
	}
	p.pos++
	return nil
}

func (p *parser) parseStatement(g guard) error {
	tok := p.peek()
	switch {
	case tok.kind == tokPunct && tok.text == ";":
		p.pos++
		return nil
	case tok.kind == tokPunct && tok.text == "{":
		return p.parseBlock(g)
	case tok.kind == tokIdent && tok.text == "if":
		return p.parseIf(g)
	case tok.kind == tokIdent && tok.text == "return":
		return p.parseReturn(g)
	default:
		return p.errorAt(tok, "unsupported statement")
	}
}

func (p *parser) parseIf(g guard) error {
	p.pos++
	if _, err := p.expectPunct("("); err != nil {
		return err
	}
	start := p.peek()
	expr, err := p.parseExpr()
	if err != nil {
		return err
	}
	closing, err := p.expectPunct(")")
	if err != nil {
		return err
	}
	cond, err := p.asBool(expr, start)
	if err != nil {
		return err
	}
	text := strings.Join(strings.Fields(p.src[start.offset:closing.offset]), " ")

	if err := p.parseStatement(g.and(cond, "("+text+")")); err != nil {
		return err
	}
	if p.peekIdent("else") {
		p.pos++
		return p.parseStatement(g.and(notNode{x: cond}, "!("+text+")"))
	}
	return nil
}

func (p *parser) parseReturn(g guard) error {
	ret := p.peek()
	p.pos++
	tok := p.peek()
	if tok.kind != tokString {
		return p.errorAt(tok, "return value must be a string literal")
	}
	p.pos++
	if p.peekPunct(";") {
		p.pos++
	}

	directive, err := ParseDirective(tok.text)
	if err != nil {
		return &MalformedRuleError{
			Line:    tok.line,
			Column:  tok.column,
			Snippet: snippet(tok.text),
			Message: "invalid proxy directive",
			Cause:   err,
		}
	}

	if p.terminated {
		return nil
	}
	if g.cond == nil {
		p.def = &directive
		p.terminated = true
		return nil
	}
	p.clauses = append(p.clauses, Clause{
		Line:      ret.line,
		Condition: g.text,
		Directive: directive,
		cond:      g.cond,
	})
	return nil
}

func (p *parser) parseExpr() (node, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (node, error) {
	return p.parseLogical("||", p.parseAnd, func(l, r boolNode) boolNode { return orNode{left: l, right: r} })
}

func (p *parser) parseAnd() (node, error) {
	return p.parseLogical("&&", p.parseEquality, func(l, r boolNode) boolNode { return andNode{left: l, right: r} })
}

func (p *parser) parseLogical(op string, operand func() (node, error), join func(l, r boolNode) boolNode) (node, error) {
	start := p.peek()
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for p.peekPunct(op) {
		p.pos++
		rightTok := p.peek()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		l, err := p.asBool(left, start)
		if err != nil {
			return nil, err
		}
		r, err := p.asBool(right, rightTok)
		if err != nil {
			return nil, err
		}
		left = join(l, r)
	}
	return left, nil
}

func (p *parser) parseEquality() (node, error) {
	return p.parseComparison(p.parseRelational, "==", "===", "!=", "!==")
}

func (p *parser) parseRelational() (node, error) {
	return p.parseComparison(p.parseUnary, "<", "<=", ">", ">=")
}

func (p *parser) parseComparison(operand func() (node, error), ops ...string) (node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokPunct || !slices.Contains(ops, tok.text) {
			return left, nil
		}
		p.pos++
		right, err := operand()
		if err != nil {
			return nil, err
		}
		if left.kind() != right.kind() {
			return nil, p.errorAt(tok, "cannot compare %s with %s", left.kind(), right.kind())
		}
		if slices.Contains([]string{"<", "<=", ">", ">="}, tok.text) && left.kind() != kindNumber {
			return nil, p.errorAt(tok, "operator %s requires numbers", tok.text)
		}
		left = compareNode{op: tok.text, left: left, right: right}
	}
}

func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if tok.kind == tokPunct && (tok.text == "!" || tok.text == "-") {
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if tok.text == "!" {
			b, err := p.asBool(x, tok)
			if err != nil {
				return nil, err
			}
			return notNode{x: b}, nil
		}
		n, ok := x.(numberNode)
		if !ok || x.kind() != kindNumber {
			return nil, p.errorAt(tok, "unary minus requires a number")
		}
		return negNode{x: n}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (node, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.peekPunct(".") {
		p.pos++
		member, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		target, ok := x.(stringNode)
		if !ok || x.kind() != kindString {
			return nil, p.errorAt(member, "%s called on a %s", member.text, x.kind())
		}
		x, err = p.parseMethod(target, member)
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (p *parser) parseMethod(target stringNode, member token) (node, error) {
	if member.text == "length" {
		return lengthNode{target: target}, nil
	}

	args, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	switch member.text {
	case "substring":
		if len(args) < 1 || len(args) > 2 {
			return nil, p.errorAt(member, "substring takes 1 or 2 arguments")
		}
		out := substringNode{target: target}
		if out.start, err = p.asNumber(args[0], member); err != nil {
			return nil, err
		}
		if len(args) == 2 {
			if out.end, err = p.asNumber(args[1], member); err != nil {
				return nil, err
			}
		}
		return out, nil
	case "toLowerCase":
		if len(args) != 0 {
			return nil, p.errorAt(member, "toLowerCase takes no arguments")
		}
		return lowerNode{target: target}, nil
	case "indexOf":
		if len(args) != 1 {
			return nil, p.errorAt(member, "indexOf takes 1 argument")
		}
		needle, err := p.asString(args[0], member)
		if err != nil {
			return nil, err
		}
		return indexOfNode{target: target, needle: needle}, nil
	default:
		return nil, p.errorAt(member, "unsupported string method %s", member.text)
	}
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.peek()
	switch tok.kind {
	case tokString:
		p.pos++
		return stringLit{value: tok.text}, nil
	case tokNumber:
		p.pos++
		v, err := strconv.Atoi(tok.text)
		if err != nil {
			return nil, p.errorAt(tok, "invalid number %s", tok.text)
		}
		return numberLit{value: v}, nil
	case tokPunct:
		if tok.text != "(" {
			return nil, p.errorAt(tok, "unexpected %q", tok.text)
		}
		p.pos++
		x, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return x, nil
	case tokIdent:
		p.pos++
		switch tok.text {
		case "true":
			return boolLit{value: true}, nil
		case "false":
			return boolLit{value: false}, nil
		case p.params[0]:
			return paramURL, nil
		case p.params[1]:
			return paramHost, nil
		}
		if p.peekPunct("(") {
			return p.parseCall(tok)
		}
		return nil, p.errorAt(tok, "unknown identifier %s", tok.text)
	default:
		return nil, p.errorAt(tok, "unexpected end of script")
	}
}

func (p *parser) parseCall(name token) (node, error) {
	spec, ok := matcherSpecs[name.text]
	if !ok {
		return nil, p.unsupported(name, "")
	}
	if spec.resolver && p.opts.Resolver == nil {
		return nil, p.unsupported(name, "no resolver configured")
	}

	args, err := p.parseArgs()
	if err != nil {
		return nil, err
	}
	if len(args) != len(spec.args) {
		return nil, p.errorAt(name, "%s takes %d argument(s), got %d", name.text, len(spec.args), len(args))
	}
	for i, arg := range args {
		if arg.kind() != spec.args[i] {
			return nil, p.errorAt(name, "%s argument %d must be a %s", name.text, i+1, spec.args[i])
		}
	}

	call := callNode{spec: spec, args: args}
	if spec.kind == MatchShExp {
		// patterns are compiled here so a bad one fails the script, not a lookup
		lit, ok := args[1].(stringLit)
		if !ok {
			return nil, p.errorAt(name, "%s pattern must be a string literal", name.text)
		}
		re, err := compileShExp(lit.value)
		if err != nil {
			return nil, &MalformedRuleError{
				Line:    name.line,
				Column:  name.column,
				Snippet: snippet(lit.value),
				Message: "invalid shell expression",
				Cause:   err,
			}
		}
		call.pattern = re
	}
	return call, nil
}

func (p *parser) parseArgs() ([]node, error) {
	if _, err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var args []node
	if p.peekPunct(")") {
		p.pos++
		return args, nil
	}
	for {
		arg, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peekPunct(",") {
			p.pos++
			continue
		}
		if _, err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return args, nil
	}
}

func (p *parser) asBool(x node, at token) (boolNode, error) {
	b, ok := x.(boolNode)
	if !ok || x.kind() != kindBool {
		return nil, p.errorAt(at, "expected a boolean expression, got %s", x.kind())
	}
	return b, nil
}

func (p *parser) asString(x node, at token) (stringNode, error) {
	s, ok := x.(stringNode)
	if !ok || x.kind() != kindString {
		return nil, p.errorAt(at, "expected a string expression, got %s", x.kind())
	}
	return s, nil
}

func (p *parser) asNumber(x node, at token) (numberNode, error) {
	n, ok := x.(numberNode)
	if !ok || x.kind() != kindNumber {
		return nil, p.errorAt(at, "expected a number expression, got %s", x.kind())
	}
	return n, nil
}

func (p *parser) peek() token {
	if p.pos >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos]
}

func (p *parser) peekPunct(text string) bool {
	tok := p.peek()
	return tok.kind == tokPunct && tok.text == text
}

func (p *parser) peekIdent(text string) bool {
	tok := p.peek()
	return tok.kind == tokIdent && tok.text == text
}

func (p *parser) expectPunct(text string) (token, error) {
	tok := p.peek()
	if tok.kind != tokPunct || tok.text != text {
		return token{}, p.errorAt(tok, "expected %q", text)
	}
	p.pos++
	return tok, nil
}

func (p *parser) expectIdent() (token, error) {
	tok := p.peek()
	if tok.kind != tokIdent {
		return token{}, p.errorAt(tok, "expected identifier")
	}
	p.pos++
	return tok, nil
}

func (p *parser) errorAt(tok token, format string, args ...any) error {
	return &MalformedRuleError{
		Line:    tok.line,
		Column:  tok.column,
		Snippet: snippet(firstLine(p.src[tok.offset:])),
		Message: fmt.Sprintf(format, args...),
	}
}

func (p *parser) unsupported(name token, reason string) error {
	return &MalformedRuleError{
		Line:    name.line,
		Column:  name.column,
		Snippet: snippet(firstLine(p.src[name.offset:])),
		Message: "unsupported function " + name.text,
		Cause:   &UnsupportedMatcherError{Name: name.text, Reason: reason},
	}
}
