package pac

import (
	"context"
	"net"
	"regexp"
	"strings"
	"unicode/utf8"
)

type valueKind int

const (
	kindBool valueKind = iota
	kindString
	kindNumber
)

func (k valueKind) String() string {
	switch k {
	case kindBool:
		return "boolean"
	case kindString:
		return "string"
	case kindNumber:
		return "number"
	default:
		return "unknown"
	}
}

// env is the per-call input of an evaluation. Nodes never mutate it.
type env struct {
	ctx      context.Context
	url      string
	host     string
	resolver Resolver
}

type node interface {
	kind() valueKind
}

type boolNode interface {
	node
	evalBool(e *env) bool
}

type stringNode interface {
	node
	evalString(e *env) string
}

type numberNode interface {
	node
	evalNumber(e *env) int
}

type boolLit struct{ value bool }

func (boolLit) kind() valueKind      { return kindBool }
func (n boolLit) evalBool(*env) bool { return n.value }

type stringLit struct{ value string }

func (stringLit) kind() valueKind          { return kindString }
func (n stringLit) evalString(*env) string { return n.value }

type numberLit struct{ value int }

func (numberLit) kind() valueKind       { return kindNumber }
func (n numberLit) evalNumber(*env) int { return n.value }

type param int

const (
	paramURL param = iota
	paramHost
)

func (param) kind() valueKind { return kindString }

func (p param) evalString(e *env) string {
	if p == paramURL {
		return e.url
	}
	return e.host
}

type notNode struct{ x boolNode }

func (notNode) kind() valueKind        { return kindBool }
func (n notNode) evalBool(e *env) bool { return !n.x.evalBool(e) }

type andNode struct{ left, right boolNode }

func (andNode) kind() valueKind        { return kindBool }
func (n andNode) evalBool(e *env) bool { return n.left.evalBool(e) && n.right.evalBool(e) }

type orNode struct{ left, right boolNode }

func (orNode) kind() valueKind        { return kindBool }
func (n orNode) evalBool(e *env) bool { return n.left.evalBool(e) || n.right.evalBool(e) }

type negNode struct{ x numberNode }

func (negNode) kind() valueKind         { return kindNumber }
func (n negNode) evalNumber(e *env) int { return -n.x.evalNumber(e) }

// compareNode holds operands of the same kind; ordering operators are only
// produced for numbers.
type compareNode struct {
	op          string
	left, right node
}

func (compareNode) kind() valueKind { return kindBool }

func (n compareNode) evalBool(e *env) bool {
	var cmp int
	switch n.left.kind() {
	case kindString:
		cmp = strings.Compare(n.left.(stringNode).evalString(e), n.right.(stringNode).evalString(e))
	case kindNumber:
		l, r := n.left.(numberNode).evalNumber(e), n.right.(numberNode).evalNumber(e)
		switch {
		case l < r:
			cmp = -1
		case l > r:
			cmp = 1
		}
	case kindBool:
		if n.left.(boolNode).evalBool(e) != n.right.(boolNode).evalBool(e) {
			cmp = 1
		}
	}

	switch n.op {
	case "==", "===":
		return cmp == 0
	case "!=", "!==":
		return cmp != 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	default:
		return false
	}
}

type substringNode struct {
	target     stringNode
	start, end numberNode
}

func (substringNode) kind() valueKind { return kindString }

func (n substringNode) evalString(e *env) string {
	runes := []rune(n.target.evalString(e))
	start := clamp(n.start.evalNumber(e), len(runes))
	end := len(runes)
	if n.end != nil {
		end = clamp(n.end.evalNumber(e), len(runes))
	}
	if start > end {
		start, end = end, start
	}
	return string(runes[start:end])
}

func clamp(v, max int) int {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

type lowerNode struct{ target stringNode }

func (lowerNode) kind() valueKind            { return kindString }
func (n lowerNode) evalString(e *env) string { return strings.ToLower(n.target.evalString(e)) }

type indexOfNode struct{ target, needle stringNode }

func (indexOfNode) kind() valueKind { return kindNumber }

func (n indexOfNode) evalNumber(e *env) int {
	s := n.target.evalString(e)
	i := strings.Index(s, n.needle.evalString(e))
	if i < 0 {
		return -1
	}
	return utf8.RuneCountInString(s[:i])
}

type lengthNode struct{ target stringNode }

func (lengthNode) kind() valueKind { return kindNumber }

func (n lengthNode) evalNumber(e *env) int {
	return utf8.RuneCountInString(n.target.evalString(e))
}

// callNode invokes a built-in matcher. pattern holds the compiled shExpMatch
// pattern, which is always a literal.
type callNode struct {
	spec    matcherSpec
	args    []node
	pattern *regexp.Regexp
}

func (n callNode) kind() valueKind { return n.spec.result }

func (n callNode) str(e *env, i int) string {
	return n.args[i].(stringNode).evalString(e)
}

func (n callNode) evalBool(e *env) bool {
	switch n.spec.kind {
	case MatchDNSDomainIs:
		return DNSDomainIs(n.str(e, 0), n.str(e, 1))
	case MatchShExp:
		return n.pattern.MatchString(n.str(e, 0))
	case MatchIsPlainHostName:
		return IsPlainHostName(n.str(e, 0))
	case MatchLocalHostOrDomainIs:
		return LocalHostOrDomainIs(n.str(e, 0), n.str(e, 1))
	case MatchIsResolvable:
		_, err := e.resolver.LookupIPv4(e.ctx, n.str(e, 0))
		return err == nil
	case MatchIsInNet:
		addr := n.str(e, 0)
		if net.ParseIP(addr) == nil {
			ip, err := e.resolver.LookupIPv4(e.ctx, addr)
			if err != nil {
				return false
			}
			addr = ip.String()
		}
		return IsInNet(addr, n.str(e, 1), n.str(e, 2))
	default:
		return false
	}
}

func (n callNode) evalString(e *env) string {
	switch n.spec.kind {
	case MatchDNSResolve:
		ip, err := e.resolver.LookupIPv4(e.ctx, n.str(e, 0))
		if err != nil {
			return ""
		}
		return ip.String()
	case MatchMyIPAddress:
		ip, err := e.resolver.LocalIP(e.ctx)
		if err != nil || ip == nil {
			return "127.0.0.1"
		}
		return ip.String()
	default:
		return ""
	}
}

func (n callNode) evalNumber(e *env) int {
	if n.spec.kind == MatchDNSDomainLevels {
		return DNSDomainLevels(n.str(e, 0))
	}
	return 0
}
