package pac

import (
	"context"
	"net"
	"strings"
)

// DefaultFallback is returned when no clause fires and the script has no
// trailing return.
var DefaultFallback = Direct

type Outcome string

const (
	OutcomeClause   Outcome = "clause"
	OutcomeDefault  Outcome = "default"
	OutcomeFallback Outcome = "fallback"
)

// Resolver backs the host lookup functions (isResolvable, isInNet, dnsResolve,
// myIpAddress). Scripts calling them only parse when a Resolver is configured.
type Resolver interface {
	LookupIPv4(ctx context.Context, host string) (net.IP, error)
	LocalIP(ctx context.Context) (net.IP, error)
}

type Options struct {
	Resolver Resolver
	// Fallback replaces DefaultFallback. A zero value keeps the default.
	Fallback Directive
}

// Clause is one conditional return. Condition is the normalized source text of
// the guarding expression, including enclosing if-conditions.
type Clause struct {
	Line      int
	Condition string
	Directive Directive

	cond boolNode
}

// Script is a parsed rule set. It is immutable and safe for concurrent use.
type Script struct {
	Clauses []Clause
	// Default is the trailing unconditional return, nil when the script can
	// fall off its end.
	Default  *Directive
	Fallback Directive

	resolver Resolver
}

type Result struct {
	Directive Directive
	Outcome   Outcome
	// Clause is the 1-based index of the clause that fired, 0 otherwise.
	Clause int
}

// Parse compiles src into a Script. src is either a FindProxyForURL function
// or a bare statement list over the names url and host.
func Parse(src string, opts Options) (*Script, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &parser{
		src:    src,
		tokens: tokens,
		params: [2]string{"url", "host"},
		opts:   opts,
	}
	if err := p.parseScript(); err != nil {
		return nil, err
	}

	fallback := opts.Fallback
	if len(fallback.Entries) == 0 {
		fallback = DefaultFallback
	}

	return &Script{
		Clauses:  p.clauses,
		Default:  p.def,
		Fallback: fallback,
		resolver: opts.Resolver,
	}, nil
}

// Evaluate parses src with default options and evaluates it once.
func Evaluate(src, url, host string) (Directive, error) {
	script, err := Parse(src, Options{})
	if err != nil {
		return Directive{}, err
	}
	res, err := script.Evaluate(url, host)
	if err != nil {
		return Directive{}, err
	}
	return res.Directive, nil
}

func (s *Script) Evaluate(url, host string) (Result, error) {
	return s.EvaluateContext(context.Background(), url, host)
}

// EvaluateContext runs clauses in order and returns the first that fires.
// ctx only bounds resolver lookups.
func (s *Script) EvaluateContext(ctx context.Context, url, host string) (Result, error) {
	if strings.TrimSpace(url) == "" {
		return Result{}, &InvalidInputError{Field: "url", Reason: "must not be empty"}
	}
	if strings.TrimSpace(host) == "" {
		return Result{}, &InvalidInputError{Field: "host", Reason: "must not be empty"}
	}

	e := &env{ctx: ctx, url: url, host: host, resolver: s.resolver}
	for i, clause := range s.Clauses {
		if clause.cond.evalBool(e) {
			return Result{Directive: clause.Directive.clone(), Outcome: OutcomeClause, Clause: i + 1}, nil
		}
	}
	if s.Default != nil {
		return Result{Directive: s.Default.clone(), Outcome: OutcomeDefault}, nil
	}
	return Result{Directive: s.Fallback.clone(), Outcome: OutcomeFallback}, nil
}

func (d Directive) clone() Directive {
	return Directive{Entries: append([]Entry(nil), d.Entries...)}
}
