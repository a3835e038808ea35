// Package policy turns evaluation results, including failures, into the
// routing decision handed to clients.
package policy

import (
	"errors"

	"github.com/pacr/pacr/internal/pac"
	"github.com/pacr/pacr/internal/source"
)

type Action string

const (
	ActionDirect   Action = "direct"
	ActionProxy    Action = "proxy"
	ActionFallback Action = "fallback"
)

type Decision struct {
	Action    Action
	Directive pac.Directive
	Outcome   pac.Outcome
	Clause    int
	Err       error
}

// Decide never fails: an evaluation error yields fallback, which the caller
// configures as its safe default.
func Decide(res pac.Result, err error, fallback pac.Directive) Decision {
	if len(fallback.Entries) == 0 {
		fallback = pac.DefaultFallback
	}
	if err != nil {
		return Decision{
			Action:    ActionFallback,
			Directive: fallback,
			Outcome:   pac.OutcomeFallback,
			Err:       err,
		}
	}

	d := Decision{Directive: res.Directive, Outcome: res.Outcome, Clause: res.Clause}
	switch {
	case res.Outcome == pac.OutcomeFallback:
		d.Action = ActionFallback
	case res.Directive.IsDirect():
		d.Action = ActionDirect
	default:
		d.Action = ActionProxy
	}
	return d
}

// ErrorKind classifies err for metrics and logs.
func ErrorKind(err error) string {
	var (
		inputErr       *pac.InvalidInputError
		unsupportedErr *pac.UnsupportedMatcherError
		malformedErr   *pac.MalformedRuleError
		fetchErr       *source.FetchError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &inputErr):
		return "invalid_input"
	case errors.As(err, &unsupportedErr):
		return "unsupported_matcher"
	case errors.As(err, &malformedErr):
		return "malformed"
	case errors.As(err, &fetchErr):
		return "fetch"
	default:
		return "internal"
	}
}
