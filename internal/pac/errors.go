package pac

import "fmt"

const maxSnippet = 64

// MalformedRuleError reports a script that cannot be parsed into clauses.
// Line and Column are 1-based; zero means the position is unknown.
type MalformedRuleError struct {
	Line    int
	Column  int
	Snippet string
	Message string
	Cause   error
}

func (e *MalformedRuleError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "malformed rule script"
	if e.Line > 0 {
		msg = fmt.Sprintf("%s at %d:%d", msg, e.Line, e.Column)
	}
	msg = msg + ": " + e.Message
	if e.Snippet != "" {
		msg = fmt.Sprintf("%s near %q", msg, e.Snippet)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *MalformedRuleError) Unwrap() error { return e.Cause }

// UnsupportedMatcherError names a function the engine does not implement,
// or one that needs a collaborator (a resolver) that was not configured.
type UnsupportedMatcherError struct {
	Name   string
	Reason string
}

func (e *UnsupportedMatcherError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Reason == "" {
		return fmt.Sprintf("unsupported matcher %q", e.Name)
	}
	return fmt.Sprintf("unsupported matcher %q: %s", e.Name, e.Reason)
}

// InvalidInputError reports an unusable url or host argument.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func snippet(value string) string {
	if len(value) <= maxSnippet {
		return value
	}
	return value[:maxSnippet]
}
