package pac

import (
	"net"
	"regexp"
	"strings"
)

// MatcherKind identifies a built-in PAC function. Names are resolved to a kind
// while parsing; evaluation never looks functions up by name.
type MatcherKind int

const (
	MatchDNSDomainIs MatcherKind = iota
	MatchShExp
	MatchIsPlainHostName
	MatchLocalHostOrDomainIs
	MatchDNSDomainLevels
	MatchIsResolvable
	MatchIsInNet
	MatchDNSResolve
	MatchMyIPAddress
)

func (k MatcherKind) String() string {
	switch k {
	case MatchDNSDomainIs:
		return "dnsDomainIs"
	case MatchShExp:
		return "shExpMatch"
	case MatchIsPlainHostName:
		return "isPlainHostName"
	case MatchLocalHostOrDomainIs:
		return "localHostOrDomainIs"
	case MatchDNSDomainLevels:
		return "dnsDomainLevels"
	case MatchIsResolvable:
		return "isResolvable"
	case MatchIsInNet:
		return "isInNet"
	case MatchDNSResolve:
		return "dnsResolve"
	case MatchMyIPAddress:
		return "myIpAddress"
	default:
		return "unknown"
	}
}

type matcherSpec struct {
	kind     MatcherKind
	args     []valueKind
	result   valueKind
	resolver bool
}

var matcherSpecs = map[string]matcherSpec{
	"dnsDomainIs":         {kind: MatchDNSDomainIs, args: []valueKind{kindString, kindString}, result: kindBool},
	"shExpMatch":          {kind: MatchShExp, args: []valueKind{kindString, kindString}, result: kindBool},
	"isPlainHostName":     {kind: MatchIsPlainHostName, args: []valueKind{kindString}, result: kindBool},
	"localHostOrDomainIs": {kind: MatchLocalHostOrDomainIs, args: []valueKind{kindString, kindString}, result: kindBool},
	"dnsDomainLevels":     {kind: MatchDNSDomainLevels, args: []valueKind{kindString}, result: kindNumber},
	"isResolvable":        {kind: MatchIsResolvable, args: []valueKind{kindString}, result: kindBool, resolver: true},
	"isInNet":             {kind: MatchIsInNet, args: []valueKind{kindString, kindString, kindString}, result: kindBool, resolver: true},
	"dnsResolve":          {kind: MatchDNSResolve, args: []valueKind{kindString}, result: kindString, resolver: true},
	"myIpAddress":         {kind: MatchMyIPAddress, result: kindString, resolver: true},
}

// DNSDomainIs reports whether host ends with the literal suffix domain.
// Matching is case-sensitive and does not expand wildcards.
func DNSDomainIs(host, domain string) bool {
	return strings.HasSuffix(host, domain)
}

// ShExpMatch reports whether the whole subject matches a shell expression.
// "*" matches any run of characters, "?" exactly one, and "(a|b)" either
// alternative.
func ShExpMatch(subject, pattern string) (bool, error) {
	re, err := compileShExp(pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(subject), nil
}

func IsPlainHostName(host string) bool {
	return !strings.Contains(host, ".")
}

// LocalHostOrDomainIs is true for an exact match, or when host is unqualified
// and equals the first label of hostdom.
func LocalHostOrDomainIs(host, hostdom string) bool {
	if host == hostdom {
		return true
	}
	return IsPlainHostName(host) && strings.HasPrefix(hostdom, host+".")
}

func DNSDomainLevels(host string) int {
	return strings.Count(host, ".")
}

// IsInNet compares addr against pattern under mask. All three are dotted IPv4.
func IsInNet(addr, pattern, mask string) bool {
	ip := net.ParseIP(addr).To4()
	base := net.ParseIP(pattern).To4()
	m := net.ParseIP(mask).To4()
	if ip == nil || base == nil || m == nil {
		return false
	}
	ipMask := net.IPv4Mask(m[0], m[1], m[2], m[3])
	return ip.Mask(ipMask).Equal(base.Mask(ipMask))
}

func compileShExp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^(?s:")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '(':
			b.WriteString("(?:")
		case ')', '|':
			b.WriteRune(r)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString(")$")
	return regexp.Compile(b.String())
}
