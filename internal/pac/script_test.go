package pac

import (
	"context"
	"errors"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

const proxyChain = "PROXY 4.5.6.7:8080; PROXY 7.8.9.10:8080"

func loadFixture(t *testing.T) *Script {
	t.Helper()
	data, err := os.ReadFile("testdata/functions.pac")
	require.NoError(t, err)
	script, err := Parse(string(data), Options{})
	require.NoError(t, err)
	return script
}

func TestFixtureStructure(t *testing.T) {
	script := loadFixture(t)
	require.Len(t, script.Clauses, 2)
	require.NotNil(t, script.Default)
	require.Equal(t, proxyChain, script.Default.String())
	require.Equal(t, 5, script.Clauses[0].Line)
	require.Equal(t, 10, script.Clauses[1].Line)
	require.Contains(t, script.Clauses[0].Condition, `dnsDomainIs(host, "intranet.domain.com")`)
}

func TestFixtureEvaluate(t *testing.T) {
	script := loadFixture(t)

	cases := []struct {
		name    string
		url     string
		host    string
		want    string
		outcome Outcome
		clause  int
	}{
		{"ftp", "ftp://www.something.com", "www.something.com", "DIRECT", OutcomeClause, 2},
		{"intranet", "http://intranet.domain.com/blabla", "intranet.domain.com", "DIRECT", OutcomeClause, 1},
		{"intranet-suffix", "http://a.b.intranet.domain.com/", "a.b.intranet.domain.com", "DIRECT", OutcomeClause, 1},
		{"folder", "http://abcdomain.com/folder/something", "abcdomain.com", "DIRECT", OutcomeClause, 1},
		{"subdomain", "http://www.abcdomain.com/blabla", "www.abcdomain.com", "DIRECT", OutcomeClause, 1},
		{"bare-domain", "https://abcdomain.com/", "abcdomain.com", "DIRECT", OutcomeClause, 1},
		{"other", "http://other.com/x", "other.com", proxyChain, OutcomeDefault, 0},
		{"domain", "http://www.domain.com/blabla", "www.domain.com", proxyChain, OutcomeDefault, 0},
		{"no-dot-before-suffix", "http://xabcdomain.com/", "xabcdomain.com", proxyChain, OutcomeDefault, 0},
		{"case-sensitive", "http://INTRANET.DOMAIN.COM/", "INTRANET.DOMAIN.COM", proxyChain, OutcomeDefault, 0},
		{"folder-prefix-only", "http://abcdomain.com.evil/folder/x", "abcdomain.com.evil", proxyChain, OutcomeDefault, 0},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			res, err := script.Evaluate(tt.url, tt.host)
			require.NoError(t, err)
			require.Equal(t, tt.want, res.Directive.String())
			require.Equal(t, tt.outcome, res.Outcome)
			require.Equal(t, tt.clause, res.Clause)
		})
	}
}

func TestFixtureURLGlobClause(t *testing.T) {
	script := loadFixture(t)

	// host deliberately outside abcdomain.com so only the url glob can fire.
	res, err := script.Evaluate("http://abcdomain.com/folder/anything", "proxy-side.example")
	require.NoError(t, err)
	require.Equal(t, "DIRECT", res.Directive.String())
	require.Equal(t, 2, res.Clause)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	script := loadFixture(t)
	first, err := script.Evaluate("http://other.com/x", "other.com")
	require.NoError(t, err)

	first.Directive.Entries[0].Host = "mutated"

	for i := 0; i < 3; i++ {
		again, err := script.Evaluate("http://other.com/x", "other.com")
		require.NoError(t, err)
		require.Equal(t, proxyChain, again.Directive.String())
	}
}

func TestEvaluateRejectsEmptyInput(t *testing.T) {
	script := loadFixture(t)

	_, err := script.Evaluate("", "other.com")
	var inputErr *InvalidInputError
	require.True(t, errors.As(err, &inputErr))
	require.Equal(t, "url", inputErr.Field)

	_, err = script.Evaluate("http://other.com/", "  ")
	require.True(t, errors.As(err, &inputErr))
	require.Equal(t, "host", inputErr.Field)
}

func TestEvaluateFallback(t *testing.T) {
	src := `if (isPlainHostName(host)) return "DIRECT";`

	script, err := Parse(src, Options{})
	require.NoError(t, err)
	res, err := script.Evaluate("http://www.example.com/", "www.example.com")
	require.NoError(t, err)
	require.Equal(t, OutcomeFallback, res.Outcome)
	require.Equal(t, "DIRECT", res.Directive.String())

	custom, err := ParseDirective("PROXY fallback.local:3128")
	require.NoError(t, err)
	script, err = Parse(src, Options{Fallback: custom})
	require.NoError(t, err)
	res, err = script.Evaluate("http://www.example.com/", "www.example.com")
	require.NoError(t, err)
	require.Equal(t, "PROXY fallback.local:3128", res.Directive.String())

	res, err = script.Evaluate("http://intranet/", "intranet")
	require.NoError(t, err)
	require.Equal(t, OutcomeClause, res.Outcome)
}

func TestEvaluatePackageFunction(t *testing.T) {
	directive, err := Evaluate(`return "SOCKS socks.local:1080; DIRECT";`, "http://a.b/", "a.b")
	require.NoError(t, err)
	require.Equal(t, "SOCKS socks.local:1080; DIRECT", directive.String())
}

func TestElseChainsAndNesting(t *testing.T) {
	src := `
function FindProxyForURL(u, h) {
	/* custom parameter names */
	if (dnsDomainLevels(h) > 2) {
		if (shExpMatch(u, "https:*")) return "SOCKS deep.local:1080";
		return "PROXY deep.local:3128";
	} else if (localHostOrDomainIs(h, "www.example.com")) {
		return "PROXY www.local:80";
	} else {
		return "DIRECT";
	}
}`
	script, err := Parse(src, Options{})
	require.NoError(t, err)
	require.Nil(t, script.Default)

	cases := []struct {
		url, host, want string
	}{
		{"https://a.b.c.d/", "a.b.c.d", "SOCKS deep.local:1080"},
		{"http://a.b.c.d/", "a.b.c.d", "PROXY deep.local:3128"},
		{"http://www/", "www", "PROXY www.local:80"},
		{"http://www.example.com/", "www.example.com", "PROXY www.local:80"},
		{"http://example.com/", "example.com", "DIRECT"},
	}
	for _, tt := range cases {
		res, err := script.Evaluate(tt.url, tt.host)
		require.NoError(t, err)
		require.Equal(t, tt.want, res.Directive.String(), tt.host)
	}
}

func TestStringHelpersAndOperators(t *testing.T) {
	src := `
if (url.substring(0, 5) == "https" && !(host.toLowerCase() === "secure.example.com")) return "PROXY tls.local:443";
if (url.indexOf("/api/") != -1 || url.length >= 40) return "PROXY api.local:8080";
if (false) return "PROXY never.local:1";
return "DIRECT";`
	script, err := Parse(src, Options{})
	require.NoError(t, err)

	cases := []struct {
		url, host, want string
	}{
		{"https://other.example.com/", "other.example.com", "PROXY tls.local:443"},
		{"https://SECURE.example.com/", "SECURE.example.com", "DIRECT"},
		{"http://x.y/api/v1", "x.y", "PROXY api.local:8080"},
		{"http://x.y/a-long-path-that-goes-on-and-on", "x.y", "PROXY api.local:8080"},
		{"http://x.y/", "x.y", "DIRECT"},
	}
	for _, tt := range cases {
		res, err := script.Evaluate(tt.url, tt.host)
		require.NoError(t, err)
		require.Equal(t, tt.want, res.Directive.String(), tt.url)
	}
}

func TestUnreachableReturnsAreIgnored(t *testing.T) {
	script, err := Parse(`return "DIRECT"; if (isPlainHostName(host)) return "PROXY a:1"; return "PROXY b:2";`, Options{})
	require.NoError(t, err)
	require.Empty(t, script.Clauses)
	require.Equal(t, "DIRECT", script.Default.String())
}

type mapResolver struct {
	hosts map[string]string
	local string
}

func (r mapResolver) LookupIPv4(_ context.Context, host string) (net.IP, error) {
	if ip, ok := r.hosts[host]; ok {
		return net.ParseIP(ip), nil
	}
	return nil, errors.New("no such host")
}

func (r mapResolver) LocalIP(context.Context) (net.IP, error) {
	if r.local == "" {
		return nil, errors.New("no local address")
	}
	return net.ParseIP(r.local), nil
}

func TestResolverMatchers(t *testing.T) {
	src := `
function FindProxyForURL(url, host) {
	if (isInNet(host, "10.0.0.0", "255.0.0.0")) return "DIRECT";
	if (dnsResolve(host) == "192.168.1.10") return "PROXY lan.local:3128";
	if (!isResolvable(host)) return "PROXY unresolved.local:3128";
	if (isInNet(myIpAddress(), "172.16.0.0", "255.240.0.0")) return "PROXY office.local:3128";
	return "PROXY default.local:3128";
}`
	resolver := mapResolver{
		hosts: map[string]string{
			"intranet.example": "10.1.2.3",
			"lan.example":      "192.168.1.10",
			"public.example":   "93.184.216.34",
		},
		local: "172.16.5.4",
	}
	script, err := Parse(src, Options{Resolver: resolver})
	require.NoError(t, err)

	cases := []struct {
		host, want string
	}{
		{"intranet.example", "DIRECT"},
		{"10.9.9.9", "DIRECT"},
		{"lan.example", "PROXY lan.local:3128"},
		{"missing.example", "PROXY unresolved.local:3128"},
		{"public.example", "PROXY office.local:3128"},
	}
	for _, tt := range cases {
		res, err := script.Evaluate("http://"+tt.host+"/", tt.host)
		require.NoError(t, err)
		require.Equal(t, tt.want, res.Directive.String(), tt.host)
	}

	resolver.local = ""
	script, err = Parse(src, Options{Resolver: resolver})
	require.NoError(t, err)
	res, err := script.Evaluate("http://public.example/", "public.example")
	require.NoError(t, err)
	require.Equal(t, "PROXY default.local:3128", res.Directive.String())
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name        string
		src         string
		unsupported string
	}{
		{"unbalanced-paren", `function FindProxyForURL(url, host) { if (dnsDomainIs(host, "a") { return "DIRECT"; } }`, ""},
		{"missing-brace", `function FindProxyForURL(url, host) { return "DIRECT";`, ""},
		{"unknown-matcher", `if (isInBlacklist(host)) return "DIRECT";`, "isInBlacklist"},
		{"resolver-missing", `if (dnsResolve(host) == "1.2.3.4") return "DIRECT";`, "dnsResolve"},
		{"bad-directive", `return "PROXY";`, ""},
		{"bad-port", `return "PROXY myproxy.com:";`, ""},
		{"proxy-without-port", `return "PROXY myproxy";`, ""},
		{"socks-without-port", `if (isPlainHostName(host)) return "SOCKS 10.0.0.1";`, ""},
		{"unknown-entry", `return "TUNNEL a:1";`, ""},
		{"bad-glob", `if (shExpMatch(host, "(a|b")) return "DIRECT";`, ""},
		{"computed-glob", `if (shExpMatch(url, host.substring(0, 3))) return "DIRECT";`, ""},
		{"statement", `var x = 1; return "DIRECT";`, ""},
		{"type-mismatch", `if (host == 3) return "DIRECT";`, ""},
		{"non-bool-condition", `if (host) return "DIRECT";`, ""},
		{"arity", `if (dnsDomainIs(host)) return "DIRECT";`, ""},
		{"unknown-identifier", `if (dnsDomainIs(hostname, "a")) return "DIRECT";`, ""},
		{"wrong-function", `function Other(url, host) { return "DIRECT"; }`, ""},
		{"unterminated-string", "return \"DIRECT;\n", ""},
		{"unterminated-comment", `/* return "DIRECT";`, ""},
		{"dynamic-return", `return host;`, ""},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			script, err := Parse(tt.src, Options{})
			require.Nil(t, script)
			var malformed *MalformedRuleError
			require.True(t, errors.As(err, &malformed), "got %v", err)
			require.Positive(t, malformed.Line)

			var unsupported *UnsupportedMatcherError
			if tt.unsupported == "" {
				require.False(t, errors.As(err, &unsupported))
				return
			}
			require.True(t, errors.As(err, &unsupported))
			require.Equal(t, tt.unsupported, unsupported.Name)
		})
	}
}

func TestParseErrorPosition(t *testing.T) {
	_, err := Parse("function FindProxyForURL(url, host) {\n  if (oops(host)) return \"DIRECT\";\n}", Options{})
	var malformed *MalformedRuleError
	require.True(t, errors.As(err, &malformed))
	require.Equal(t, 2, malformed.Line)
	require.Equal(t, 7, malformed.Column)
	require.Contains(t, err.Error(), "oops")
}
