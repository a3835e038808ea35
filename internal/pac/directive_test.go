package pac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDirective(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"DIRECT", "DIRECT"},
		{" direct ", "DIRECT"},
		{"PROXY 4.5.6.7:8080; PROXY 7.8.9.10:8080", "PROXY 4.5.6.7:8080; PROXY 7.8.9.10:8080"},
		{"proxy a.example:3128;socks b.example:1080;", "PROXY a.example:3128; SOCKS b.example:1080"},
		{"PROXY 127.0.0.1:3128", "PROXY 127.0.0.1:3128"},
		{"PROXY fallback.local:80; DIRECT", "PROXY fallback.local:80; DIRECT"},
	}
	for _, tt := range cases {
		d, err := ParseDirective(tt.raw)
		require.NoError(t, err, tt.raw)
		require.Equal(t, tt.want, d.String())
	}
}

func TestParseDirectiveRejects(t *testing.T) {
	for _, raw := range []string{
		"",
		";",
		"PROXY",
		"PROXY myproxy.com:",
		"PROXY myproxy.com:123456",
		"PROXY myproxy.com:-1",
		"PROXY a:1;; DIRECT",
		"DIRECT now",
		"HTTPS a:443",
		"PROXY a b",
		"PROXY :8080",
		"PROXY myproxy",
		"SOCKS 10.0.0.1",
		"PROXY a.example:8080; SOCKS b.example",
	} {
		_, err := ParseDirective(raw)
		require.Error(t, err, raw)
	}
}

func TestDirectiveFirstProxy(t *testing.T) {
	cases := []struct {
		raw    string
		host   string
		port   int
		wantOK bool
	}{
		{" PROXY 127.0.0.1:8080", "127.0.0.1", 8080, true},
		{" PROXY myproxy.com:0", "myproxy.com", 0, true},
		{"PROXY a.local:3128; PROXY b.local:3128", "a.local", 3128, true},
		{"SOCKS s.local:1080; DIRECT", "s.local", 1080, true},
		{"DIRECT; PROXY a:1", "", 0, false},
	}
	for _, tt := range cases {
		d, err := ParseDirective(tt.raw)
		require.NoError(t, err, tt.raw)
		host, port, ok := d.FirstProxy()
		require.Equal(t, tt.wantOK, ok, tt.raw)
		require.Equal(t, tt.host, host, tt.raw)
		require.Equal(t, tt.port, port, tt.raw)
	}
}

func TestDirectIsDirect(t *testing.T) {
	require.True(t, Direct.IsDirect())
	require.Equal(t, "DIRECT", Direct.String())

	d, err := ParseDirective("PROXY a:1; DIRECT")
	require.NoError(t, err)
	require.False(t, d.IsDirect())
}

func TestParseProxyInfo(t *testing.T) {
	cases := []struct {
		raw    string
		host   string
		port   int
		wantOK bool
	}{
		{"PROXY 127.0.0.1", "127.0.0.1", NoPort, true},
		{" PROXY 127.0.0.1:8080", "127.0.0.1", 8080, true},
		{" PROXY myproxy.com:0", "myproxy.com", 0, true},
		{" PROXY myproxy.com:", "", 0, false},
		{" PROXY my43proxy.com", "my43proxy.com", NoPort, true},
		{"SOCKS s.local:1080", "", 0, false},
		{"DIRECT", "", 0, false},
	}
	for _, tt := range cases {
		host, port, ok := ParseProxyInfo(tt.raw)
		require.Equal(t, tt.wantOK, ok, tt.raw)
		require.Equal(t, tt.host, host, tt.raw)
		require.Equal(t, tt.port, port, tt.raw)
	}
}
