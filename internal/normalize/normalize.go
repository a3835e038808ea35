// Package normalize validates lookup input and derives the host argument from
// the URL when the caller does not supply one.
package normalize

import (
	"net"
	"net/url"
	"strings"

	"github.com/pacr/pacr/internal/pac"
)

const maxInput = 4096

type Target struct {
	URL  string
	Host string
}

// Apply checks rawURL and host and returns the pair to evaluate. An empty host
// is taken from the URL authority, without port or brackets, lowercased.
func Apply(rawURL, host string) (Target, error) {
	rawURL = strings.TrimSpace(rawURL)
	host = strings.TrimSpace(host)

	if rawURL == "" {
		return Target{}, &pac.InvalidInputError{Field: "url", Reason: "must not be empty"}
	}
	if len(rawURL) > maxInput {
		return Target{}, &pac.InvalidInputError{Field: "url", Reason: "too long"}
	}
	if strings.ContainsAny(rawURL, " \t\r\n") {
		return Target{}, &pac.InvalidInputError{Field: "url", Reason: "must not contain whitespace"}
	}

	if host == "" {
		derived, err := HostOf(rawURL)
		if err != nil {
			return Target{}, err
		}
		host = derived
	}
	if len(host) > maxInput || strings.ContainsAny(host, " \t\r\n/") {
		return Target{}, &pac.InvalidInputError{Field: "host", Reason: "not a host name"}
	}

	return Target{URL: rawURL, Host: host}, nil
}

// HostOf extracts the host part of rawURL.
func HostOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", &pac.InvalidInputError{Field: "url", Reason: err.Error()}
	}
	host := parsed.Hostname()
	if host == "" && (parsed.Scheme == "" || parsed.Opaque != "") {
		// scheme-less input such as "example.com:8080/path"
		authority, _, _ := strings.Cut(rawURL, "/")
		if h, _, err := net.SplitHostPort(authority); err == nil {
			host = h
		} else if !strings.Contains(authority, ":") {
			host = authority
		}
	}
	if host == "" {
		return "", &pac.InvalidInputError{Field: "host", Reason: "cannot be derived from url"}
	}
	return strings.ToLower(host), nil
}
