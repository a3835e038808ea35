package pac

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type EntryType string

const (
	EntryDirect EntryType = "DIRECT"
	EntryProxy  EntryType = "PROXY"
	EntrySocks  EntryType = "SOCKS"
)

// NoPort is reported by ParseProxyInfo for an address written without a port.
const NoPort = -1

var (
	hostPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z.\-]*$`)
	portPattern = regexp.MustCompile(`^[0-9]{1,5}$`)
)

// Entry is one routing option of a directive. Host and Port are empty for DIRECT.
// PROXY and SOCKS entries always carry a port.
type Entry struct {
	Type EntryType `json:"type"`
	Host string    `json:"host,omitempty"`
	Port int       `json:"port"`
}

func (e Entry) String() string {
	if e.Type == EntryDirect {
		return string(EntryDirect)
	}
	return fmt.Sprintf("%s %s:%d", e.Type, e.Host, e.Port)
}

// Directive is the ordered list of routing options a script returns.
// Callers try entries in order, moving on when a connection fails.
type Directive struct {
	Entries []Entry `json:"entries"`
}

// Direct is the directive that bypasses every proxy.
var Direct = Directive{Entries: []Entry{{Type: EntryDirect}}}

func (d Directive) String() string {
	parts := make([]string, 0, len(d.Entries))
	for _, entry := range d.Entries {
		parts = append(parts, entry.String())
	}
	return strings.Join(parts, "; ")
}

// IsDirect reports whether the first entry routes without a proxy.
func (d Directive) IsDirect() bool {
	return len(d.Entries) > 0 && d.Entries[0].Type == EntryDirect
}

// FirstProxy returns the address of the first entry when that entry is a
// PROXY or SOCKS entry. Later entries are failover options and are ignored.
func (d Directive) FirstProxy() (host string, port int, ok bool) {
	if len(d.Entries) == 0 || d.Entries[0].Type == EntryDirect {
		return "", 0, false
	}
	first := d.Entries[0]
	return first.Host, first.Port, true
}

// ParseDirective parses "DIRECT" or "PROXY h:p; SOCKS h2:p2" lists. Entry types
// are case-insensitive and normalized to upper case. A trailing ";" is allowed.
func ParseDirective(raw string) (Directive, error) {
	segments := strings.Split(raw, ";")
	entries := make([]Entry, 0, len(segments))
	for i, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			if i == len(segments)-1 && i > 0 {
				continue
			}
			return Directive{}, fmt.Errorf("directive %q: empty entry", raw)
		}
		entry, err := parseEntry(segment)
		if err != nil {
			return Directive{}, fmt.Errorf("directive %q: %w", raw, err)
		}
		entries = append(entries, entry)
	}
	return Directive{Entries: entries}, nil
}

func parseEntry(segment string) (Entry, error) {
	fields := strings.Fields(segment)
	kind := EntryType(strings.ToUpper(fields[0]))

	switch kind {
	case EntryDirect:
		if len(fields) != 1 {
			return Entry{}, fmt.Errorf("DIRECT takes no address")
		}
		return Entry{Type: EntryDirect}, nil
	case EntryProxy, EntrySocks:
	default:
		return Entry{}, fmt.Errorf("unknown entry type %q", fields[0])
	}

	if len(fields) != 2 {
		return Entry{}, fmt.Errorf("%s requires exactly one address", kind)
	}

	host, portText, hasPort := strings.Cut(fields[1], ":")
	if !hostPattern.MatchString(host) {
		return Entry{}, fmt.Errorf("invalid host %q", host)
	}
	if !hasPort {
		return Entry{}, fmt.Errorf("%s %s: missing port", kind, host)
	}
	port, err := parsePort(portText)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Type: kind, Host: host, Port: port}, nil
}

func parsePort(text string) (int, error) {
	if !portPattern.MatchString(text) {
		return 0, fmt.Errorf("invalid port %q", text)
	}
	port, err := strconv.Atoi(text)
	if err != nil || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", text)
	}
	return port, nil
}

// ParseProxyInfo reads the address of a single "PROXY host[:port]" entry
// produced outside this package, such as a directive string from a client
// or an older script. It is more lenient than ParseDirective: a missing port
// is reported as NoPort. A trailing ":" with no digits is rejected.
func ParseProxyInfo(entry string) (host string, port int, ok bool) {
	fields := strings.Fields(entry)
	if len(fields) != 2 || fields[0] != string(EntryProxy) {
		return "", 0, false
	}
	host, portText, hasPort := strings.Cut(fields[1], ":")
	if !hostPattern.MatchString(host) {
		return "", 0, false
	}
	if !hasPort {
		return host, NoPort, true
	}
	port, err := parsePort(portText)
	if err != nil {
		return "", 0, false
	}
	return host, port, true
}
