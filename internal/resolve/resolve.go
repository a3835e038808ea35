// Package resolve provides host lookups for the PAC functions that need the
// network: isResolvable, isInNet, dnsResolve and myIpAddress.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"

	"github.com/pacr/pacr/internal/logging"
)

const defaultTimeout = 2 * time.Second

var errNoAddress = errors.New("no IPv4 address")

// System resolves through the operating system resolver.
type System struct {
	Timeout time.Duration
}

func (s *System) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip, ok := literalIPv4(host); ok {
		return ip, nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOr(s.Timeout))
	defer cancel()

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, fmt.Errorf("lookup %s: %w", host, errNoAddress)
}

func (s *System) LocalIP(context.Context) (net.IP, error) {
	return localIPv4()
}

// DNS queries A records from a fixed server.
type DNS struct {
	server string
	client *dns.Client
	log    *logrus.Entry
}

// NewDNS returns a resolver for server, which may omit the port.
func NewDNS(server string, timeout time.Duration) *DNS {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNS{
		server: server,
		client: &dns.Client{Net: "udp", Timeout: timeoutOr(timeout)},
		log:    logging.NewLogger("resolve"),
	}
}

func (d *DNS) LookupIPv4(ctx context.Context, host string) (net.IP, error) {
	if ip, ok := literalIPv4(host); ok {
		return ip, nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	resp, rtt, err := d.client.ExchangeContext(ctx, msg, d.server)
	if err != nil {
		return nil, fmt.Errorf("lookup %s via %s: %w", host, d.server, err)
	}
	d.log.WithField("host", host).WithField("rtt", rtt).Debug("dns answer")

	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("lookup %s: %s", host, dns.RcodeToString[resp.Rcode])
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			return a.A.To4(), nil
		}
	}
	return nil, fmt.Errorf("lookup %s: %w", host, errNoAddress)
}

func (d *DNS) LocalIP(context.Context) (net.IP, error) {
	return localIPv4()
}

func literalIPv4(host string) (net.IP, bool) {
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, false
	}
	v4 := ip.To4()
	return v4, v4 != nil
}

func localIPv4() (net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if v4 := ipNet.IP.To4(); v4 != nil {
			return v4, nil
		}
	}
	return nil, errNoAddress
}

func timeoutOr(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultTimeout
	}
	return d
}
