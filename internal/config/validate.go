package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type ValidationError struct {
	Problems []string
}

func (v *ValidationError) Add(format string, args ...any) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

func (v *ValidationError) Error() string {
	return fmt.Sprintf("%d validation error(s)", len(v.Problems))
}

func (c *Config) Validate() error {
	v := &ValidationError{}

	if c.ConfigVersion != 1 {
		v.Add("configVersion must be 1")
	}

	if err := validateListen(c.Server.Listen); err != nil {
		v.Add("server.listen invalid: %v", err)
	}

	c.validateScript(v)

	if _, err := c.FallbackDirective(); err != nil {
		v.Add("evaluation.fallback invalid: %v", err)
	}
	if c.Evaluation.CacheSize < 0 {
		v.Add("evaluation.cacheSize must be >= 0")
	}

	if c.DNS.Enabled {
		if c.DNS.Server != "" {
			if err := validateDNSServer(c.DNS.Server); err != nil {
				v.Add("dns.server invalid: %v", err)
			}
		}
		if c.DNS.Timeout < 0 {
			v.Add("dns.timeout must be > 0")
		}
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RPS <= 0 {
			v.Add("rateLimit.rps must be > 0")
		}
		if c.RateLimit.Burst <= 0 {
			v.Add("rateLimit.burst must be > 0")
		}
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		v.Add("logging.format must be text|json")
	}
	if c.Logging.DecisionLog != "" {
		if err := ensureWritable(c.resolvePath(c.Logging.DecisionLog)); err != nil {
			v.Add("logging.decisionLog invalid: %v", err)
		}
	}

	if c.Metrics.Enabled {
		if err := validateListen(c.Metrics.Listen); err != nil {
			v.Add("metrics.listen invalid: %v", err)
		}
	}

	if len(v.Problems) > 0 {
		sort.Strings(v.Problems)
		return v
	}
	return nil
}

func (c *Config) validateScript(v *ValidationError) {
	s := c.Script
	set := 0
	for _, value := range []string{s.File, s.Inline, s.URL} {
		if value != "" {
			set++
		}
	}
	switch {
	case set == 0:
		v.Add("script requires one of file|inline|url")
	case set > 1:
		v.Add("script must set only one of file|inline|url")
	}

	if s.File != "" {
		if err := requireFile(c.resolvePath(s.File)); err != nil {
			v.Add("script.file invalid: %v", err)
		}
	}
	if s.URL != "" {
		if err := validateURL(s.URL); err != nil {
			v.Add("script.url invalid: %v", err)
		}
	}
	if s.CacheTTL < 0 {
		v.Add("script.cacheTTL must be >= 0")
	}
	if s.Timeout < 0 {
		v.Add("script.timeout must be > 0")
	}
	if s.MaxBytes < 0 {
		v.Add("script.maxBytes must be > 0")
	}
}

func validateListen(addr string) error {
	if strings.TrimSpace(addr) == "" {
		return errors.New("address is required")
	}
	if _, err := net.ResolveTCPAddr("tcp", addr); err != nil {
		return err
	}
	return nil
}

func validateDNSServer(addr string) error {
	host := addr
	if h, _, err := net.SplitHostPort(addr); err == nil {
		host = h
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("%q is not an IP address", host)
	}
	return nil
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if parsed.Host == "" {
		return errors.New("must include a host")
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	return nil
}

func ensureWritable(path string) error {
	dir := filepath.Dir(path)
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}

	file, err := os.CreateTemp(dir, "pacr-validate-*")
	if err != nil {
		return err
	}
	name := file.Name()
	if err := file.Close(); err != nil {
		return err
	}
	return os.Remove(name)
}
