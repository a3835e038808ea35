// Package source loads PAC script text from a file, an inline string or a
// remote URL. Remote bodies are cached for a TTL.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/pacr/pacr/internal/logging"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	DefaultTimeout  = 15 * time.Second
	DefaultMaxBytes = 1 << 20

	maxRedirects = 5
)

var (
	ErrNoSource      = errors.New("one of file, inline or url is required")
	ErrMultiSource   = errors.New("only one of file, inline or url may be set")
	ErrInvalidUTF8   = errors.New("script is not valid UTF-8")
	ErrTooLarge      = errors.New("script exceeds size limit")
	errBadScheme     = errors.New("only http and https urls are allowed")
	errEmptyResponse = errors.New("empty response body")
)

type Config struct {
	File     string
	Inline   string
	URL      string
	CacheTTL time.Duration
	Timeout  time.Duration
	MaxBytes int64
}

// FetchError reports a failed remote fetch. Status is the HTTP status code when
// the server answered, 0 otherwise.
type FetchError struct {
	Status int
	URL    string
	Cause  error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

type Loader struct {
	cfg    Config
	client *resty.Client
	group  singleflight.Group
	log    *logrus.Entry
	now    func() time.Time

	mu        sync.Mutex
	body      string
	fetchedAt time.Time
}

func New(cfg Config) (*Loader, error) {
	set := 0
	for _, v := range []string{cfg.File, cfg.Inline, cfg.URL} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return nil, ErrNoSource
	case set > 1:
		return nil, ErrMultiSource
	}

	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}

	l := &Loader{
		cfg: cfg,
		log: logging.NewLogger("source"),
		now: time.Now,
	}
	if cfg.URL != "" {
		if err := checkScheme(cfg.URL); err != nil {
			return nil, &FetchError{URL: cfg.URL, Cause: err}
		}
		l.client = resty.New().
			SetTimeout(cfg.Timeout).
			SetRedirectPolicy(resty.FlexibleRedirectPolicy(maxRedirects), resty.RedirectPolicyFunc(func(req *http.Request, _ []*http.Request) error {
				return checkScheme(req.URL.String())
			}))
	}
	return l, nil
}

// Origin describes where the script comes from, for logs.
func (l *Loader) Origin() string {
	switch {
	case l.cfg.File != "":
		return "file:" + l.cfg.File
	case l.cfg.URL != "":
		return l.cfg.URL
	default:
		return "inline"
	}
}

// Load returns the current script text. Files are re-read on every call so
// edits take effect without a restart.
func (l *Loader) Load(ctx context.Context) (string, error) {
	switch {
	case l.cfg.Inline != "":
		return l.cfg.Inline, nil
	case l.cfg.File != "":
		return l.readFile()
	default:
		return l.loadRemote(ctx)
	}
}

func (l *Loader) readFile() (string, error) {
	f, err := os.Open(l.cfg.File)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	defer f.Close()

	text, err := readLimited(f, l.cfg.MaxBytes)
	if err != nil {
		return "", fmt.Errorf("read script %s: %w", l.cfg.File, err)
	}
	return text, nil
}

func (l *Loader) cached() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fetchedAt.IsZero() || l.now().Sub(l.fetchedAt) >= l.cfg.CacheTTL {
		return "", false
	}
	return l.body, true
}

func (l *Loader) loadRemote(ctx context.Context) (string, error) {
	if body, ok := l.cached(); ok {
		return body, nil
	}

	// The fetch is shared by every caller waiting on this flight, so one caller
	// going away must not cancel it. The client timeout still bounds it.
	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(l.cfg.URL, func() (any, error) {
		// a flight that finished just before this one may have refreshed it
		if body, ok := l.cached(); ok {
			return body, nil
		}
		body, err := l.fetch(fetchCtx)
		if err != nil {
			return "", err
		}
		l.mu.Lock()
		l.body, l.fetchedAt = body, l.now()
		l.mu.Unlock()
		return body, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return "", &FetchError{URL: l.cfg.URL, Cause: ctx.Err()}
	}
	if err := res.Err; err != nil {
		l.mu.Lock()
		stale := l.body
		l.mu.Unlock()
		if stale != "" {
			l.log.WithError(err).Warn("refresh failed, serving stale script")
			return stale, nil
		}
		return "", err
	}
	return res.Val.(string), nil
}

func (l *Loader) fetch(ctx context.Context) (string, error) {
	start := l.now()
	resp, err := l.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(l.cfg.URL)
	if err != nil {
		return "", &FetchError{URL: l.cfg.URL, Cause: err}
	}
	raw := resp.RawBody()
	defer raw.Close()

	if !resp.IsSuccess() {
		return "", &FetchError{Status: resp.StatusCode(), URL: l.cfg.URL}
	}

	text, err := readLimited(raw, l.cfg.MaxBytes)
	if err != nil {
		return "", &FetchError{URL: l.cfg.URL, Cause: err}
	}
	if text == "" {
		return "", &FetchError{URL: l.cfg.URL, Cause: errEmptyResponse}
	}

	l.log.WithFields(logrus.Fields{
		"url":      l.cfg.URL,
		"bytes":    len(text),
		"duration": l.now().Sub(start),
	}).Info("fetched script")
	return text, nil
}

func readLimited(r io.Reader, maxBytes int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > maxBytes {
		return "", ErrTooLarge
	}
	if !utf8.Valid(data) {
		return "", ErrInvalidUTF8
	}
	return string(data), nil
}

func checkScheme(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errBadScheme
	}
	if u.Host == "" {
		return errors.New("url has no host")
	}
	return nil
}
