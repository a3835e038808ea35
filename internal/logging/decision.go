package logging

import (
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const maxURL = 256

// Decision is written as a single JSON object per lookup.
type Decision struct {
	Timestamp  time.Time `json:"ts"`
	RequestID  string    `json:"request_id"`
	ClientIP   string    `json:"client_ip"`
	URL        string    `json:"url"`
	Host       string    `json:"host"`
	Directive  string    `json:"directive"`
	Outcome    string    `json:"outcome"`
	Clause     int       `json:"clause"`
	Action     string    `json:"action"`
	Error      string    `json:"error,omitempty"`
	ScriptHash string    `json:"script_hash"`
	CacheHit   bool      `json:"cache_hit"`
	DurationUS int64     `json:"duration_us"`
}

type DecisionLogger struct {
	mu sync.Mutex
	w  io.Writer
}

func NewDecisionLogger(w io.Writer) *DecisionLogger {
	return &DecisionLogger{w: w}
}

func OpenDecisionLog(path string) (*DecisionLogger, func() error, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nil, err
	}
	return NewDecisionLogger(file), file.Close, nil
}

func (l *DecisionLogger) Write(decision Decision) error {
	decision.URL = sanitizeURL(decision.URL)

	data, err := json.Marshal(decision)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.w.Write(append(data, '\n'))
	return err
}

// sanitizeURL drops credentials, query and fragment, then truncates.
func sanitizeURL(raw string) string {
	if parsed, err := url.Parse(raw); err == nil && parsed.Scheme != "" {
		parsed.User = nil
		parsed.RawQuery = ""
		parsed.Fragment = ""
		raw = parsed.String()
	}
	if len(raw) > maxURL {
		return raw[:maxURL]
	}
	return raw
}
