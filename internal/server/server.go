// Package server exposes proxy lookups over HTTP.
package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/pacr/pacr/internal/logging"
	"github.com/pacr/pacr/internal/normalize"
	"github.com/pacr/pacr/internal/observability"
	"github.com/pacr/pacr/internal/pac"
	"github.com/pacr/pacr/internal/policy"
	"github.com/pacr/pacr/internal/ratelimit"
)

const (
	pacContentType     = "application/x-ns-proxy-autoconfig"
	defaultEvalTimeout = 5 * time.Second
)

// ScriptLoader returns the current script text.
type ScriptLoader interface {
	Load(ctx context.Context) (string, error)
	Origin() string
}

type Options struct {
	Loader      ScriptLoader
	Cache       *pac.Cache
	Fallback    pac.Directive
	Limiter     *ratelimit.Limiter
	DecisionLog *logging.DecisionLogger
	Metrics     *observability.Metrics
	// EvalTimeout bounds resolver lookups made while evaluating one request.
	EvalTimeout time.Duration
}

type Server struct {
	loader      ScriptLoader
	cache       *pac.Cache
	fallback    pac.Directive
	limiter     *ratelimit.Limiter
	decisionLog *logging.DecisionLogger
	metrics     *observability.Metrics
	evalTimeout time.Duration
	log         *logrus.Entry
	now         func() time.Time
}

func New(opts Options) (*Server, error) {
	if opts.Loader == nil {
		return nil, errors.New("script loader is required")
	}
	if opts.Cache == nil {
		opts.Cache = pac.NewCache(0, pac.Options{Fallback: opts.Fallback})
	}
	if len(opts.Fallback.Entries) == 0 {
		opts.Fallback = pac.DefaultFallback
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = defaultEvalTimeout
	}
	return &Server{
		loader:      opts.Loader,
		cache:       opts.Cache,
		fallback:    opts.Fallback,
		limiter:     opts.Limiter,
		decisionLog: opts.DecisionLog,
		metrics:     opts.Metrics,
		evalTimeout: opts.EvalTimeout,
		log:         logging.NewLogger("server"),
		now:         time.Now,
	}, nil
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/proxy.pac", s.handleScript)
	r.With(s.rateLimit).Get("/resolve", s.handleResolve)
	return r
}

type resolveResponse struct {
	Directive string      `json:"directive"`
	Entries   []pac.Entry `json:"entries"`
	Action    string      `json:"action"`
	Outcome   string      `json:"outcome"`
	Clause    int         `json:"clause,omitempty"`
	Fallback  bool        `json:"fallback"`
	Error     string      `json:"error,omitempty"`
	RequestID string      `json:"request_id"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	start := s.now()
	query := r.URL.Query()
	decision := logging.Decision{
		Timestamp: start.UTC(),
		RequestID: middleware.GetReqID(r.Context()),
		ClientIP:  clientIP(r),
		URL:       query.Get("url"),
		Host:      query.Get("host"),
	}

	target, err := normalize.Apply(query.Get("url"), query.Get("host"))
	if err != nil {
		var inputErr *pac.InvalidInputError
		field := ""
		if errors.As(err, &inputErr) {
			field = inputErr.Field
		}
		decision.Outcome = "rejected"
		decision.Error = err.Error()
		s.record(decision, start, err)

		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: err.Error(), Field: field, RequestID: decision.RequestID})
		return
	}
	decision.URL, decision.Host = target.URL, target.Host

	res, hash, hit, err := s.evaluate(r.Context(), target)
	decision.ScriptHash, decision.CacheHit = hash, hit

	d := policy.Decide(res, err, s.fallback)
	decision.Directive = d.Directive.String()
	decision.Outcome = string(d.Outcome)
	decision.Clause = d.Clause
	decision.Action = string(d.Action)
	if err != nil {
		decision.Error = err.Error()
		s.log.WithError(err).WithField("host", target.Host).Warn("evaluation failed, using fallback")
	}
	s.record(decision, start, err)

	render.JSON(w, r, resolveResponse{
		Directive: decision.Directive,
		Entries:   d.Directive.Entries,
		Action:    decision.Action,
		Outcome:   decision.Outcome,
		Clause:    d.Clause,
		Fallback:  d.Action == policy.ActionFallback,
		Error:     decision.Error,
		RequestID: decision.RequestID,
	})
}

// evaluate loads the script under the request context, whose deadline is the
// loader's own fetch timeout. Only resolver lookups run under evalTimeout.
func (s *Server) evaluate(ctx context.Context, target normalize.Target) (pac.Result, string, bool, error) {
	text, err := s.loader.Load(ctx)
	s.metrics.ScriptLoad(err)
	if err != nil {
		return pac.Result{}, "", false, err
	}

	hash := scriptHash(text)
	script, hit, err := s.cache.Get(text)
	if err != nil {
		return pac.Result{}, hash, hit, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, s.evalTimeout)
	defer cancel()
	res, err := script.EvaluateContext(evalCtx, target.URL, target.Host)
	return res, hash, hit, err
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	text, err := s.loader.Load(r.Context())
	s.metrics.ScriptLoad(err)
	if err != nil {
		s.log.WithError(err).Error("load script")
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, errorResponse{Error: err.Error(), RequestID: middleware.GetReqID(r.Context())})
		return
	}
	w.Header().Set("Content-Type", pacContentType)
	_, _ = w.Write([]byte(text))
}

type healthResponse struct {
	Status  string `json:"status"`
	Source  string `json:"source"`
	Clauses int    `json:"clauses"`
	Default bool   `json:"has_default"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Source: s.loader.Origin()}

	text, err := s.loader.Load(r.Context())
	var script *pac.Script
	if err == nil {
		script, _, err = s.cache.Get(text)
	}
	if err != nil {
		resp.Status = "degraded"
		resp.Error = err.Error()
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, resp)
		return
	}

	resp.Clauses = len(script.Clauses)
	resp.Default = script.Default != nil
	render.JSON(w, r, resp)
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r), s.now()) {
			s.metrics.RateLimited()
			render.Status(r, http.StatusTooManyRequests)
			render.JSON(w, r, errorResponse{Error: "rate limit exceeded", RequestID: middleware.GetReqID(r.Context())})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) record(decision logging.Decision, start time.Time, err error) {
	decision.DurationUS = s.now().Sub(start).Microseconds()
	if s.decisionLog != nil {
		if werr := s.decisionLog.Write(decision); werr != nil {
			s.log.WithError(werr).Error("write decision log")
		}
	}
	s.metrics.Observe(decision, policy.ErrorKind(err))
}

// SweepLimiter drops idle rate limit buckets every interval until ctx ends.
func (s *Server) SweepLimiter(ctx context.Context, interval time.Duration) {
	if s.limiter == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.limiter.Sweep(now, ratelimit.DefaultIdle)
		}
	}
}

func scriptHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:8])
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
