package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pacr/pacr/internal/logging"
)

type Metrics struct {
	lookupsTotal       *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
	scriptCacheTotal   *prometheus.CounterVec
	ratelimitHitsTotal prometheus.Counter
	scriptLoadsTotal   *prometheus.CounterVec
	lookupDuration     *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pacr_lookups_total", Help: "Total proxy lookups"},
			[]string{"outcome", "action"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pacr_errors_total", Help: "Total lookups that failed before evaluation completed"},
			[]string{"kind"},
		),
		scriptCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pacr_script_cache_total", Help: "Parsed script cache lookups"},
			[]string{"result"},
		),
		ratelimitHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "pacr_ratelimit_hits_total", Help: "Total rate limited lookups"},
		),
		scriptLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "pacr_script_loads_total", Help: "Script source loads"},
			[]string{"result"},
		),
		lookupDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pacr_lookup_duration_seconds",
				Help:    "Lookup duration in seconds",
				Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05, .25, 1},
			},
			[]string{"outcome"},
		),
	}

	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.lookupsTotal,
		m.errorsTotal,
		m.scriptCacheTotal,
		m.ratelimitHitsTotal,
		m.scriptLoadsTotal,
		m.lookupDuration,
	)

	return m
}

func (m *Metrics) Handler(reg *prometheus.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Observe records one completed lookup. errKind is empty for clean lookups.
func (m *Metrics) Observe(decision logging.Decision, errKind string) {
	if m == nil {
		return
	}

	m.lookupsTotal.WithLabelValues(decision.Outcome, decision.Action).Inc()
	m.lookupDuration.WithLabelValues(decision.Outcome).Observe((time.Duration(decision.DurationUS) * time.Microsecond).Seconds())

	if decision.ScriptHash != "" {
		result := "miss"
		if decision.CacheHit {
			result = "hit"
		}
		m.scriptCacheTotal.WithLabelValues(result).Inc()
	}
	if errKind != "" {
		m.errorsTotal.WithLabelValues(errKind).Inc()
	}
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.ratelimitHitsTotal.Inc()
}

func (m *Metrics) ScriptLoad(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.scriptLoadsTotal.WithLabelValues(result).Inc()
}
