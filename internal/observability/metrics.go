package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authgateway"

// Result label values
const (
	ResultSuccess     = "success"
	ResultInvalid     = "invalid"
	ResultExpired     = "expired"
	ResultNotFound    = "not_found"
	ResultConflict    = "conflict"
	ResultError       = "error"
	ResultAnonymous   = "anonymous"
	ResultUnavailable = "unavailable"
)

// Metrics holds the auth counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	logins            *prometheus.CounterVec
	refreshes         *prometheus.CounterVec
	accessTokenChecks *prometheus.CounterVec
	jwksFetches       *prometheus.CounterVec
}

// NewMetrics creates the counters on a dedicated registry that also carries
// the Go runtime and process collectors.
func NewMetrics() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result",
		}, []string{"provider", "result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Refresh token exchanges by result",
		}, []string{"result"}),
		accessTokenChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "access_token_checks_total",
			Help:      "Bearer token validations performed by the gateway",
		}, []string{"result"}),
		jwksFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jwks_fetch_total",
			Help:      "Identity provider signing key fetches",
		}, []string{"provider", "result"}),
	}

	all := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins,
		m.refreshes,
		m.accessTokenChecks,
		m.jwksFetches,
	}
	for _, c := range all {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Handler exposes the registry for scraping
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveLogin(provider, result string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(provider, result).Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveAccessTokenCheck(result string) {
	if m == nil {
		return
	}
	m.accessTokenChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveJWKSFetch(provider, result string) {
	if m == nil {
		return
	}
	m.jwksFetches.WithLabelValues(provider, result).Inc()
}
