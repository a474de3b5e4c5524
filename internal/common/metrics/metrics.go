package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ledgerOps       *prometheus.CounterVec
	storeDuration   *prometheus.HistogramVec
	requestDuration *prometheus.HistogramVec
	referralCredits prometheus.Counter
	sweepDuration   prometheus.Histogram
	sweepAccounts   prometheus.Gauge
	transactions    *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ledgerOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Ledger operations by name and outcome",
		}, []string{"op", "outcome"}),
		storeDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_store_duration_seconds",
			Help:    "Duration of account store calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		referralCredits: f.NewCounter(prometheus.CounterOpts{
			Name: "ledger_referral_credits_total",
			Help: "Referral bonuses applied to referrers",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_energy_sweep_duration_seconds",
			Help:    "Duration of the bulk energy reset",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300},
		}),
		sweepAccounts: f.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_energy_sweep_accounts",
			Help: "Accounts refilled by the last bulk energy reset",
		}),
		transactions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Transaction log appends by outcome",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveOp(op, outcome string) {
	if m == nil {
		return
	}
	m.ledgerOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) ObserveStore(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) ReferralCredited() {
	if m == nil {
		return
	}
	m.referralCredits.Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration, accounts int64) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
	m.sweepAccounts.Set(float64(accounts))
}

func (m *Metrics) ObserveTransaction(outcome string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request duration keyed by the matched route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
