package monitoring

import (
	"time"

	"streamguard/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisions = []domain.SwitchType{
	domain.SwitchNormal,
	domain.SwitchLow,
	domain.SwitchOffline,
	domain.SwitchPrevious,
}

type PrometheusCollector struct {
	ticksTotal       prometheus.Counter
	evaluationsTotal *prometheus.CounterVec
	fetchDuration    *prometheus.HistogramVec
	tickDuration     prometheus.Histogram
	currentDecision  *prometheus.GaugeVec
	websocketClients prometheus.Gauge
	httpRequests     *prometheus.CounterVec
}

// NewPrometheusCollector registers the collectors on reg. Pass
// prometheus.DefaultRegisterer to expose them on /metrics.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)

	return &PrometheusCollector{
		ticksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "streamguard_monitor_ticks_total",
			Help: "Total number of monitor ticks",
		}),

		evaluationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamguard_evaluations_total",
			Help: "Switch decisions per stream server",
		}, []string{"server", "decision"}),

		fetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "streamguard_evaluation_duration_seconds",
			Help:    "Time spent evaluating one stream server, login included",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"server", "kind"}),

		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "streamguard_monitor_tick_duration_seconds",
			Help:    "Time spent evaluating every enabled stream server",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),

		currentDecision: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "streamguard_decision",
			Help: "1 for the latest decision of each stream server, 0 for the others",
		}, []string{"server", "decision"}),

		websocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "streamguard_websocket_clients",
			Help: "Connected decision stream subscribers",
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "streamguard_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
	}
}

func (p *PrometheusCollector) RecordTick(d time.Duration) {
	p.ticksTotal.Inc()
	p.tickDuration.Observe(d.Seconds())
}

// RecordEvaluation counts the decision and marks it as the current one.
func (p *PrometheusCollector) RecordEvaluation(e domain.Evaluation) {
	p.evaluationsTotal.WithLabelValues(e.Server, e.Decision.String()).Inc()
	p.fetchDuration.WithLabelValues(e.Server, e.Kind).Observe(e.Duration.Seconds())

	for _, d := range decisions {
		v := 0.0
		if d == e.Decision {
			v = 1
		}
		p.currentDecision.WithLabelValues(e.Server, d.String()).Set(v)
	}
}

func (p *PrometheusCollector) SetWebsocketClients(n int) {
	p.websocketClients.Set(float64(n))
}

func (p *PrometheusCollector) RecordHTTPRequest(method, route, status string) {
	p.httpRequests.WithLabelValues(method, route, status).Inc()
}
