// Package metrics exports engine activity to Prometheus and serves a small
// status API next to it.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rustyeddy/trailguard/exchange"
)

const namespace = "trailguard"

// Metrics implements the risk engine's Recorder. Each instance registers its
// collectors on its own registry so tests can build as many as they like.
type Metrics struct {
	reg *prometheus.Registry

	ticks        *prometheus.CounterVec
	ratchets     *prometheus.CounterVec
	reentries    prometheus.Counter
	kills        prometheus.Counter
	orderErrors  *prometheus.CounterVec
	positions    prometheus.Gauge
	states       prometheus.Gauge
	tickDuration prometheus.Histogram
	lastTick     prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		ticks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Evaluation passes by result (ok, partial, error).",
		}, []string{"result"}),
		ratchets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratchets_total",
			Help:      "Protective stops moved further into profit.",
		}, []string{"symbol", "side"}),
		reentries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reentries_total",
			Help:      "Market orders placed to double a position near liquidation.",
		}),
		kills: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kills_total",
			Help:      "Trailing states dropped because the position stopped being profitable.",
		}),
		orderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "order_errors_total",
			Help:      "Failed exchange order calls by operation and error kind.",
		}, []string{"op", "kind"}),
		positions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_positions",
			Help:      "Open positions seen on the last tick.",
		}),
		states: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_states",
			Help:      "Trailing states kept after the last reconcile.",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one evaluation pass.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		lastTick: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time of the last completed tick.",
		}),
	}
}

// Registry exposes the collectors for scraping.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) TickDone(result string, d time.Duration) {
	m.ticks.WithLabelValues(result).Inc()
	m.tickDuration.Observe(d.Seconds())
	m.lastTick.SetToCurrentTime()
}

func (m *Metrics) Ratchet(symbol string, side exchange.Side) {
	m.ratchets.WithLabelValues(symbol, string(side)).Inc()
}

func (m *Metrics) Reentry(string, exchange.Side) { m.reentries.Inc() }

func (m *Metrics) Kill(string, exchange.Side) { m.kills.Inc() }

func (m *Metrics) OrderError(op string, kind exchange.Kind) {
	m.orderErrors.WithLabelValues(op, kind.String()).Inc()
}

func (m *Metrics) Positions(n int) { m.positions.Set(float64(n)) }

func (m *Metrics) States(n int) { m.states.Set(float64(n)) }
