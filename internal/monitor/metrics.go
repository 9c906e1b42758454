package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "neat_trader"

// Metrics 为实盘循环的 Prometheus 指标，使用独立 Registry。
type Metrics struct {
	registry *prometheus.Registry

	Ticks             prometheus.Counter
	Intents           *prometheus.CounterVec
	Executions        *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	EvaluationLatency prometheus.Histogram
	AvailableBalance  prometheus.Gauge
	PositionSize      prometheus.Gauge
	DurationRemaining prometheus.Gauge
}

// NewMetrics 创建并注册全部指标。
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "ticks_total",
			Help:      "Total number of decision cycles processed",
		}),
		Intents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "intents_total",
			Help:      "Total number of order intents by reason",
		}, []string{"reason"}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "orders_total",
			Help:      "Total number of submitted orders by outcome",
		}, []string{"outcome"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "errors_total",
			Help:      "Total number of skipped cycles by error kind",
		}, []string{"kind"}),
		EvaluationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "evaluation_latency_seconds",
			Help:      "Latency of one full decision cycle in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		AvailableBalance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "available_balance",
			Help:      "Available balance of the margin asset",
		}),
		PositionSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "account",
			Name:      "position_size",
			Help:      "Signed position size of the traded pair",
		}),
		DurationRemaining: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "lifecycle",
			Name:      "duration_remaining",
			Help:      "Remaining cycles before the open position is force closed",
		}),
	}
}

// ObserveLatency 记录一个周期的耗时。
func (m *Metrics) ObserveLatency(start time.Time) {
	m.EvaluationLatency.Observe(time.Since(start).Seconds())
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 返回 /metrics 处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
