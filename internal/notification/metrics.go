package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricPrefix = "siren_notification_"

// Metrics は通知サービスのPrometheusメトリクス。
type Metrics struct {
	// received は保存した通知の件数。
	received prometheus.Counter
	// rejected は拒否した配信リクエストの件数（理由別）。
	rejected *prometheus.CounterVec
	// publishFailures はライブ配信への発行に失敗した件数。
	publishFailures prometheus.Counter
	// dropped はバッファ溢れで破棄したライブ配信の件数。
	dropped prometheus.Counter
	// subscribers は接続中のライブ配信購読者数（経路別）。
	subscribers *prometheus.GaugeVec
}

// NewMetrics はメトリクスを生成してregistryに登録する。
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "received_total",
			Help: "Total notifications persisted",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "rejected_total",
			Help: "Total delivery requests rejected by reason",
		}, []string{"reason"}),
		publishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "publish_failures_total",
			Help: "Total live publish failures after persistence",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "live_dropped_total",
			Help: "Total live events dropped for slow subscribers",
		}),
		subscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metricPrefix + "live_subscribers",
			Help: "Current live subscribers by transport",
		}, []string{"transport"}),
	}
	registry.MustRegister(
		m.received,
		m.rejected,
		m.publishFailures,
		m.dropped,
		m.subscribers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// onDrop はブローカーのOnDropに渡すフック。
func (m *Metrics) onDrop(int64) {
	m.dropped.Inc()
}
