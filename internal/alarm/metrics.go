package alarm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricPrefix = "siren_alarm_"

// Metrics はアラームサービスのPrometheusメトリクス。
type Metrics struct {
	// alarms は保存したアラームの件数（重要度別）。
	alarms *prometheus.CounterVec
	// rejected は拒否した発報リクエストの件数（HTTPステータス別）。
	rejected *prometheus.CounterVec
	// deliveries は配信結果の件数（delivered または失敗理由別）。
	deliveries *prometheus.CounterVec
	// dispatchDuration はアラーム1件の配信にかかった時間。
	dispatchDuration prometheus.Histogram
	// mirrorFailures は通知サービスへの受信者登録に失敗した件数。
	mirrorFailures prometheus.Counter
}

// NewMetrics はメトリクスを生成してregistryに登録する。
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		alarms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "alarms_total",
			Help: "Total alarms persisted by level",
		}, []string{"level"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "rejected_total",
			Help: "Total alarm requests rejected by status",
		}, []string{"status"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metricPrefix + "deliveries_total",
			Help: "Total delivery calls by result",
		}, []string{"result"}),
		dispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "dispatch_duration_seconds",
			Help:    "Time to fan out one alarm to all recipients",
			Buckets: prometheus.DefBuckets,
		}),
		mirrorFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "recipient_mirror_failures_total",
			Help: "Total failures registering users with the notification service",
		}),
	}
	registry.MustRegister(
		m.alarms,
		m.rejected,
		m.deliveries,
		m.dispatchDuration,
		m.mirrorFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}
