// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層やミドルウェアから利用する。
type MetricsCollector interface {
	RecordPartnerTransition(operation string)
	RecordPartnerRejection(operation, code string)
	RecordTransitionLatency(duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordAccountRegistered()
	RecordLoginFailure()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	partnerTransitions *prometheus.CounterVec
	partnerRejections  *prometheus.CounterVec
	transitionLatency  prometheus.Histogram
	httpStatus         *prometheus.CounterVec
	accountsRegistered prometheus.Counter
	loginFailures      prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		partnerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fintrack_partner_transitions_total",
			Help: "操作別のパートナー状態遷移の成功数",
		}, []string{"operation"}),
		partnerRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fintrack_partner_rejections_total",
			Help: "操作・エラーコード別のパートナー操作の失敗数",
		}, []string{"operation", "code"}),
		transitionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fintrack_partner_transition_latency_seconds",
			Help:    "パートナー状態遷移のトランザクション所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fintrack_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		accountsRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_accounts_registered_total",
			Help: "登録されたアカウントの合計数",
		}),
		loginFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fintrack_login_failures_total",
			Help: "ログイン失敗の合計数",
		}),
	}

	reg.MustRegister(
		c.partnerTransitions,
		c.partnerRejections,
		c.transitionLatency,
		c.httpStatus,
		c.accountsRegistered,
		c.loginFailures,
	)

	return c
}

// RecordPartnerTransition はパートナー状態遷移の成功を記録する。
func (c *Collector) RecordPartnerTransition(operation string) {
	c.partnerTransitions.WithLabelValues(operation).Inc()
}

// RecordPartnerRejection はパートナー操作の失敗を記録する。
func (c *Collector) RecordPartnerRejection(operation, code string) {
	c.partnerRejections.WithLabelValues(operation, code).Inc()
}

// RecordTransitionLatency は状態遷移の所要時間を記録する。
func (c *Collector) RecordTransitionLatency(duration time.Duration) {
	c.transitionLatency.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordAccountRegistered はアカウント登録を記録する。
func (c *Collector) RecordAccountRegistered() {
	c.accountsRegistered.Inc()
}

// RecordLoginFailure はログイン失敗を記録する。
func (c *Collector) RecordLoginFailure() {
	c.loginFailures.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
