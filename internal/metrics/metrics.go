// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// authsync.MetricsRecorder と HTTPミドルウェアのステータス記録を兼ねる。
type Collector struct {
	resolutions    *prometheus.CounterVec
	remoteFailures *prometheus.CounterVec
	linkPromotions prometheus.Counter
	sessionEvents  *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "torcida_profile_resolutions_total",
			Help: "プロフィール解決の結果別の合計数",
		}, []string{"outcome"}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "torcida_remote_failures_total",
			Help: "リモート呼び出し失敗の操作別の合計数",
		}, []string{"operation"}),
		linkPromotions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "torcida_youtube_link_promotions_total",
			Help: "youtube連携フラグを自動で有効にした合計数",
		}),
		sessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "torcida_session_events_total",
			Help: "認証イベント種別ごとの合計数",
		}, []string{"event"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "torcida_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.resolutions,
		c.remoteFailures,
		c.linkPromotions,
		c.sessionEvents,
		c.httpStatus,
	)

	return c
}

// RecordResolution はプロフィール解決の結果を記録する。
func (c *Collector) RecordResolution(outcome string) {
	c.resolutions.WithLabelValues(outcome).Inc()
}

// RecordRemoteFailure はリモート呼び出しの失敗を記録する。
func (c *Collector) RecordRemoteFailure(operation string) {
	c.remoteFailures.WithLabelValues(operation).Inc()
}

// RecordLinkPromotion はyoutube連携の自動有効化を記録する。
func (c *Collector) RecordLinkPromotion() {
	c.linkPromotions.Inc()
}

// RecordSessionEvent は認証イベントを記録する。
func (c *Collector) RecordSessionEvent(event string) {
	c.sessionEvents.WithLabelValues(event).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
