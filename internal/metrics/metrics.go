// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector は同期エンジンのPrometheusメトリクスを収集する。
// worker/syncパッケージのMetricsCollectorインターフェースを実装する。
type Collector struct {
	cycleDuration        prometheus.Histogram
	patientsSynced       prometheus.Counter
	patientsSkipped      prometheus.Counter
	patientsFailed       prometheus.Counter
	readingsInserted     prometheus.Counter
	duplicatesSuppressed prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "glucosync_cycle_duration_seconds",
			Help:    "同期サイクルの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		patientsSynced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glucosync_patients_synced_total",
			Help: "同期に成功した患者の合計数",
		}),
		patientsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glucosync_patients_skipped_total",
			Help: "測定値なし等でスキップされた患者の合計数",
		}),
		patientsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glucosync_patients_failed_total",
			Help: "同期に失敗した患者の合計数",
		}),
		readingsInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glucosync_readings_inserted_total",
			Help: "登録された測定値の合計数",
		}),
		duplicatesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "glucosync_duplicates_suppressed_total",
			Help: "重複排除により抑制された測定値の合計数",
		}),
	}

	reg.MustRegister(
		c.cycleDuration,
		c.patientsSynced,
		c.patientsSkipped,
		c.patientsFailed,
		c.readingsInserted,
		c.duplicatesSuppressed,
	)

	return c
}

// RecordCycleDuration は同期サイクルの所要時間を記録する。
func (c *Collector) RecordCycleDuration(duration time.Duration) {
	c.cycleDuration.Observe(duration.Seconds())
}

// RecordPatientSynced は患者の同期成功を記録する。
func (c *Collector) RecordPatientSynced() {
	c.patientsSynced.Inc()
}

// RecordPatientSkipped は患者のスキップを記録する。
func (c *Collector) RecordPatientSkipped() {
	c.patientsSkipped.Inc()
}

// RecordPatientFailed は患者の同期失敗を記録する。
func (c *Collector) RecordPatientFailed() {
	c.patientsFailed.Inc()
}

// RecordReadingInserted は測定値の登録を記録する。
func (c *Collector) RecordReadingInserted() {
	c.readingsInserted.Inc()
}

// RecordDuplicateSuppressed は重複排除による抑制を記録する。
func (c *Collector) RecordDuplicateSuppressed() {
	c.duplicatesSuppressed.Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
