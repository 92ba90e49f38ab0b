// Package metrics はリクエスト統計の収集とPrometheus形式での公開を提供する。
package metrics

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はHTTPリクエストの統計を収集する。
// Prometheusのメトリクスに加え、/api/stats用のプロセス内集計も保持する。
type Collector struct {
	requestsTotal   *prometheus.CounterVec
	errorsTotal     *prometheus.CounterVec
	requestDuration prometheus.Histogram

	mu        sync.Mutex
	requests  int64
	errors    int64
	endpoints map[string]int64
	startTime time.Time
	now       func() time.Time
}

// Snapshot はある時点のリクエスト統計。
type Snapshot struct {
	Requests        int64            `json:"requests"`
	Endpoints       map[string]int64 `json:"endpoints"`
	Errors          int64            `json:"errors"`
	StartTime       int64            `json:"startTime"` // Unixミリ秒
	Uptime          string           `json:"uptime"`
	RequestsPerHour int64            `json:"requestsPerHour"`
	ErrorRate       string           `json:"errorRate"`
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptlabs_http_requests_total",
			Help: "エンドポイント別のリクエスト数",
		}, []string{"endpoint"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scriptlabs_http_errors_total",
			Help: "ステータスコード400以上のレスポンス数",
		}, []string{"status_code"}),
		requestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scriptlabs_http_request_duration_seconds",
			Help:    "リクエスト処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		endpoints: make(map[string]int64),
		now:       time.Now,
	}
	c.startTime = c.now()

	reg.MustRegister(
		c.requestsTotal,
		c.errorsTotal,
		c.requestDuration,
	)

	return c
}

// RecordRequest は1件のリクエストを記録する。endpointは"METHOD パターン"形式。
func (c *Collector) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	c.requestsTotal.WithLabelValues(endpoint).Inc()
	c.requestDuration.Observe(duration.Seconds())
	if statusCode >= 400 {
		c.errorsTotal.WithLabelValues(strconv.Itoa(statusCode)).Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests++
	c.endpoints[endpoint]++
	if statusCode >= 400 {
		c.errors++
	}
}

// Snapshot は現在の統計を返す。
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	uptime := c.now().Sub(c.startTime)
	endpoints := make(map[string]int64, len(c.endpoints))
	for k, v := range c.endpoints {
		endpoints[k] = v
	}

	s := Snapshot{
		Requests:  c.requests,
		Endpoints: endpoints,
		Errors:    c.errors,
		StartTime: c.startTime.UnixMilli(),
		Uptime:    fmt.Sprintf("%dh %dm", int(uptime.Hours()), int(uptime.Minutes())%60),
		ErrorRate: "0.00%",
	}
	if hours := uptime.Hours(); hours > 0 {
		s.RequestsPerHour = int64(math.Round(float64(c.requests) / hours))
	}
	if c.requests > 0 {
		s.ErrorRate = fmt.Sprintf("%.2f%%", float64(c.errors)/float64(c.requests)*100)
	}
	return s
}

// Handler はPrometheus形式でメトリクスを返すHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
