package controlplane

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cleanupd/internal/usage"
)

type metrics struct {
	registry *prometheus.Registry
	mu       sync.Mutex

	indexFiles      prometheus.Gauge
	indexBytes      prometheus.Gauge
	targetFiles     *prometheus.GaugeVec
	targetBytes     *prometheus.GaugeVec
	targetFree      *prometheus.GaugeVec
	targetRefreshed *prometheus.GaugeVec
	scrapeErrors    prometheus.Counter
	requests        *prometheus.CounterVec
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		indexFiles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cleanupd",
				Subsystem: "index",
				Name:      "files",
				Help:      "number of files in the index",
			}),
		indexBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "cleanupd",
				Subsystem: "index",
				Name:      "bytes",
				Help:      "total size of indexed files",
			}),
		targetFiles: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cleanupd",
				Subsystem: "target",
				Name:      "files",
				Help:      "indexed files per target",
			}, []string{"target"}),
		targetBytes: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cleanupd",
				Subsystem: "target",
				Name:      "bytes",
				Help:      "indexed bytes per target",
			}, []string{"target"}),
		targetFree: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cleanupd",
				Subsystem: "target",
				Name:      "free_bytes",
				Help:      "bytes available on the filesystem holding the target",
			}, []string{"target"}),
		targetRefreshed: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "cleanupd",
				Subsystem: "target",
				Name:      "last_refresh_age_seconds",
				Help:      "seconds since the target was last indexed",
			}, []string{"target"}),
		scrapeErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "cleanupd",
				Subsystem: "metrics",
				Name:      "refresh_errors_total",
				Help:      "failed reads of the index while refreshing metrics",
			}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "cleanupd",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "control-plane requests by route and status code",
			}, []string{"route", "code"}),
	}
	m.registry.MustRegister(
		m.indexFiles, m.indexBytes,
		m.targetFiles, m.targetBytes, m.targetFree, m.targetRefreshed,
		m.scrapeErrors, m.requests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// update replaces every target series with the report's contents, so removed
// targets disappear from the exposition.
func (m *metrics) update(report usage.Report, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexFiles.Set(float64(report.TotalEntries))
	m.indexBytes.Set(float64(report.TotalBytes))
	m.targetFiles.Reset()
	m.targetBytes.Reset()
	m.targetFree.Reset()
	m.targetRefreshed.Reset()
	for _, t := range report.Targets {
		m.targetFiles.WithLabelValues(t.TargetPath).Set(float64(t.Entries))
		m.targetBytes.WithLabelValues(t.TargetPath).Set(float64(t.IndexedBytes))
		if t.Disk != nil {
			m.targetFree.WithLabelValues(t.TargetPath).Set(float64(t.Disk.FreeBytes))
		}
		if !t.RefreshedAt.IsZero() {
			m.targetRefreshed.WithLabelValues(t.TargetPath).Set(now.Sub(t.RefreshedAt).Seconds())
		}
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response code for the request counter.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (m *metrics) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next(rec, r)
		m.requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	}
}
