// Package metrics exposes the control plane's Prometheus metrics on a
// dedicated listener.
package metrics

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cloq"

var (
	ArtifactUploads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controlplane",
			Name:      "artifact_uploads_total",
			Help:      "Envelope uploads by result.",
		}, []string{"result"})

	ArtifactDownloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controlplane",
			Name:      "artifact_downloads_total",
			Help:      "Envelope downloads by result.",
		}, []string{"result"})

	ArtifactSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controlplane",
			Name:      "artifact_size_bytes",
			Help:      "Size of accepted envelopes.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 12),
		})
)

// MetricsServer serves /metrics from its own registry.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server
}

// New creates a metrics server for the named service listening on addr.
func New(name, addr string) (*MetricsServer, error) {
	registry := prometheus.NewRegistry()
	collectorsToRegister := []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		ArtifactUploads,
		ArtifactDownloads,
		ArtifactSize,
	}
	for _, c := range collectorsToRegister {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	info := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "build_info",
		Help:        "Constant 1, labelled with the service name.",
		ConstLabels: prometheus.Labels{"service": serviceLabel(name)},
	})
	info.Set(1)
	if err := registry.Register(info); err != nil {
		return nil, err
	}

	mux := chi.NewRouter()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	return &MetricsServer{
		registry: registry,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}, nil
}

// Handler returns the HTTP handler serving /metrics.
func (s *MetricsServer) Handler() http.Handler {
	return s.srv.Handler
}

func (s *MetricsServer) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

func (s *MetricsServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func serviceLabel(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
