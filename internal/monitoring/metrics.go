package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientLabel names the viewer client a dropped frame was destined for.
const ClientLabel = "client"

// Metrics holds the playback and viewer instruments. A nil *Metrics is valid
// and records nothing, so components can be used without a registry.
type Metrics struct {
	registry *prometheus.Registry

	FramesRendered prometheus.Counter
	FrameLoad      prometheus.Histogram
	FramePoints    prometheus.Gauge
	PlaybackIndex  prometheus.Gauge
	ViewerClients  prometheus.Gauge
	FramesDropped  *prometheus.CounterVec
}

// NewMetrics builds a registry with the Go runtime collector and the
// visualiser's own metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(
			collectors.WithGoCollectorRuntimeMetrics(collectors.MetricsAll),
		),
	)

	buckets := []float64{}
	for i := 1; i < 16; i++ {
		buckets = append(buckets, (time.Duration(i*i) * time.Millisecond).Seconds())
	}

	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		FramesRendered: factory.NewCounter(prometheus.CounterOpts{
			Name: "lidarviz_frames_rendered_total",
			Help: "The total number of frames handed to renderers",
		}),
		FrameLoad: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lidarviz_frame_load_seconds",
			Help:    "Time spent loading a frame from its dataset",
			Buckets: buckets,
		}),
		FramePoints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lidarviz_frame_points",
			Help: "Number of points in the most recently rendered frame",
		}),
		PlaybackIndex: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lidarviz_playback_index",
			Help: "Dataset index of the most recently rendered frame",
		}),
		ViewerClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lidarviz_viewer_clients",
			Help: "Number of connected gRPC viewer clients",
		}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lidarviz_frames_dropped_total",
			Help: "Frames dropped because a viewer client fell behind",
		}, []string{ClientLabel}),
	}
}

// Registry returns the underlying prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFrame records one rendered frame.
func (m *Metrics) ObserveFrame(index, points int, load time.Duration) {
	if m == nil {
		return
	}
	m.FramesRendered.Inc()
	m.FrameLoad.Observe(load.Seconds())
	m.FramePoints.Set(float64(points))
	m.PlaybackIndex.Set(float64(index))
}

// SetClients records the number of connected viewers.
func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.ViewerClients.Set(float64(n))
}

// DroppedFrame counts a frame skipped for a slow client.
func (m *Metrics) DroppedFrame(clientID string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(clientID).Inc()
}
