package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"

	"github.com/menta2k/hat-overlay/pkg/client"
	"github.com/menta2k/hat-overlay/pkg/types"
)

// DomainMetrics holds Prometheus metrics for placement, editing and the asset cache.
type DomainMetrics struct {
	PlacementsTotal    *prometheus.CounterVec
	EditsTotal         *prometheus.CounterVec
	AssetFetchesTotal  *prometheus.CounterVec
	AssetFetchDuration prometheus.Histogram
	UpstreamDuration   *prometheus.HistogramVec
	BreakerState       prometheus.Gauge
	BreakerChanges     *prometheus.CounterVec
}

// NewDomainMetrics creates and registers domain metrics on the given registry.
func NewDomainMetrics(reg prometheus.Registerer) *DomainMetrics {
	m := &DomainMetrics{
		PlacementsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "placements_total",
			Help:      "Total placements returned, by source (model/fallback).",
		}, []string{"source"}),
		EditsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edits_total",
			Help:      "Total image edit requests, by outcome.",
		}, []string{"outcome"}),
		AssetFetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "asset",
			Name:      "fetches_total",
			Help:      "Hat asset cache fetches, by result (success/failure/replay).",
		}, []string{"result"}),
		AssetFetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "asset",
			Name:      "fetch_duration_seconds",
			Help:      "Hat asset fetch duration in seconds.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 15},
		}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Model API call duration in seconds, by operation and status.",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"operation", "status"}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "circuit_breaker_state",
			Help:      "Current circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),
		BreakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "circuit_breaker_state_changes_total",
			Help:      "Circuit breaker state transitions by new state.",
		}, []string{"state"}),
	}

	reg.MustRegister(m.PlacementsTotal, m.EditsTotal, m.AssetFetchesTotal, m.AssetFetchDuration,
		m.UpstreamDuration, m.BreakerState, m.BreakerChanges)
	return m
}

// ObservePlacement counts a returned placement
func (m *DomainMetrics) ObservePlacement(p types.Placement) {
	m.PlacementsTotal.WithLabelValues(string(p.Source)).Inc()
}

// ObserveEdit counts an edit outcome: success or an error type
func (m *DomainMetrics) ObserveEdit(outcome string) {
	m.EditsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAssetFetch matches asset.Observer
func (m *DomainMetrics) ObserveAssetFetch(result string, d time.Duration) {
	m.AssetFetchesTotal.WithLabelValues(result).Inc()
	if result != "replay" {
		m.AssetFetchDuration.Observe(d.Seconds())
	}
}

// BreakerStateChanged matches the gemini client's state change callback
func (m *DomainMetrics) BreakerStateChanged(from, to gobreaker.State) {
	m.BreakerState.Set(breakerStateValue(to))
	m.BreakerChanges.WithLabelValues(to.String()).Inc()
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

// InstrumentVision times every SimpleQuery call
func (m *DomainMetrics) InstrumentVision(vc client.VisionClient) client.VisionClient {
	return &instrumentedVision{next: vc, m: m}
}

// InstrumentEditor times every GenerateImage call
func (m *DomainMetrics) InstrumentEditor(ed client.ImageEditor) client.ImageEditor {
	return &instrumentedEditor{next: ed, m: m}
}

func (m *DomainMetrics) observeUpstream(operation string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.UpstreamDuration.WithLabelValues(operation, status).Observe(time.Since(start).Seconds())
}

type instrumentedVision struct {
	next client.VisionClient
	m    *DomainMetrics
}

func (v *instrumentedVision) SimpleQuery(ctx context.Context, model, prompt string, img types.InlineImage) (string, error) {
	start := time.Now()
	out, err := v.next.SimpleQuery(ctx, model, prompt, img)
	v.m.observeUpstream("placement", start, err)
	return out, err
}

type instrumentedEditor struct {
	next client.ImageEditor
	m    *DomainMetrics
}

func (e *instrumentedEditor) GenerateImage(ctx context.Context, model, prompt string, images []types.InlineImage) (types.InlineImage, error) {
	start := time.Now()
	out, err := e.next.GenerateImage(ctx, model, prompt, images)
	e.m.observeUpstream("edit", start, err)
	return out, err
}
