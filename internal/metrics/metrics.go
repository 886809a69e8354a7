// Package metrics exposes build and cache counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	builds = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiln",
		Name:      "builds_total",
		Help:      "Builds run, by result.",
	}, []string{"result"})

	buildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kiln",
		Name:      "build_duration_seconds",
		Help:      "Wall time of builds.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	layerCache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kiln",
		Name:      "layer_cache_lookups_total",
		Help:      "Layer cache lookups, by result.",
	}, []string{"result"})

	pruned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kiln",
		Name:      "layers_pruned_total",
		Help:      "Cached layers removed by pruning.",
	})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		builds,
		buildDuration,
		layerCache,
		pruned,
	)
}

// Records a finished build.
func ObserveBuild(d time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	builds.WithLabelValues(result).Inc()
	buildDuration.Observe(d.Seconds())
}

// Records a layer cache lookup.
func LayerCacheResult(hit bool) {
	if hit {
		layerCache.WithLabelValues("hit").Inc()
		return
	}
	layerCache.WithLabelValues("miss").Inc()
}

// Records pruned layers.
func Pruned(n int) {
	pruned.Add(float64(n))
}

// Returns the registry holding kiln's collectors.
func Registry() *prometheus.Registry {
	return registry
}

// Serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
