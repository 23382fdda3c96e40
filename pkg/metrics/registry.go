// Package metrics provides Prometheus instrumentation for the
// coordination core and the DFS broker.
//
// Metric structs are nil-safe: components accept a nil metrics pointer
// and every recording method no-ops on nil, so disabling metrics has
// zero overhead and no conditional wiring.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aerie"

var (
	regMu    sync.Mutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide metric registry with the
// standard Go and process collectors. Idempotent.
func InitRegistry() {
	regMu.Lock()
	defer regMu.Unlock()

	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	regMu.Lock()
	defer regMu.Unlock()
	return registry != nil
}

// Registerer returns the active registerer, or nil when metrics are
// disabled.
func Registerer() prometheus.Registerer {
	regMu.Lock()
	defer regMu.Unlock()
	if registry == nil {
		return nil
	}
	return registry
}

// Handler returns the /metrics HTTP handler. Serves an empty exposition
// when metrics are disabled.
func Handler() http.Handler {
	regMu.Lock()
	defer regMu.Unlock()
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// register registers collectors, tolerating duplicates so component
// restarts within one process do not panic.
func register(reg prometheus.Registerer, cs ...prometheus.Collector) {
	if reg == nil {
		return
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
