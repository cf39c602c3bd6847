// Package metrics exposes Prometheus metrics for the control plane.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirosfoundation/go-server-mongo/pkg/config"
)

// Operation results used as label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector owns the control-plane metrics and the registry they live in.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	running    prometheus.Gauge
	registered prometheus.Counter
	stops      *prometheus.CounterVec
	operations *prometheus.CounterVec
	procedures *prometheus.CounterVec
}

// NewCollector registers the metrics in registry, creating one if nil
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "server_mongo"
	}

	c := &Collector{
		registry: registry,
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "servers_running",
			Help:      "Number of peer servers currently registered",
		}),
		registered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "servers_started_total",
			Help:      "Total number of peer servers registered",
		}),
		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "servers_stopped_total",
			Help:      "Total number of peer stop attempts by result",
		}, []string{"result"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Control-plane operations by name and result",
		}, []string{"operation", "result"}),
		procedures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "procedure_calls_total",
			Help:      "Procedure calls dispatched through the control-plane router",
		}, []string{"path", "code"}),
	}

	registry.MustRegister(c.running, c.registered, c.stops, c.operations, c.procedures)
	return c
}

// OnRegister implements registry.Observer
func (c *Collector) OnRegister(id string, running int) {
	if c == nil {
		return
	}
	c.registered.Inc()
	c.running.Set(float64(running))
}

// OnStop implements registry.Observer
func (c *Collector) OnStop(id string, running int, err error) {
	if c == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.stops.WithLabelValues(result).Inc()
	c.running.Set(float64(running))
}

// ObserveOperation counts one control-plane operation
func (c *Collector) ObserveOperation(operation string, err error) {
	if c == nil {
		return
	}
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	c.operations.WithLabelValues(operation, result).Inc()
}

// ObserveProcedure counts a dispatched procedure call. code is empty on success.
func (c *Collector) ObserveProcedure(path, code string) {
	if c == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	c.procedures.WithLabelValues(path, code).Inc()
}

// Registry returns the underlying Prometheus registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns the exposition handler for the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
