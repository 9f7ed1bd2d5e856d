package pool

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "dbrouter_pool"

// Collector is a prometheus.Collector that collects metrics about the pools
// of a Cluster.
type Collector struct {
	acquires *prometheus.CounterVec
	removals *prometheus.CounterVec
	restores *prometheus.CounterVec
	leases   *prometheus.GaugeVec
	healthy  *prometheus.GaugeVec
}

func newCollector() *Collector {
	labels := []string{"group", "role"}
	return &Collector{
		acquires: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "acquires_total",
				Help:      "The number of connection acquisitions by result.",
			}, []string{"group", "role", "result"},
		),
		removals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "removals_total",
				Help:      "The number of times a node was removed from rotation.",
			}, labels,
		),
		restores: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "restores_total",
				Help:      "The number of times a node was returned to rotation.",
			}, labels,
		),
		leases: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "leases",
				Help:      "The number of connections currently leased out.",
			}, labels,
		),
		healthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "healthy",
				Help:      "1 if the node is in rotation, 0 otherwise.",
			}, labels,
		),
	}
}

func poolLabels(p *Pool) []string {
	return []string{strconv.Itoa(p.group), string(p.role)}
}

func (c *Collector) added(p *Pool) {
	c.healthy.WithLabelValues(poolLabels(p)...).Set(1)
	c.leases.WithLabelValues(poolLabels(p)...).Set(0)
}

func (c *Collector) acquired(p *Pool) {
	c.acquires.WithLabelValues(strconv.Itoa(p.group), string(p.role), "ok").Inc()
	c.leases.WithLabelValues(poolLabels(p)...).Set(float64(p.Leases()))
}

func (c *Collector) failed(p *Pool) {
	c.acquires.WithLabelValues(strconv.Itoa(p.group), string(p.role), "error").Inc()
}

func (c *Collector) released(p *Pool) {
	c.leases.WithLabelValues(poolLabels(p)...).Set(float64(p.Leases()))
}

func (c *Collector) removed(p *Pool) {
	c.removals.WithLabelValues(poolLabels(p)...).Inc()
	c.healthy.WithLabelValues(poolLabels(p)...).Set(0)
}

func (c *Collector) restored(p *Pool) {
	c.restores.WithLabelValues(poolLabels(p)...).Inc()
	c.healthy.WithLabelValues(poolLabels(p)...).Set(1)
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.acquires.Describe(ch)
	c.removals.Describe(ch)
	c.restores.Describe(ch)
	c.leases.Describe(ch)
	c.healthy.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.acquires.Collect(ch)
	c.removals.Collect(ch)
	c.restores.Collect(ch)
	c.leases.Collect(ch)
	c.healthy.Collect(ch)
}
