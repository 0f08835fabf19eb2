// Package metrics records build pipeline metrics with Prometheus and writes
// them to a node-exporter textfile, since a build is too short lived to be
// scraped.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/appkins-org/go-socbuild/internal/soc"
	"github.com/appkins-org/go-socbuild/internal/socerr"
)

const namespace = "socbuild"

// Collector implements soc.StageObserver and emit.BuildObserver.
type Collector struct {
	Registry *prometheus.Registry

	stages  *prometheus.HistogramVec
	builds  *prometheus.CounterVec
	regions *prometheus.GaugeVec
	irqs    *prometheus.GaugeVec
}

func New() *Collector {
	c := &Collector{
		Registry: prometheus.NewRegistry(),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each build stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage", "result"}),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Finished emission runs by target and error kind.",
		}, []string{"target", "result"}),
		regions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "regions",
			Help:      "Bus regions of the last composed design.",
		}, []string{"soc"}),
		irqs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "irqs",
			Help:      "Interrupt lines used by the last composed design.",
		}, []string{"soc"}),
	}
	c.Registry.MustRegister(c.stages, c.builds, c.regions, c.irqs)
	return c
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	if k := socerr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

func (c *Collector) ObserveStage(stage string, elapsed time.Duration, err error) {
	c.stages.WithLabelValues(stage, result(err)).Observe(elapsed.Seconds())
}

func (c *Collector) ObserveBuild(target string, err error) {
	c.builds.WithLabelValues(target, result(err)).Inc()
}

// ObserveDesign records the size of a composed design.
func (c *Collector) ObserveDesign(d *soc.Design) {
	c.regions.WithLabelValues(d.Name).Set(float64(len(d.Regions)))
	c.irqs.WithLabelValues(d.Name).Set(float64(len(d.IRQs)))
}

// WriteTextfile writes every metric to path in the text exposition format.
// An empty path is a no-op.
func (c *Collector) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.Registry)
}
