// Package prometheus exports provider metrics to Prometheus.
//
//	reg := prometheus.NewRegistry()
//	collector, err := cbprom.NewCollector(reg, "default")
//	p, err := cloudblob.Open(ctx, "default", props, cloudblob.WithMetricsCollector(collector))
package prometheus

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/cloudblob"
)

const namespace = "cloudblob"

// Collector implements cloudblob.MetricsCollector with Prometheus metrics.
type Collector struct {
	opLatency      *prom.HistogramVec
	bytesWritten   prom.Counter
	readMisses     prom.Counter
	gcRemoved      prom.Counter
	gcRemovedBytes prom.Counter
}

var _ cloudblob.MetricsCollector = (*Collector)(nil)

// NewCollector creates the metrics labelled with provider and registers
// them with reg.
func NewCollector(reg prom.Registerer, provider string) (*Collector, error) {
	labels := prom.Labels{"provider": provider}

	c := &Collector{
		opLatency: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace:   namespace,
			Name:        "operation_latency_seconds",
			Help:        "Latency of blob operations",
			Buckets:     prom.DefBuckets,
			ConstLabels: labels,
		}, []string{"op", "status"}),
		bytesWritten: prom.NewCounter(prom.CounterOpts{
			Namespace:   namespace,
			Name:        "written_bytes_total",
			Help:        "Bytes of blob content written",
			ConstLabels: labels,
		}),
		readMisses: prom.NewCounter(prom.CounterOpts{
			Namespace:   namespace,
			Name:        "read_misses_total",
			Help:        "Reads of keys that do not exist",
			ConstLabels: labels,
		}),
		gcRemoved: prom.NewCounter(prom.CounterOpts{
			Namespace:   namespace,
			Name:        "gc_removed_total",
			Help:        "Binaries removed by garbage collection",
			ConstLabels: labels,
		}),
		gcRemovedBytes: prom.NewCounter(prom.CounterOpts{
			Namespace:   namespace,
			Name:        "gc_removed_bytes_total",
			Help:        "Bytes removed by garbage collection",
			ConstLabels: labels,
		}),
	}

	for _, m := range []prom.Collector{c.opLatency, c.bytesWritten, c.readMisses, c.gcRemoved, c.gcRemovedBytes} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	c.opLatency.WithLabelValues(op, status(err)).Observe(d.Seconds())
}

func (c *Collector) RecordWrite(size int64, d time.Duration, err error) {
	c.observe("write", d, err)
	if err == nil {
		c.bytesWritten.Add(float64(size))
	}
}

func (c *Collector) RecordRead(found bool, d time.Duration, err error) {
	c.observe("read", d, err)
	if err == nil && !found {
		c.readMisses.Inc()
	}
}

func (c *Collector) RecordDelete(d time.Duration, err error) {
	c.observe("delete", d, err)
}

func (c *Collector) RecordCopy(move bool, d time.Duration, err error) {
	op := "copy"
	if move {
		op = "move"
	}
	c.observe(op, d, err)
}

func (c *Collector) RecordGC(removed, removedBytes int64, d time.Duration, err error) {
	c.observe("gc", d, err)
	c.gcRemoved.Add(float64(removed))
	c.gcRemovedBytes.Add(float64(removedBytes))
}
