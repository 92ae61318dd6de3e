// Package metrics exposes buddy allocator, kernel heap, and process
// counters as a prometheus.Collector, in the shape of
// talyz-systemd_exporter's Collector: one *prometheus.Desc field per
// metric, gathered fresh on every scrape rather than cached gauges.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/davidaparicio/maestro/mem"
	"github.com/davidaparicio/maestro/proc"
)

const namespace = "kernel"

/// Collector implements prometheus.Collector over the live state of a
/// buddy allocator, kernel heap, and the process scheduler.
type Collector struct {
	alloc *mem.Allocator
	heap  *mem.Heap

	freeFramesDesc  *prometheus.Desc
	heapChunksDesc  *prometheus.Desc
	heapBytesDesc   *prometheus.Desc
	runningDesc     *prometheus.Desc
	processCountDesc *prometheus.Desc
}

/// NewCollector returns a Collector gathering from alloc and heap.
func NewCollector(alloc *mem.Allocator, heap *mem.Heap) *Collector {
	return &Collector{
		alloc: alloc,
		heap:  heap,
		freeFramesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "buddy", "free_frames"),
			"Number of free physical frames of the given order.",
			[]string{"order"}, nil,
		),
		heapChunksDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "heap", "chunks_free"),
			"Number of free chunks currently linked in the kernel heap.",
			[]string{"bin"}, nil,
		),
		heapBytesDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "heap", "bytes_in_use"),
			"Bytes currently handed out by the kernel heap allocator.",
			nil, nil,
		),
		runningDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "scheduler", "running_processes"),
			"Number of processes in the Running state.",
			nil, nil,
		),
		processCountDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "process", "count"),
			"Number of processes known to the scheduler, by state.",
			[]string{"state"}, nil,
		),
	}
}

/// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.freeFramesDesc
	ch <- c.heapChunksDesc
	ch <- c.heapBytesDesc
	ch <- c.runningDesc
	ch <- c.processCountDesc
}

/// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	blocks := c.alloc.FreeBlocksByOrder()
	for order, count := range blocks {
		ch <- prometheus.MustNewConstMetric(
			c.freeFramesDesc, prometheus.GaugeValue, float64(count<<uint(order)), strconv.Itoa(order),
		)
	}

	bins := c.heap.FreeChunksByBin()
	for bin, count := range bins {
		ch <- prometheus.MustNewConstMetric(
			c.heapChunksDesc, prometheus.GaugeValue, float64(count), strconv.Itoa(bin),
		)
	}

	ch <- prometheus.MustNewConstMetric(
		c.heapBytesDesc, prometheus.GaugeValue, float64(c.heap.BytesInUse()),
	)
	ch <- prometheus.MustNewConstMetric(
		c.runningDesc, prometheus.GaugeValue, float64(proc.RunningCount()),
	)
	for _, st := range []proc.State{proc.StateRunning, proc.StateSleeping, proc.StateStopped, proc.StateZombie} {
		ch <- prometheus.MustNewConstMetric(
			c.processCountDesc, prometheus.GaugeValue, float64(proc.CountByState(st)), st.String(),
		)
	}
}

