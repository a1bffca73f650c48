// Package stats exposes channel operation counters as Prometheus
// metrics. Counters are per channel instance and process local; two
// processes sharing a segment each report their own side.
package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/shm-channel/pkg/channel"
)

// Source is the slice of a channel the collector needs. Both the
// generic Channel and AsyncWriter-wrapped channels satisfy it through
// the channel handle itself.
type Source interface {
	Name() string
	Stats() channel.Stats
	Generation() uint64
	MemorySize() int
}

var (
	descWrites = prometheus.NewDesc("shm_channel_writes_total",
		"Committed writes.", []string{"channel"}, nil)
	descReads = prometheus.NewDesc("shm_channel_reads_total",
		"Completed reads.", []string{"channel"}, nil)
	descWriteErrors = prometheus.NewDesc("shm_channel_write_errors_total",
		"Failed writes.", []string{"channel"}, nil)
	descReadErrors = prometheus.NewDesc("shm_channel_read_errors_total",
		"Failed reads.", []string{"channel"}, nil)
	descReadRetries = prometheus.NewDesc("shm_channel_read_retries_total",
		"Slot copies restarted after colliding with writer commits.", []string{"channel"}, nil)
	descBytesWritten = prometheus.NewDesc("shm_channel_bytes_written_total",
		"Encoded payload bytes written.", []string{"channel"}, nil)
	descBytesRead = prometheus.NewDesc("shm_channel_bytes_read_total",
		"Encoded payload bytes read.", []string{"channel"}, nil)
	descGeneration = prometheus.NewDesc("shm_channel_generation",
		"Raw header generation counter (two increments per write).", []string{"channel"}, nil)
	descSegmentBytes = prometheus.NewDesc("shm_channel_segment_bytes",
		"Total mapped segment size.", []string{"channel"}, nil)
)

// Collector implements prometheus.Collector over any number of
// channel sources.
type Collector struct {
	mu      sync.RWMutex
	sources []Source
}

// NewCollector builds a Collector over the given sources.
func NewCollector(sources ...Source) *Collector {
	return &Collector{sources: sources}
}

// Add registers another source with the collector.
func (c *Collector) Add(src Source) {
	c.mu.Lock()
	c.sources = append(c.sources, src)
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descWrites
	ch <- descReads
	ch <- descWriteErrors
	ch <- descReadErrors
	ch <- descReadRetries
	ch <- descBytesWritten
	ch <- descBytesRead
	ch <- descGeneration
	ch <- descSegmentBytes
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(out chan<- prometheus.Metric) {
	c.mu.RLock()
	sources := append([]Source(nil), c.sources...)
	c.mu.RUnlock()

	for _, src := range sources {
		name := src.Name()
		st := src.Stats()
		counter := func(d *prometheus.Desc, v uint64) {
			out <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), name)
		}
		counter(descWrites, st.Writes)
		counter(descReads, st.Reads)
		counter(descWriteErrors, st.WriteErrors)
		counter(descReadErrors, st.ReadErrors)
		counter(descReadRetries, st.ReadRetries)
		counter(descBytesWritten, st.BytesWritten)
		counter(descBytesRead, st.BytesRead)
		out <- prometheus.MustNewConstMetric(descGeneration, prometheus.GaugeValue, float64(src.Generation()), name)
		out <- prometheus.MustNewConstMetric(descSegmentBytes, prometheus.GaugeValue, float64(src.MemorySize()), name)
	}
}

// MustRegister registers a collector over sources with reg and
// returns it.
func MustRegister(reg prometheus.Registerer, sources ...Source) *Collector {
	c := NewCollector(sources...)
	reg.MustRegister(c)
	return c
}
