package channel

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Stats is a snapshot of a channel's operation counters.
type Stats struct {
	Writes       uint64
	Reads        uint64
	WriteErrors  uint64
	ReadErrors   uint64
	ReadRetries  uint64
	BytesWritten uint64
	BytesRead    uint64
}

// opStats holds the process-local counters behind Stats. Counters are
// local to this Channel instance, not shared through the segment.
type opStats struct {
	writes       atomic.Uint64
	reads        atomic.Uint64
	writeErrors  atomic.Uint64
	readErrors   atomic.Uint64
	readRetries  atomic.Uint64
	bytesWritten atomic.Uint64
	bytesRead    atomic.Uint64
}

func (s *opStats) snapshot() Stats {
	return Stats{
		Writes:       s.writes.Load(),
		Reads:        s.reads.Load(),
		WriteErrors:  s.writeErrors.Load(),
		ReadErrors:   s.readErrors.Load(),
		ReadRetries:  s.readRetries.Load(),
		BytesWritten: s.bytesWritten.Load(),
		BytesRead:    s.bytesRead.Load(),
	}
}

// instruments is the optional OTel side of the counters. All methods
// are nil-safe so the hot path stays branch-light when metrics are
// off.
type instruments struct {
	attrs      metric.MeasurementOption
	writes     metric.Int64Counter
	reads      metric.Int64Counter
	writeBytes metric.Int64Counter
	readBytes  metric.Int64Counter
	retries    metric.Int64Counter
}

func newInstruments(meter metric.Meter, name string) (*instruments, error) {
	writes, err := meter.Int64Counter("shm_channel.writes",
		metric.WithDescription("Committed writes"))
	if err != nil {
		return nil, err
	}
	reads, err := meter.Int64Counter("shm_channel.reads",
		metric.WithDescription("Completed reads"))
	if err != nil {
		return nil, err
	}
	writeBytes, err := meter.Int64Counter("shm_channel.write_bytes",
		metric.WithDescription("Encoded payload bytes written"))
	if err != nil {
		return nil, err
	}
	readBytes, err := meter.Int64Counter("shm_channel.read_bytes",
		metric.WithDescription("Encoded payload bytes read"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("shm_channel.read_retries",
		metric.WithDescription("Slot copies restarted after writer commits"))
	if err != nil {
		return nil, err
	}
	return &instruments{
		attrs:      metric.WithAttributes(attribute.String("channel", name)),
		writes:     writes,
		reads:      reads,
		writeBytes: writeBytes,
		readBytes:  readBytes,
		retries:    retries,
	}, nil
}

func (m *instruments) recordWrite(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.writes.Add(ctx, 1, m.attrs)
	m.writeBytes.Add(ctx, int64(n), m.attrs)
}

func (m *instruments) recordRead(ctx context.Context, n int, retries int) {
	if m == nil {
		return
	}
	m.reads.Add(ctx, 1, m.attrs)
	m.readBytes.Add(ctx, int64(n), m.attrs)
	if retries > 0 {
		m.retries.Add(ctx, int64(retries), m.attrs)
	}
}
