// Package channel implements a double-buffered shared memory channel:
// a named segment holding two alternating slots, where one process
// publishes encoded array values and any number of processes read the
// most recently committed value without locks and without ever
// observing a half-written payload.
//
// The protocol assumes a single writer per segment. Nothing detects a
// second concurrent writer; serializing writers is the caller's
// responsibility (AsyncWriter serializes producers within one
// process). Any number of concurrent readers is fine.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cenkalti/backoff/v4"
	"github.com/valyala/bytebufferpool"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/shm-channel/internal/shm"
	"github.com/srediag/shm-channel/pkg/codec"
)

// Channel is one process's handle on a named double-buffered segment.
//
// Write is not safe for concurrent use; Read is safe from any number
// of goroutines and processes. Close releases the mapping, and for
// the owning process also unlinks the named segment.
type Channel[T codec.Element] struct {
	name   string
	layout Layout
	codec  codec.Codec[T]
	region *shm.Region
	hdr    header
	owner  bool
	closed atomic.Bool

	maxReadRetries int
	stats          opStats
	metrics        *instruments
	tracer         trace.Tracer
}

// New creates the named segment sized for shape, or attaches to it if
// another process created it first. The first process to create the
// segment becomes its owner and unlinks it on Close. Payloads use the
// default binary codec; NewWithCodec accepts a custom one.
func New[T codec.Element](ctx context.Context, name string, shape []int, opts ...Option) (*Channel[T], error) {
	return NewWithCodec[T](ctx, name, shape, codec.Binary[T]{}, opts...)
}

// NewWithCodec is New with an explicit codec. The codec's EncodedSize
// for shape fixes the slot capacity, so all processes sharing the
// name must use the same codec.
func NewWithCodec[T codec.Element](ctx context.Context, name string, shape []int, c codec.Codec[T], opts ...Option) (*Channel[T], error) {
	return open[T](ctx, name, shape, c, buildOptions(opts), true)
}

// Attach opens an existing segment without ever creating one, waiting
// with exponential backoff for the owner to create and initialize it.
// It gives up after the configured attach timeout or when ctx is
// done.
func Attach[T codec.Element](ctx context.Context, name string, shape []int, opts ...Option) (*Channel[T], error) {
	return AttachWithCodec[T](ctx, name, shape, codec.Binary[T]{}, opts...)
}

// AttachWithCodec is Attach with an explicit codec, which must match
// the codec the owner created the segment with.
func AttachWithCodec[T codec.Element](ctx context.Context, name string, shape []int, c codec.Codec[T], opts ...Option) (*Channel[T], error) {
	o := buildOptions(opts)

	var ch *Channel[T]
	operation := func() error {
		var err error
		ch, err = open[T](ctx, name, shape, c, o, false)
		if err == nil {
			return nil
		}
		// Only "not there yet" conditions are worth retrying; layout
		// disagreements and local misuse are permanent.
		if errors.Is(err, ErrSegmentOpen) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = o.AttachTimeout
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return ch, nil
}

func open[T codec.Element](ctx context.Context, name string, shape []int, c codec.Codec[T], o Options, create bool) (*Channel[T], error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrSegmentCreate)
	}
	slotCap, err := c.EncodedSize(shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	layout, err := NewLayout(shape, codec.ElemSize[T](), slotCap)
	if err != nil {
		return nil, err
	}

	entry, ok := registryReserve(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAlreadyOpen, name)
	}
	ch, err := mapSegment[T](name, layout, create)
	if err != nil {
		registryRelease(name)
		return nil, err
	}

	ch.codec = c
	ch.maxReadRetries = o.MaxReadRetries
	ch.tracer = o.Tracer
	if o.Meter != nil {
		if ch.metrics, err = newInstruments(o.Meter, name); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("channel %q: metrics: %w", name, err)
		}
	}
	entry.bind(ch)
	return ch, nil
}

func mapSegment[T codec.Element](name string, layout Layout, create bool) (*Channel[T], error) {
	if create {
		region, err := shm.Create(name, layout.TotalSize)
		switch {
		case err == nil:
			ch := &Channel[T]{
				name:   name,
				layout: layout,
				region: region,
				hdr:    header{b: region.Data[:HeaderSize]},
				owner:  true,
			}
			// The header must be initialized before any attacher can
			// pass validation; until then attachers see zero magic
			// and treat the segment as not yet available.
			ch.hdr.init(layout)
			return ch, nil
		case errors.Is(err, shm.ErrExist):
			// Lost the create race or the segment predates us: attach.
		default:
			return nil, fmt.Errorf("%w: %v", ErrSegmentCreate, err)
		}
	}

	region, err := shm.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentOpen, err)
	}
	if region.Size < layout.TotalSize {
		_ = region.Close()
		return nil, fmt.Errorf("%w: segment reports %d bytes, layout needs %d", ErrIncompatibleLayout, region.Size, layout.TotalSize)
	}
	ch := &Channel[T]{
		name:   name,
		layout: layout,
		region: region,
		hdr:    header{b: region.Data[:HeaderSize]},
	}
	if err := ch.hdr.validate(layout); err != nil {
		_ = region.Close()
		return nil, err
	}
	return ch, nil
}

// Write encodes value and commits it as the newest visible payload.
// The encoded bytes go into the inactive slot; the header state store
// that flips the active index is the last mutation, so a concurrent
// reader sees either the previous payload in full or this one in
// full. A failed write leaves the previously committed state
// untouched.
func (ch *Channel[T]) Write(ctx context.Context, value codec.Array[T]) error {
	if ch.closed.Load() {
		return ErrClosed
	}
	if ch.tracer != nil {
		var span trace.Span
		ctx, span = ch.tracer.Start(ctx, "shm_channel.Write")
		defer span.End()
	}

	if !codec.ShapeEqual(value.Shape, ch.layout.Shape) {
		ch.stats.writeErrors.Add(1)
		return fmt.Errorf("%w: payload %v, channel %v", ErrShapeMismatch, value.Shape, ch.layout.Shape)
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	var err error
	buf.B, err = ch.codec.AppendEncode(buf.B[:0], value)
	if err != nil {
		ch.stats.writeErrors.Add(1)
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	n := len(buf.B)
	if n > ch.layout.SlotCapacity {
		ch.stats.writeErrors.Add(1)
		return fmt.Errorf("%w: encoded %d bytes, slot capacity %d", ErrBufferOverflow, n, ch.layout.SlotCapacity)
	}

	active, _ := ch.hdr.state()
	if active > 1 {
		ch.stats.writeErrors.Add(1)
		return fmt.Errorf("%w: corrupt header state index=%d", ErrDeserialization, active)
	}

	// Nothing below can fail. Announce the fill, copy into the
	// inactive slot, then commit index and length in one store.
	ch.hdr.bumpGeneration()
	target := 1 - active
	copy(ch.region.Data[ch.layout.SlotOffset(target):], buf.B)
	ch.hdr.commit(target, n)
	ch.hdr.bumpGeneration()

	ch.stats.writes.Add(1)
	ch.stats.bytesWritten.Add(uint64(n))
	ch.metrics.recordWrite(ctx, n)
	return nil
}

// Read returns an independently owned copy of the most recently
// committed payload, or a zero-valued array of the configured shape
// if nothing was ever written. It never blocks and never mutates the
// segment.
//
// Read snapshots the generation counter around its slot copy. One
// commit landing mid-copy is harmless (it filled the other slot); two
// or more may have overwritten the slot being copied, so the copy
// restarts. ErrReadContended is returned if the writer outruns the
// reader past the retry bound.
func (ch *Channel[T]) Read(ctx context.Context) (codec.Array[T], error) {
	if ch.closed.Load() {
		return codec.Array[T]{}, ErrClosed
	}
	if ch.tracer != nil {
		var span trace.Span
		ctx, span = ch.tracer.Start(ctx, "shm_channel.Read")
		defer span.End()
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	retries := 0
	for {
		gen := ch.hdr.generation()
		idx, n := ch.hdr.state()
		if n == 0 {
			// Empty state: no write has ever committed.
			ch.stats.reads.Add(1)
			ch.metrics.recordRead(ctx, 0, retries)
			return codec.Zeros[T](ch.layout.Shape), nil
		}
		if idx > 1 || n > ch.layout.SlotCapacity {
			ch.stats.readErrors.Add(1)
			return codec.Array[T]{}, fmt.Errorf("%w: corrupt header state index=%d len=%d", ErrDeserialization, idx, n)
		}

		off := ch.layout.SlotOffset(idx)
		buf.B = append(buf.B[:0], ch.region.Data[off:off+n]...)

		if ch.hdr.generation()-gen < 2 {
			value, err := ch.codec.Decode(buf.B, ch.layout.Shape)
			if err != nil {
				ch.stats.readErrors.Add(1)
				return codec.Array[T]{}, fmt.Errorf("%w: %v", ErrDeserialization, err)
			}
			ch.stats.reads.Add(1)
			ch.stats.bytesRead.Add(uint64(n))
			ch.stats.readRetries.Add(uint64(retries))
			ch.metrics.recordRead(ctx, n, retries)
			return value, nil
		}

		retries++
		if retries > ch.maxReadRetries {
			ch.stats.readErrors.Add(1)
			return codec.Array[T]{}, fmt.Errorf("%w: after %d attempts", ErrReadContended, retries)
		}
	}
}

// Name returns the segment name.
func (ch *Channel[T]) Name() string { return ch.name }

// Layout returns the channel's segment geometry.
func (ch *Channel[T]) Layout() Layout {
	l := ch.layout
	shape := make([]int, len(l.Shape))
	copy(shape, l.Shape)
	l.Shape = shape
	return l
}

// MemorySize returns the total byte size of the segment: header plus
// both slots.
func (ch *Channel[T]) MemorySize() int { return ch.layout.TotalSize }

// Generation returns the raw commit counter from the header. It
// changes on every write (twice per write), which makes it a cheap
// has-anything-happened probe for pollers.
func (ch *Channel[T]) Generation() uint64 { return ch.hdr.generation() }

// Owner reports whether this instance created the segment and will
// unlink it on Close.
func (ch *Channel[T]) Owner() bool { return ch.owner }

// Closed reports whether Close was called.
func (ch *Channel[T]) Closed() bool { return ch.closed.Load() }

// Stats returns a snapshot of this instance's operation counters.
func (ch *Channel[T]) Stats() Stats { return ch.stats.snapshot() }

// Close unmaps the segment. The owner also unlinks the named object;
// attachers leave it in place for the remaining processes. Close is
// idempotent.
func (ch *Channel[T]) Close() error {
	if !ch.closed.CompareAndSwap(false, true) {
		return nil
	}
	registryRelease(ch.name)
	err := ch.region.Close()
	if ch.owner {
		if uerr := shm.Unlink(ch.name); uerr != nil && !errors.Is(uerr, shm.ErrNotExist) && err == nil {
			err = uerr
		}
	}
	return err
}
