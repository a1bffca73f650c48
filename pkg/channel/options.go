package channel

import (
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxReadRetries = 8
	defaultAttachTimeout  = 5 * time.Second
)

// Options configures channel construction. The zero value disables
// instrumentation and uses the default codec and retry limits.
type Options struct {
	// Meter, when set, enables OTel counters for channel operations.
	Meter metric.Meter
	// Tracer, when set, wraps Write and Read in spans.
	Tracer trace.Tracer
	// MaxReadRetries bounds how often Read restarts its slot copy
	// after colliding with writer commits.
	MaxReadRetries int
	// AttachTimeout bounds how long Attach keeps retrying while
	// waiting for the owner to create the segment.
	AttachTimeout time.Duration
}

// Option mutates Options.
type Option func(*Options)

// WithMeter enables OTel metrics through the given meter.
func WithMeter(m metric.Meter) Option {
	return func(o *Options) { o.Meter = m }
}

// WithTracer enables OTel spans through the given tracer.
func WithTracer(t trace.Tracer) Option {
	return func(o *Options) { o.Tracer = t }
}

// WithMaxReadRetries overrides the read retry bound.
func WithMaxReadRetries(n int) Option {
	return func(o *Options) { o.MaxReadRetries = n }
}

// WithAttachTimeout overrides how long Attach waits for the segment
// to appear.
func WithAttachTimeout(d time.Duration) Option {
	return func(o *Options) { o.AttachTimeout = d }
}

func buildOptions(opts []Option) Options {
	o := Options{
		MaxReadRetries: defaultMaxReadRetries,
		AttachTimeout:  defaultAttachTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxReadRetries <= 0 {
		o.MaxReadRetries = defaultMaxReadRetries
	}
	if o.AttachTimeout <= 0 {
		o.AttachTimeout = defaultAttachTimeout
	}
	return o
}
