package channel

import "errors"

var (
	// ErrInvalidShape reports a zero-length shape, a non-positive
	// dimension, or a zero element size at construction.
	ErrInvalidShape = errors.New("channel: invalid shape")

	// ErrSegmentCreate reports an OS-level failure creating the named
	// segment.
	ErrSegmentCreate = errors.New("channel: segment create failed")

	// ErrSegmentOpen reports an OS-level failure attaching to an
	// existing named segment, including a segment whose owner has not
	// finished initializing it yet.
	ErrSegmentOpen = errors.New("channel: segment open failed")

	// ErrIncompatibleLayout reports an existing segment whose size or
	// recorded shape disagrees with the locally computed layout.
	ErrIncompatibleLayout = errors.New("channel: incompatible segment layout")

	// ErrShapeMismatch reports a write payload whose shape disagrees
	// with the channel's configured shape.
	ErrShapeMismatch = errors.New("channel: payload shape mismatch")

	// ErrBufferOverflow reports an encoded payload larger than the
	// slot capacity.
	ErrBufferOverflow = errors.New("channel: encoded payload exceeds slot capacity")

	// ErrSerialization reports a codec encode failure.
	ErrSerialization = errors.New("channel: payload encoding failed")

	// ErrDeserialization reports a codec decode failure or a
	// corrupted active slot.
	ErrDeserialization = errors.New("channel: payload decoding failed")

	// ErrReadContended reports a read that kept colliding with writer
	// commits and exhausted its retries.
	ErrReadContended = errors.New("channel: read contended by concurrent writes")

	// ErrClosed reports an operation on a closed channel.
	ErrClosed = errors.New("channel: closed")

	// ErrAlreadyOpen reports a second open of the same name within
	// one process.
	ErrAlreadyOpen = errors.New("channel: name already open in this process")
)
