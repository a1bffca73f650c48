package channel

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHeader(t *testing.T) (header, Layout) {
	t.Helper()
	l, err := NewLayout([]int{2, 2}, 4, 44)
	require.NoError(t, err)
	return header{b: make([]byte, HeaderSize)}, l
}

func TestHeaderInitValidate(t *testing.T) {
	h, l := testHeader(t)

	// Uninitialized headers read as "not there yet", not as layout
	// mismatches, so attachers keep retrying.
	err := h.validate(l)
	assert.ErrorIs(t, err, ErrSegmentOpen)

	h.init(l)
	assert.NoError(t, h.validate(l))

	other, err := NewLayout([]int{4}, 4, 44)
	require.NoError(t, err)
	assert.ErrorIs(t, h.validate(other), ErrIncompatibleLayout)
}

func TestHeaderPartialInitReadsAsNotReady(t *testing.T) {
	h, l := testHeader(t)

	// init publishes the magic word last, so the only observable
	// partial state is a header with identity words set and magic
	// still zero. That must stay on the retryable path, never become
	// a layout mismatch.
	h.init(l)
	binary.LittleEndian.PutUint32(h.b[offMagic:], 0)

	err := h.validate(l)
	assert.ErrorIs(t, err, ErrSegmentOpen)
	assert.NotErrorIs(t, err, ErrIncompatibleLayout)
}

func TestHeaderCommitState(t *testing.T) {
	h, l := testHeader(t)
	h.init(l)

	idx, n := h.state()
	assert.Equal(t, uint32(0), idx)
	assert.Zero(t, n)

	h.commit(1, 44)
	idx, n = h.state()
	assert.Equal(t, uint32(1), idx)
	assert.Equal(t, 44, n)

	h.commit(0, 20)
	idx, n = h.state()
	assert.Equal(t, uint32(0), idx)
	assert.Equal(t, 20, n)
}

func TestHeaderGeneration(t *testing.T) {
	h, l := testHeader(t)
	h.init(l)

	assert.Zero(t, h.generation())
	assert.Equal(t, uint64(1), h.bumpGeneration())
	assert.Equal(t, uint64(2), h.bumpGeneration())
	assert.Equal(t, uint64(2), h.generation())
}
