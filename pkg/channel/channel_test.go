//go:build linux

package channel

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srediag/shm-channel/internal/shm"
	"github.com/srediag/shm-channel/pkg/codec"
)

type ChannelSuite struct {
	suite.Suite
	seq int
}

func TestChannelSuite(t *testing.T) {
	suite.Run(t, new(ChannelSuite))
}

func (s *ChannelSuite) name() string {
	s.seq++
	return fmt.Sprintf("chtest_%d_%s_%d", os.Getpid(), strings.ReplaceAll(s.T().Name(), "/", "_"), s.seq)
}

func (s *ChannelSuite) array(shape []int, fill uint32) codec.Array[uint32] {
	a := codec.Zeros[uint32](shape)
	for i := range a.Data {
		a.Data[i] = fill + uint32(i)
	}
	return a
}

// attachRaw maps an existing segment the way a second process would,
// bypassing the in-process registry.
func (s *ChannelSuite) attachRaw(name string, shape []int) *Channel[uint32] {
	slotCap, err := codec.Binary[uint32]{}.EncodedSize(shape)
	s.Require().NoError(err)
	l, err := NewLayout(shape, codec.ElemSize[uint32](), slotCap)
	s.Require().NoError(err)
	ch, err := mapSegment[uint32](name, l, false)
	s.Require().NoError(err)
	ch.codec = codec.Binary[uint32]{}
	ch.maxReadRetries = 64
	return ch
}

func (s *ChannelSuite) TestWriteReadRoundTrip() {
	ctx := context.Background()
	ch, err := New[uint32](ctx, s.name(), []int{2, 2})
	s.Require().NoError(err)
	defer ch.Close()

	in, err := codec.NewArray([]int{2, 2}, []uint32{1, 2, 3, 4})
	s.Require().NoError(err)
	s.Require().NoError(ch.Write(ctx, in))

	out, err := ch.Read(ctx)
	s.Require().NoError(err)
	s.Equal(in.Shape, out.Shape)
	s.Equal(in.Data, out.Data)

	// The returned value does not alias the segment.
	out.Data[0] = 99
	again, err := ch.Read(ctx)
	s.Require().NoError(err)
	s.Equal(uint32(1), again.Data[0])
}

func (s *ChannelSuite) TestReadBeforeAnyWrite() {
	ctx := context.Background()
	ch, err := New[float64](ctx, s.name(), []int{3})
	s.Require().NoError(err)
	defer ch.Close()

	out, err := ch.Read(ctx)
	s.Require().NoError(err)
	s.Equal([]int{3}, out.Shape)
	s.Equal([]float64{0, 0, 0}, out.Data)
}

func (s *ChannelSuite) TestSequentialWritesLastWins() {
	ctx := context.Background()
	ch, err := New[uint32](ctx, s.name(), []int{2, 2})
	s.Require().NoError(err)
	defer ch.Close()

	for i := uint32(1); i <= 10; i++ {
		v := s.array([]int{2, 2}, i*100)
		s.Require().NoError(ch.Write(ctx, v))
		out, err := ch.Read(ctx)
		s.Require().NoError(err)
		s.Equal(v.Data, out.Data)
	}
	// Two generation increments per committed write.
	s.Equal(uint64(20), ch.Generation())
}

func (s *ChannelSuite) TestMemorySize() {
	ctx := context.Background()
	ch, err := New[uint32](ctx, s.name(), []int{2, 2})
	s.Require().NoError(err)
	defer ch.Close()

	slotCap, err := codec.Binary[uint32]{}.EncodedSize([]int{2, 2})
	s.Require().NoError(err)
	s.Equal(HeaderSize+2*slotCap, ch.MemorySize())
}

func (s *ChannelSuite) TestShapeMismatch() {
	ctx := context.Background()
	ch, err := New[uint32](ctx, s.name(), []int{2, 2})
	s.Require().NoError(err)
	defer ch.Close()

	err = ch.Write(ctx, codec.Zeros[uint32]([]int{3}))
	s.ErrorIs(err, ErrShapeMismatch)
	s.Equal(uint64(0), ch.Generation())
}

func (s *ChannelSuite) TestInvalidShape() {
	ctx := context.Background()
	_, err := New[uint32](ctx, s.name(), []int{})
	s.ErrorIs(err, ErrInvalidShape)
	_, err = New[uint32](ctx, s.name(), []int{2, 0})
	s.ErrorIs(err, ErrInvalidShape)
}

func (s *ChannelSuite) TestBufferOverflowLeavesCommittedState() {
	ctx := context.Background()
	ch, err := NewWithCodec[uint32](ctx, s.name(), []int{2, 2}, loosePackingCodec{})
	s.Require().NoError(err)
	defer ch.Close()

	good := s.array([]int{2, 2}, 1)
	s.Require().NoError(ch.Write(ctx, good))
	genAfterGood := ch.Generation()

	// Same declared shape, but enough extra elements that the
	// encoding no longer fits the slot.
	oversized := codec.Array[uint32]{
		Shape: []int{2, 2},
		Data:  append(append([]uint32{}, good.Data...), 5, 6, 7),
	}
	err = ch.Write(ctx, oversized)
	s.ErrorIs(err, ErrBufferOverflow)
	s.Equal(genAfterGood, ch.Generation())

	out, err := ch.Read(ctx)
	s.Require().NoError(err)
	s.Equal(good.Data, out.Data)
}

func (s *ChannelSuite) TestSecondAttacherSeesWrites() {
	ctx := context.Background()
	name := s.name()
	owner, err := New[uint32](ctx, name, []int{2, 2})
	s.Require().NoError(err)
	defer owner.Close()
	s.True(owner.Owner())

	attacher := s.attachRaw(name, []int{2, 2})
	defer attacher.Close()
	s.False(attacher.Owner())

	for i := uint32(1); i <= 3; i++ {
		v := s.array([]int{2, 2}, i*10)
		s.Require().NoError(owner.Write(ctx, v))
		out, err := attacher.Read(ctx)
		s.Require().NoError(err)
		s.Equal(v.Data, out.Data)
	}
}

func (s *ChannelSuite) TestIncompatibleLayout() {
	ctx := context.Background()
	name := s.name()
	owner, err := New[uint32](ctx, name, []int{2, 2})
	s.Require().NoError(err)
	defer owner.Close()

	slotCap, err := codec.Binary[uint32]{}.EncodedSize([]int{3, 3})
	s.Require().NoError(err)
	other, err := NewLayout([]int{3, 3}, codec.ElemSize[uint32](), slotCap)
	s.Require().NoError(err)

	_, err = mapSegment[uint32](name, other, false)
	s.ErrorIs(err, ErrIncompatibleLayout)
}

func (s *ChannelSuite) TestDuplicateOpenInProcess() {
	ctx := context.Background()
	name := s.name()
	ch, err := New[uint32](ctx, name, []int{2, 2})
	s.Require().NoError(err)
	defer ch.Close()

	_, err = New[uint32](ctx, name, []int{2, 2})
	s.ErrorIs(err, ErrAlreadyOpen)
}

func (s *ChannelSuite) TestOwnerUnlinksOnClose() {
	ctx := context.Background()
	name := s.name()
	ch, err := New[uint32](ctx, name, []int{2, 2})
	s.Require().NoError(err)
	s.Require().NoError(ch.Close())

	_, err = shm.Open(name)
	s.ErrorIs(err, shm.ErrNotExist)

	s.ErrorIs(ch.Write(ctx, s.array([]int{2, 2}, 1)), ErrClosed)
	_, err = ch.Read(ctx)
	s.ErrorIs(err, ErrClosed)

	// Close is idempotent.
	s.NoError(ch.Close())
}

func (s *ChannelSuite) TestAttacherCloseKeepsSegment() {
	ctx := context.Background()
	name := s.name()
	owner, err := New[uint32](ctx, name, []int{2, 2})
	s.Require().NoError(err)
	defer owner.Close()

	attacher := s.attachRaw(name, []int{2, 2})
	s.Require().NoError(attacher.Close())

	r, err := shm.Open(name)
	s.Require().NoError(err)
	s.NoError(r.Close())
}

func (s *ChannelSuite) TestAttachTimesOutWithoutOwner() {
	ctx := context.Background()
	_, err := Attach[uint32](ctx, s.name(), []int{2, 2},
		WithAttachTimeout(100*time.Millisecond))
	s.ErrorIs(err, ErrSegmentOpen)
}

func (s *ChannelSuite) TestAttachWaitsForOwner() {
	ctx := context.Background()
	name := s.name()

	slotCap, err := codec.Binary[uint32]{}.EncodedSize([]int{2, 2})
	s.Require().NoError(err)
	layout, err := NewLayout([]int{2, 2}, codec.ElemSize[uint32](), slotCap)
	s.Require().NoError(err)

	ownerc := make(chan *Channel[uint32], 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		owner, err := mapSegment[uint32](name, layout, true)
		s.NoError(err)
		ownerc <- owner
	}()

	attached, err := Attach[uint32](ctx, name, []int{2, 2},
		WithAttachTimeout(2*time.Second))
	s.Require().NoError(err)
	s.False(attached.Owner())
	s.NoError(attached.Close())

	owner := <-ownerc
	s.Require().NotNil(owner)
	s.NoError(owner.Close())
}

func (s *ChannelSuite) TestAttachRetriesWhileOwnerInitializes() {
	ctx := context.Background()
	name := s.name()

	slotCap, err := codec.Binary[uint32]{}.EncodedSize([]int{2, 2})
	s.Require().NoError(err)
	layout, err := NewLayout([]int{2, 2}, codec.ElemSize[uint32](), slotCap)
	s.Require().NoError(err)

	// A creator frozen mid-init: identity words written, magic not
	// yet published.
	region, err := shm.Create(name, layout.TotalSize)
	s.Require().NoError(err)
	defer func() {
		s.NoError(region.Close())
		s.NoError(shm.Unlink(name))
	}()
	h := header{b: region.Data[:HeaderSize]}
	binary.LittleEndian.PutUint32(h.b[offVersion:], headerVersion)
	binary.LittleEndian.PutUint64(h.b[offTotalSize:], uint64(layout.TotalSize))
	binary.LittleEndian.PutUint64(h.b[offFingerprint:], layout.Fingerprint())

	// Attachers must keep treating this as "not there yet" rather
	// than a permanent layout mismatch.
	_, err = Attach[uint32](ctx, name, []int{2, 2},
		WithAttachTimeout(100*time.Millisecond))
	s.ErrorIs(err, ErrSegmentOpen)
	s.NotErrorIs(err, ErrIncompatibleLayout)

	// Once the magic word lands, attach succeeds.
	go func() {
		time.Sleep(50 * time.Millisecond)
		shm.StoreUint32(h.b, offMagic, headerMagic)
	}()
	attached, err := Attach[uint32](ctx, name, []int{2, 2},
		WithAttachTimeout(2*time.Second))
	s.Require().NoError(err)
	s.False(attached.Owner())
	s.NoError(attached.Close())
}

func (s *ChannelSuite) TestWriteRejectsCorruptHeaderState() {
	ctx := context.Background()
	ch, err := New[uint32](ctx, s.name(), []int{2, 2})
	s.Require().NoError(err)
	defer ch.Close()

	ch.hdr.commit(5, 8)
	err = ch.Write(ctx, s.array([]int{2, 2}, 1))
	s.ErrorIs(err, ErrDeserialization)
	s.Equal(uint64(1), ch.Stats().WriteErrors)
}

func (s *ChannelSuite) TestConcurrentReadersNeverSeeTornValues() {
	ctx := context.Background()
	name := s.name()
	ch, err := New[uint32](ctx, name, []int{64})
	s.Require().NoError(err)
	defer ch.Close()

	reader := s.attachRaw(name, []int{64})
	defer reader.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint32(1); ; i++ {
			v := codec.Zeros[uint32]([]int{64})
			for j := range v.Data {
				v.Data[j] = i
			}
			if err := ch.Write(ctx, v); err != nil {
				return
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	for n := 0; n < 2000; n++ {
		out, err := reader.Read(ctx)
		if err != nil {
			s.Require().ErrorIs(err, ErrReadContended)
			continue
		}
		first := out.Data[0]
		for _, v := range out.Data {
			s.Require().Equal(first, v, "torn read: mixed values in one payload")
		}
	}
	close(stop)
	wg.Wait()
}

func (s *ChannelSuite) TestStatsSnapshot() {
	ctx := context.Background()
	ch, err := New[uint32](ctx, s.name(), []int{2, 2})
	s.Require().NoError(err)
	defer ch.Close()

	s.Require().NoError(ch.Write(ctx, s.array([]int{2, 2}, 1)))
	_, err = ch.Read(ctx)
	s.Require().NoError(err)
	err = ch.Write(ctx, codec.Zeros[uint32]([]int{3}))
	s.ErrorIs(err, ErrShapeMismatch)

	st := ch.Stats()
	s.Equal(uint64(1), st.Writes)
	s.Equal(uint64(1), st.Reads)
	s.Equal(uint64(1), st.WriteErrors)
	s.NotZero(st.BytesWritten)
	s.Equal(st.BytesWritten, st.BytesRead)
}

// loosePackingCodec sizes slots for the declared shape but encodes
// however many elements the array carries, so a padded array can
// overflow the slot. An exact codec can never hit that path.
type loosePackingCodec struct{}

func (loosePackingCodec) EncodedSize(shape []int) (int, error) {
	return codec.Binary[uint32]{}.EncodedSize(shape)
}

func (loosePackingCodec) AppendEncode(dst []byte, a codec.Array[uint32]) ([]byte, error) {
	return codec.Binary[uint32]{}.AppendEncode(dst, codec.Array[uint32]{
		Shape: []int{len(a.Data)},
		Data:  a.Data,
	})
}

func (loosePackingCodec) Decode(b []byte, shape []int) (codec.Array[uint32], error) {
	n, err := codec.NumElements(shape)
	if err != nil {
		return codec.Array[uint32]{}, err
	}
	flat, err := codec.Binary[uint32]{}.Decode(b, []int{n})
	if err != nil {
		return codec.Array[uint32]{}, err
	}
	return codec.NewArray(shape, flat.Data)
}
