//go:build linux

package channel

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryTracksOpenChannels(t *testing.T) {
	ctx := context.Background()
	name := fmt.Sprintf("regtest_%d_%s", os.Getpid(), t.Name())

	ch, err := New[uint32](ctx, name, []int{2})
	require.NoError(t, err)
	assert.Contains(t, OpenNames(), name)

	require.NoError(t, ch.Close())
	assert.NotContains(t, OpenNames(), name)
}

func TestCloseAllSkipsInFlightOpen(t *testing.T) {
	name := fmt.Sprintf("reginflight_%d_%s", os.Getpid(), t.Name())

	// A name reserved by an open that has not bound its channel yet
	// must survive CloseAll; the open will bind or release it.
	entry, ok := registryReserve(name)
	require.True(t, ok)
	require.NotNil(t, entry)
	defer registryRelease(name)

	require.NoError(t, CloseAll())
	assert.Contains(t, OpenNames(), name)
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	var chans []*Channel[uint32]
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("regall_%d_%s_%d", os.Getpid(), t.Name(), i)
		ch, err := New[uint32](ctx, name, []int{2})
		require.NoError(t, err)
		chans = append(chans, ch)
	}

	require.NoError(t, CloseAll())
	for _, ch := range chans {
		assert.True(t, ch.Closed())
	}
}
