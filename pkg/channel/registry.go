package channel

import (
	"io"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// openChannels tracks every channel held by this process, keyed by
// segment name. A second in-process open of the same name is refused:
// two instances in one process would both believe they may write, and
// the owner flag would go stale on the duplicate.
var openChannels = cmap.New[*registryEntry]()

// registryEntry is inserted at reserve time, before the channel
// exists; ch is bound under mu once construction succeeds, so CloseAll
// never observes a half-built binding.
type registryEntry struct {
	mu sync.Mutex
	ch io.Closer
}

func (e *registryEntry) bind(ch io.Closer) {
	e.mu.Lock()
	e.ch = ch
	e.mu.Unlock()
}

func (e *registryEntry) channel() io.Closer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// registryReserve claims name and returns the entry to bind the
// channel to, or false if the name is already open in this process.
func registryReserve(name string) (*registryEntry, bool) {
	e := &registryEntry{}
	if !openChannels.SetIfAbsent(name, e) {
		return nil, false
	}
	return e, true
}

func registryRelease(name string) {
	openChannels.Remove(name)
}

// OpenNames returns the segment names currently open in this process.
func OpenNames() []string {
	return openChannels.Keys()
}

// CloseAll closes every channel this process still holds and reports
// the first close error. Names reserved by an in-flight open are left
// alone; that open will bind or release them itself. Intended for
// process teardown.
func CloseAll() error {
	var firstErr error
	for _, name := range openChannels.Keys() {
		e, ok := openChannels.Get(name)
		if !ok {
			continue
		}
		ch := e.channel()
		if ch == nil {
			continue
		}
		if err := ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
