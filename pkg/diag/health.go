// Package diag wires shared memory channels into liveness/readiness
// reporting: per-channel checks plus host-level headroom probes, so
// an operator notices a torn-down segment or an shm filesystem
// filling up before readers start failing.
package diag

import (
	"fmt"
	"runtime"

	"github.com/heptiolabs/healthcheck"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// Probe is the view of a channel the health checks need.
type Probe interface {
	Name() string
	Closed() bool
	MemorySize() int
}

// ChannelCheck fails once the channel has been closed.
func ChannelCheck(p Probe) healthcheck.Check {
	return func() error {
		if p.Closed() {
			return fmt.Errorf("channel %q is closed", p.Name())
		}
		return nil
	}
}

// MemoryHeadroomCheck fails when available system memory drops below
// minAvailable bytes. Segments live in page cache backed memory, so
// system pressure is the relevant signal.
func MemoryHeadroomCheck(minAvailable uint64) healthcheck.Check {
	return func() error {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return err
		}
		if vm.Available < minAvailable {
			return fmt.Errorf("available memory %d below %d", vm.Available, minAvailable)
		}
		return nil
	}
}

// ShmUsageCheck fails when the filesystem holding the segments (on
// Linux, /dev/shm) exceeds maxUsedPercent. On platforms without a
// backing path the check passes.
func ShmUsageCheck(path string, maxUsedPercent float64) healthcheck.Check {
	return func() error {
		if runtime.GOOS == "windows" {
			return nil
		}
		usage, err := disk.Usage(path)
		if err != nil {
			return err
		}
		if usage.UsedPercent > maxUsedPercent {
			return fmt.Errorf("%s is %.1f%% full, limit %.1f%%", path, usage.UsedPercent, maxUsedPercent)
		}
		return nil
	}
}

// NewHandler builds a healthcheck handler with the standard probes:
// one readiness check per channel, plus memory and shm usage
// readiness checks with conservative defaults. Mount it on any HTTP
// mux; the channel protocol itself carries no network surface.
func NewHandler(probes ...Probe) healthcheck.Handler {
	h := healthcheck.NewHandler()
	h.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(10000))
	h.AddReadinessCheck("memory-headroom", MemoryHeadroomCheck(64<<20))
	h.AddReadinessCheck("shm-usage", ShmUsageCheck("/dev/shm", 90))
	for _, p := range probes {
		h.AddReadinessCheck("channel:"+p.Name(), ChannelCheck(p))
	}
	return h
}
