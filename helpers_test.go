package netmangle

import (
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/netmangle/netmangle/collectors"
)

// fakeClock is a hand-advanced Clock so tests control scheduling exactly.
type fakeClock struct {
	micros int64
}

func (c *fakeClock) NowMicros() int64 { return c.micros }
func (c *fakeClock) NowMillis() int64 { return c.micros / 1000 }

func (c *fakeClock) AdvanceMicros(d int64) { c.micros += d }
func (c *fakeClock) AdvanceMillis(d int64) { c.micros += d * 1000 }

// testSocketpair returns a connected datagram pair. Datagram sockets
// keep frame boundaries, like a tap does.
func testSocketpair(t *testing.T) [2]int {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds
}

// testEmulator builds an emulator over two socket pairs. The returned
// descriptors are the far ends: writes to taps[0] arrive at endpoint A,
// frames forwarded by endpoint A can be read from taps[1], and the
// reverse for the other direction.
func testEmulator(t *testing.T, clock Clock) (*Emulator, [2]int) {
	t.Helper()

	a := testSocketpair(t)
	b := testSocketpair(t)

	em, err := NewEmulator(
		EndpointConfig{TapName: "tapa", Fd: a[0], QueueCap: 0, Seed: 1},
		EndpointConfig{TapName: "tapb", Fd: b[0], QueueCap: 0, Seed: 1},
		clock,
		zerolog.Nop(),
		collectors.NewPipelineMetricCollectors(),
	)
	if err != nil {
		t.Fatalf("NewEmulator: %v", err)
	}
	return em, [2]int{a[1], b[1]}
}

func testFrame(size int, ts int64) *Frame {
	return NewFrame(make([]byte, size), ts)
}
