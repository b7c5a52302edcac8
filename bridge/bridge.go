// Package bridge wires the emulator into the kernel: it opens TAP
// devices and bridges each one with a physical interface so that frames
// arriving on a segment are handed to the emulator and frames written
// by the emulator leave on the segment.
package bridge

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

const tunDevice = "/dev/net/tun"

// Side is one half of the emulated link: a TAP device bridged with a
// physical interface.
type Side struct {
	TapName    string
	EthName    string
	BridgeName string
}

// Setup holds the kernel resources of both sides, for teardown.
type Setup struct {
	logger zerolog.Logger

	fds     []int
	bridges []string
}

// OpenTap opens a TAP device in no-packet-info mode. The returned
// descriptor carries raw ethernet frames and is left blocking; the
// endpoint flips it to non-blocking when it takes ownership.
func OpenTap(name string) (int, error) {
	fd, err := unix.Open(tunDevice, unix.O_RDWR, 0)
	if err != nil {
		return -1, fmt.Errorf("open %s: %w", tunDevice, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("interface name %q: %w", name, err)
	}
	ifr.SetUint16(unix.IFF_TAP | unix.IFF_NO_PI)

	if err := unix.IoctlIfreq(fd, unix.TUNSETIFF, ifr); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("create tap %s: %w", name, err)
	}
	return fd, nil
}

// New creates the bridges for both sides and returns the two TAP
// descriptors in side order. On any failure the already-created
// resources are torn down before returning.
func New(a, b Side, logger zerolog.Logger) (*Setup, [2]int, error) {
	s := &Setup{logger: logger}
	var fds [2]int

	for i, side := range []Side{a, b} {
		fd, err := s.setupSide(side)
		if err != nil {
			s.Teardown()
			return nil, fds, err
		}
		fds[i] = fd
	}
	return s, fds, nil
}

// setupSide opens the side's TAP, creates its bridge with STP off, and
// enslaves both the TAP and the physical interface.
func (s *Setup) setupSide(side Side) (int, error) {
	fd, err := OpenTap(side.TapName)
	if err != nil {
		return -1, err
	}
	s.fds = append(s.fds, fd)

	br := &netlink.Bridge{
		LinkAttrs: netlink.LinkAttrs{Name: side.BridgeName},
	}
	if err := netlink.LinkAdd(br); err != nil {
		return -1, fmt.Errorf("create bridge %s: %w", side.BridgeName, err)
	}
	s.bridges = append(s.bridges, side.BridgeName)

	// STP would hold the bridge ports in learning state for seconds
	// after every link flap. The topology here is a straight line, so
	// it buys nothing.
	if err := disableSTP(side.BridgeName); err != nil {
		return -1, err
	}

	for _, name := range []string{side.TapName, side.EthName} {
		link, err := netlink.LinkByName(name)
		if err != nil {
			return -1, fmt.Errorf("find interface %s: %w", name, err)
		}
		if err := netlink.LinkSetMaster(link, br); err != nil {
			return -1, fmt.Errorf("enslave %s to %s: %w", name, side.BridgeName, err)
		}
		if err := netlink.LinkSetUp(link); err != nil {
			return -1, fmt.Errorf("bring up %s: %w", name, err)
		}
	}

	brLink, err := netlink.LinkByName(side.BridgeName)
	if err != nil {
		return -1, fmt.Errorf("find bridge %s: %w", side.BridgeName, err)
	}
	if err := netlink.LinkSetUp(brLink); err != nil {
		return -1, fmt.Errorf("bring up bridge %s: %w", side.BridgeName, err)
	}

	s.logger.Info().
		Str("tap", side.TapName).
		Str("eth", side.EthName).
		Str("bridge", side.BridgeName).
		Msg("side bridged")
	return fd, nil
}

func disableSTP(bridgeName string) error {
	path := filepath.Join("/sys/class/net", bridgeName, "bridge/stp_state")
	if err := os.WriteFile(path, []byte("0"), 0o644); err != nil {
		return fmt.Errorf("disable stp on %s: %w", bridgeName, err)
	}
	return nil
}

// Teardown deletes the bridges and closes the TAP descriptors. Errors
// are logged and skipped so one failure never strands the rest.
func (s *Setup) Teardown() {
	for _, name := range s.bridges {
		link, err := netlink.LinkByName(name)
		if err != nil {
			s.logger.Warn().Err(err).Str("bridge", name).Msg("bridge already gone")
			continue
		}
		if err := netlink.LinkDel(link); err != nil {
			s.logger.Warn().Err(err).Str("bridge", name).Msg("failed to delete bridge")
		}
	}
	for _, fd := range s.fds {
		unix.Close(fd)
	}
	s.bridges = nil
	s.fds = nil
	s.logger.Info().Msg("bridges torn down")
}
