package netmangle

import (
	"encoding/binary"

	"github.com/google/gopacket/layers"
)

// MaxFrameSize is the largest frame read from a tap in one go: a full
// Ethernet frame plus a VLAN tag.
const MaxFrameSize = 1522

// etherTypeOffset is where the 16-bit EtherType sits in an Ethernet
// header, after the destination and source MAC addresses.
const etherTypeOffset = 12

// Frame is a single Ethernet frame in flight between the two taps. The
// buffer is owned by exactly one delay queue node from admission until
// release.
type Frame struct {
	Data []byte

	// ArrivalMicros is when the frame was read from the tap.
	ArrivalMicros int64

	// DepartMicros is the scheduled departure assigned by the shaper.
	// The frame must not be written to the peer before this time.
	DepartMicros int64

	// EtherType is decoded for observability only; forwarding never
	// looks at it.
	EtherType layers.EthernetType
}

// NewFrame wraps a raw buffer read from a tap at the given arrival time.
func NewFrame(data []byte, arrivalMicros int64) *Frame {
	f := &Frame{Data: data, ArrivalMicros: arrivalMicros}
	if len(data) >= etherTypeOffset+2 {
		f.EtherType = layers.EthernetType(
			binary.BigEndian.Uint16(data[etherTypeOffset : etherTypeOffset+2]))
	}
	return f
}

// Size is the frame length in bytes as read from the tap.
func (f *Frame) Size() int {
	return len(f.Data)
}
