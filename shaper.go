package netmangle

import (
	"math/rand"
	"sync/atomic"
)

// LinkMode distinguishes the three shaping regimes instead of overloading
// the numeric bandwidth value with sentinels.
type LinkMode int32

const (
	// Unlimited applies propagation delay only.
	Unlimited LinkMode = iota

	// Limited serializes frames at the configured bandwidth before the
	// propagation delay.
	Limited

	// Down models a dead link: a 1 bps serializer, ten seconds of delay
	// and certain loss.
	Down
)

func (m LinkMode) String() string {
	switch m {
	case Unlimited:
		return "unlimited"
	case Limited:
		return "limited"
	case Down:
		return "down"
	}
	return "unknown"
}

// The link-down profile applied at scenario finalization.
const (
	downBandwidthBits = 1
	downDelayMillis   = 10000
	downLossPer10000  = 10000
)

const (
	microsPerSecond = 1000000
	lossDrawRange   = 10000
)

// LinkParams holds the mutable impairment parameters of one direction.
// The scenario driver and the control surfaces write them while the
// worker reads them on every frame. Each field is an independent atomic;
// a torn combination can only mis-schedule a single frame, never corrupt
// one, so no lock guards them.
type LinkParams struct {
	mode      atomic.Int32
	bandwidth atomic.Int64 // bits per second, meaningful in Limited mode
	delay     atomic.Int64 // one-way propagation delay in milliseconds
	loss      atomic.Int64 // drop probability per ten thousand releases
}

// SetBandwidth configures the serializer rate. A non-positive value
// selects Unlimited, matching the numeric surface of scripts and the
// console where 0 has always meant "no ceiling".
func (p *LinkParams) SetBandwidth(bps int64) {
	if bps <= 0 {
		p.bandwidth.Store(0)
		p.mode.Store(int32(Unlimited))
		return
	}
	p.bandwidth.Store(bps)
	p.mode.Store(int32(Limited))
}

// SetDelayMillis configures the one-way propagation delay.
func (p *LinkParams) SetDelayMillis(ms int64) {
	if ms < 0 {
		ms = 0
	}
	p.delay.Store(ms)
}

// SetLoss configures the per-release drop probability, clamped to
// [0, 10000].
func (p *LinkParams) SetLoss(per10000 int64) {
	if per10000 < 0 {
		per10000 = 0
	}
	if per10000 > lossDrawRange {
		per10000 = lossDrawRange
	}
	p.loss.Store(per10000)
}

// SetDown switches the direction to the link-down profile.
func (p *LinkParams) SetDown() {
	p.delay.Store(downDelayMillis)
	p.loss.Store(downLossPer10000)
	p.mode.Store(int32(Down))
}

// Reset restores the impairment-free defaults.
func (p *LinkParams) Reset() {
	p.bandwidth.Store(0)
	p.delay.Store(0)
	p.loss.Store(0)
	p.mode.Store(int32(Unlimited))
}

func (p *LinkParams) Mode() LinkMode      { return LinkMode(p.mode.Load()) }
func (p *LinkParams) Bandwidth() int64    { return p.bandwidth.Load() }
func (p *LinkParams) DelayMillis() int64  { return p.delay.Load() }
func (p *LinkParams) LossPer10000() int64 { return p.loss.Load() }

// LinkShaper assigns departure times to inbound frames of one direction
// and decides drop-vs-forward when the delay queue releases them.
type LinkShaper struct {
	params *LinkParams
	clock  Clock
	rng    *rand.Rand

	// lastSerializationEnd is the projected microsecond at which the
	// modeled wire finishes transmitting the previously admitted frame.
	// Only the direction's worker goroutine touches it.
	lastSerializationEnd int64
}

// NewLinkShaper creates a shaper reading params under clock. The rng
// feeds the loss draw and must not be shared with another goroutine.
func NewLinkShaper(params *LinkParams, clock Clock, rng *rand.Rand) *LinkShaper {
	return &LinkShaper{
		params: params,
		clock:  clock,
		rng:    rng,
	}
}

// Params exposes the parameter record shared with the control surfaces.
func (s *LinkShaper) Params() *LinkParams {
	return s.params
}

// Schedule assigns frame's departure time from the current parameters.
//
// Under a bandwidth ceiling the link is a work-conserving serializer: a
// frame starts transmitting once the wire is free and the frame has
// arrived, whichever is later, and occupies the wire for size*8/rate.
// The serializer state is advanced before the propagation delay is added
// so that a later delay change affects subsequent frames without
// disturbing the bandwidth model. Queueing delay is baked into the max;
// propagation delay composes additively on top, as on a real link.
func (s *LinkShaper) Schedule(frame *Frame) {
	mode := s.params.Mode()
	bandwidth := s.params.Bandwidth()
	delayMicros := s.params.DelayMillis() * 1000
	now := s.clock.NowMicros()

	if mode == Down {
		bandwidth = downBandwidthBits
	}
	if mode == Unlimited || bandwidth <= 0 {
		frame.DepartMicros = now + delayMicros
		return
	}

	serializeMicros := ceilDiv(int64(frame.Size())*8*microsPerSecond, bandwidth)
	start := s.lastSerializationEnd
	if now > start {
		start = now
	}
	end := start + serializeMicros
	s.lastSerializationEnd = end
	frame.DepartMicros = end + delayMicros
}

// ShouldDrop performs the per-release loss draw: one uniform integer in
// [1, 10000] against the configured probability. Drawing at release
// rather than admission means a loss burst raised after admission still
// hits frames that were already queued.
func (s *LinkShaper) ShouldDrop() bool {
	loss := s.params.LossPer10000()
	if loss <= 0 {
		return false
	}
	return int64(s.rng.Intn(lossDrawRange))+1 <= loss
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
