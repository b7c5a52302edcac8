package netmangle

import (
	"math/rand"

	"github.com/rs/zerolog"

	"github.com/netmangle/netmangle/collectors"
)

// Direction identifies one of the two independent pipelines of the
// emulated link. A frame read from tap A travels the AtoB pipeline and
// is written out through tap B, so each direction impairs the traffic
// of exactly one tap's ingress.
type Direction uint8

const (
	AtoB Direction = iota
	BtoA

	// NumDirections sizes the per-direction arrays the emulator and
	// scenario driver index by Direction.
	NumDirections
)

// String names the direction the way the control API and the
// prometheus direction label spell it.
func (d Direction) String() string {
	switch d {
	case AtoB:
		return "a_to_b"
	case BtoA:
		return "b_to_a"
	}
	return "invalid"
}

// Opposite returns the pipeline carrying the reverse traffic. The
// emulator wires each endpoint's peer descriptor to the tap its
// opposite direction reads from.
func (d Direction) Opposite() Direction {
	if d == AtoB {
		return BtoA
	}
	return AtoB
}

// Emulator owns the two directions of the emulated link.
//
//	segment A <-> tap A <-> netmangle <-> tap B <-> segment B
//
// Each direction runs an independent pipeline (endpoint, shaper, delay
// queue) on its own worker goroutine; the directions share nothing but
// the peer descriptor numbers, which are immutable after wiring.
type Emulator struct {
	Logger zerolog.Logger

	endpoints [NumDirections]*TapEndpoint
	clock     Clock
}

// EndpointConfig describes one side of the link for NewEmulator.
type EndpointConfig struct {
	TapName  string
	Fd       int
	QueueCap int
	Seed     int64
}

// NewEmulator builds both pipelines over the two tap descriptors and
// cross-wires them: frames read from A are written to B and vice versa.
func NewEmulator(
	a, b EndpointConfig,
	clock Clock,
	logger zerolog.Logger,
	metrics *collectors.PipelineMetricCollectors,
) (*Emulator, error) {
	em := &Emulator{
		Logger: logger,
		clock:  clock,
	}

	for dir, cfg := range map[Direction]EndpointConfig{AtoB: a, BtoA: b} {
		// Each worker owns its rng: the loss draw must never contend
		// across directions.
		rng := rand.New(rand.NewSource(cfg.Seed + int64(dir)))
		shaper := NewLinkShaper(new(LinkParams), clock, rng)
		queue := NewDelayQueue(cfg.QueueCap)

		endpoint, err := NewTapEndpoint(
			dir, cfg.TapName, cfg.Fd, shaper, queue, clock, logger, metrics)
		if err != nil {
			return nil, err
		}
		em.endpoints[dir] = endpoint
	}

	em.endpoints[AtoB].SetPeer(em.endpoints[BtoA].Fd())
	em.endpoints[BtoA].SetPeer(em.endpoints[AtoB].Fd())

	return em, nil
}

// Endpoint returns the pipeline of one direction.
func (em *Emulator) Endpoint(d Direction) *TapEndpoint {
	return em.endpoints[d]
}

// Params returns the mutable link parameters of both directions, in
// Direction order. This is the only state shared with the scenario
// driver and the control surfaces.
func (em *Emulator) Params() [NumDirections]*LinkParams {
	return [NumDirections]*LinkParams{
		em.endpoints[AtoB].Shaper().Params(),
		em.endpoints[BtoA].Shaper().Params(),
	}
}

// Clock is the emulator's shared time base.
func (em *Emulator) Clock() Clock {
	return em.clock
}

// SetBandwidthBoth applies a bandwidth ceiling to both directions.
func (em *Emulator) SetBandwidthBoth(bps int64) {
	for _, p := range em.Params() {
		p.SetBandwidth(bps)
	}
	em.Logger.Info().Int64("bps", bps).Msg("bandwidth changed")
}

// SetDelayMillisBoth applies a one-way delay to both directions.
func (em *Emulator) SetDelayMillisBoth(ms int64) {
	for _, p := range em.Params() {
		p.SetDelayMillis(ms)
	}
	em.Logger.Info().Int64("delay_ms", ms).Msg("delay changed")
}

// SetLossBoth applies a loss probability to both directions.
func (em *Emulator) SetLossBoth(per10000 int64) {
	for _, p := range em.Params() {
		p.SetLoss(per10000)
	}
	em.Logger.Info().Int64("loss_per_10000", per10000).Msg("loss changed")
}

// Start launches both worker loops.
func (em *Emulator) Start() {
	for _, e := range em.endpoints {
		e.Start()
	}
	em.Logger.Info().
		Str("tap_a", em.endpoints[AtoB].TapName()).
		Str("tap_b", em.endpoints[BtoA].TapName()).
		Msg("emulator started")
}

// Stop terminates both workers and drains their queues.
func (em *Emulator) Stop() {
	for _, e := range em.endpoints {
		e.Stop()
	}
	em.Logger.Info().Msg("emulator stopped")
}
