package netmangle

import (
	"container/heap"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/tomb.v1"
)

// NetworkEvent is one timed impairment in a scenario. Events are applied
// to both directions when their start time is reached.
type NetworkEvent struct {
	StartMillis    int64
	DurationMillis int64
	BandwidthBits  int64
	DelayMillis    int64
	LossPer10000   int64
	Description    string
}

// eventHeap is a min-heap of events ordered by start time.
type eventHeap []*NetworkEvent

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].StartMillis < h[j].StartMillis }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*NetworkEvent)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return ev
}

// scenarioTick is how often the driver compares wall-clock against the
// event timeline. Coarse on purpose: the timeline is millisecond-scale
// and the workers do the precise timing.
const scenarioTick = 10 * time.Millisecond

// ScenarioDriver replays a time-indexed list of network events against
// both directions of the link. At most one event is active at a time; an
// event activating while another is active supersedes it. When the total
// duration elapses the driver applies the link-down profile to both
// directions and terminates.
type ScenarioDriver struct {
	directions  [NumDirections]*LinkParams
	events      eventHeap
	totalMillis int64
	current     *NetworkEvent

	clock  Clock
	logger zerolog.Logger
	tomb   tomb.Tomb
	done   chan struct{}
}

// NewScenarioDriver creates a driver over the link parameters of both
// directions, running for totalMillis before link-down finalization.
func NewScenarioDriver(
	directions [NumDirections]*LinkParams,
	totalMillis int64,
	clock Clock,
	logger zerolog.Logger,
) *ScenarioDriver {
	d := &ScenarioDriver{
		directions:  directions,
		totalMillis: totalMillis,
		clock:       clock,
		logger:      logger,
		done:        make(chan struct{}),
	}
	heap.Init(&d.events)
	return d
}

// AddEvent queues one event. Must not be called after Start.
func (d *ScenarioDriver) AddEvent(ev *NetworkEvent) {
	heap.Push(&d.events, ev)
}

// AddEvents queues a batch of events. Must not be called after Start.
func (d *ScenarioDriver) AddEvents(events []*NetworkEvent) {
	for _, ev := range events {
		d.AddEvent(ev)
	}
}

// Start launches the driver loop.
func (d *ScenarioDriver) Start() {
	go d.run()
}

// Done is closed once the scenario has finalized or been stopped.
func (d *ScenarioDriver) Done() <-chan struct{} {
	return d.done
}

// Stop terminates the driver within one tick without finalizing the
// link. Safe to call after the scenario has already finished.
func (d *ScenarioDriver) Stop() {
	d.tomb.Killf("scenario stopped")
	d.tomb.Wait()
}

func (d *ScenarioDriver) run() {
	defer d.tomb.Done()
	defer close(d.done)

	start := d.clock.NowMillis()
	d.logger.Info().
		Int64("total_ms", d.totalMillis).
		Int("events", d.events.Len()).
		Msg("scenario started")

	ticker := time.NewTicker(scenarioTick)
	defer ticker.Stop()

	for {
		select {
		case <-d.tomb.Dying():
			return
		case <-ticker.C:
			if d.step(d.clock.NowMillis() - start) {
				return
			}
		}
	}
}

// step advances the event machine by one tick at the given elapsed time.
// Order matters: expire the current event first, then activate the next
// due one, then check for finalization. Returns true once finalized.
func (d *ScenarioDriver) step(elapsedMillis int64) bool {
	if d.current != nil &&
		elapsedMillis >= d.current.StartMillis+d.current.DurationMillis {
		d.logger.Info().
			Str("event", d.current.Description).
			Int64("elapsed_ms", elapsedMillis).
			Msg("event expired, restoring defaults")
		for _, p := range d.directions {
			p.Reset()
		}
		d.current = nil
	}

	if d.events.Len() > 0 && elapsedMillis >= d.events[0].StartMillis {
		ev := heap.Pop(&d.events).(*NetworkEvent)
		if d.current != nil {
			d.logger.Info().
				Str("superseded", d.current.Description).
				Str("event", ev.Description).
				Msg("overlapping event supersedes current")
		}
		d.current = ev
		for _, p := range d.directions {
			p.SetBandwidth(ev.BandwidthBits)
			p.SetDelayMillis(ev.DelayMillis)
			p.SetLoss(ev.LossPer10000)
		}
		d.logger.Info().
			Str("event", ev.Description).
			Int64("elapsed_ms", elapsedMillis).
			Int64("bandwidth_bps", ev.BandwidthBits).
			Int64("delay_ms", ev.DelayMillis).
			Int64("loss_per_10000", ev.LossPer10000).
			Msg("event active")
	}

	if elapsedMillis >= d.totalMillis {
		for _, p := range d.directions {
			p.SetDown()
		}
		d.logger.Info().
			Int64("elapsed_ms", elapsedMillis).
			Msg("scenario finished, link down")
		return true
	}
	return false
}

// DemoScenario is a built-in 40 second scenario: a healthy link that
// degrades into congestion, oscillates, and recovers.
func DemoScenario() []*NetworkEvent {
	events := []*NetworkEvent{
		{
			StartMillis:    0,
			DurationMillis: 10000,
			BandwidthBits:  100000000,
			DelayMillis:    20,
			LossPer10000:   0,
			Description:    "normal: 100 Mbps, 20 ms",
		},
		{
			StartMillis:    10000,
			DurationMillis: 10000,
			BandwidthBits:  2000000,
			DelayMillis:    150,
			LossPer10000:   200,
			Description:    "congested: 2 Mbps, 150 ms, 2% loss",
		},
		{
			StartMillis:    30000,
			DurationMillis: 10000,
			BandwidthBits:  100000000,
			DelayMillis:    20,
			LossPer10000:   0,
			Description:    "recovered: 100 Mbps, 20 ms",
		},
	}
	// Oscillation phase: alternate between a sound and a degraded link
	// every two seconds.
	for i := int64(0); i < 5; i++ {
		start := 20000 + i*2000
		if i%2 == 0 {
			events = append(events, &NetworkEvent{
				StartMillis:    start,
				DurationMillis: 2000,
				BandwidthBits:  50000000,
				DelayMillis:    40,
				LossPer10000:   50,
				Description:    "oscillating: good phase",
			})
		} else {
			events = append(events, &NetworkEvent{
				StartMillis:    start,
				DurationMillis: 2000,
				BandwidthBits:  1000000,
				DelayMillis:    300,
				LossPer10000:   500,
				Description:    "oscillating: bad phase",
			})
		}
	}
	return events
}

// DemoScenarioDurationMillis is the total runtime of DemoScenario.
const DemoScenarioDurationMillis = 40000
