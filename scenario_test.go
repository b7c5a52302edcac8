package netmangle

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestDriver(totalMillis int64, clock Clock) (*ScenarioDriver, [NumDirections]*LinkParams) {
	params := [NumDirections]*LinkParams{new(LinkParams), new(LinkParams)}
	return NewScenarioDriver(params, totalMillis, clock, zerolog.Nop()), params
}

func TestScenarioActivatesEventsInStartOrder(t *testing.T) {
	clock := &fakeClock{}
	d, params := newTestDriver(10000, clock)

	// Deliberately out of order; the heap must sort them.
	d.AddEvents([]*NetworkEvent{
		{StartMillis: 5000, DurationMillis: 1000, BandwidthBits: 2000000, Description: "late"},
		{StartMillis: 0, DurationMillis: 1000, BandwidthBits: 8000000, Description: "early"},
	})

	d.step(0)
	for _, p := range params {
		if p.Bandwidth() != 8000000 {
			t.Fatalf("bandwidth = %d, want 8000000", p.Bandwidth())
		}
	}

	d.step(5000)
	for _, p := range params {
		if p.Bandwidth() != 2000000 {
			t.Fatalf("bandwidth = %d, want 2000000", p.Bandwidth())
		}
	}
}

func TestScenarioRestoresDefaultsOnExpiry(t *testing.T) {
	clock := &fakeClock{}
	d, params := newTestDriver(10000, clock)
	d.AddEvent(&NetworkEvent{
		StartMillis:    0,
		DurationMillis: 1000,
		BandwidthBits:  1000000,
		DelayMillis:    50,
		LossPer10000:   100,
	})

	d.step(0)
	if params[AtoB].Mode() != Limited {
		t.Fatalf("mode = %v, want Limited", params[AtoB].Mode())
	}

	d.step(1000)
	for _, p := range params {
		if p.Mode() != Unlimited || p.DelayMillis() != 0 || p.LossPer10000() != 0 {
			t.Fatalf("parameters not restored: mode=%v delay=%d loss=%d",
				p.Mode(), p.DelayMillis(), p.LossPer10000())
		}
	}
}

func TestScenarioOverlappingEventSupersedes(t *testing.T) {
	clock := &fakeClock{}
	d, params := newTestDriver(10000, clock)
	d.AddEvents([]*NetworkEvent{
		{StartMillis: 0, DurationMillis: 5000, DelayMillis: 10, Description: "first"},
		{StartMillis: 2000, DurationMillis: 1000, DelayMillis: 300, Description: "second"},
	})

	d.step(0)
	d.step(2000)
	for _, p := range params {
		if p.DelayMillis() != 300 {
			t.Fatalf("delay = %d, want 300", p.DelayMillis())
		}
	}

	// The superseding event expires on its own schedule, not the
	// superseded one's.
	d.step(3000)
	for _, p := range params {
		if p.DelayMillis() != 0 {
			t.Fatalf("delay = %d after supersede expiry, want 0", p.DelayMillis())
		}
	}
}

func TestScenarioFinalizesWithLinkDown(t *testing.T) {
	clock := &fakeClock{}
	d, params := newTestDriver(5000, clock)

	if d.step(4999) {
		t.Fatal("finalized before total time")
	}
	if !d.step(5000) {
		t.Fatal("did not finalize at total time")
	}
	for _, p := range params {
		if p.Mode() != Down {
			t.Fatalf("mode = %v, want Down", p.Mode())
		}
		if p.DelayMillis() != 10000 || p.LossPer10000() != 10000 {
			t.Fatalf("link-down profile not applied: delay=%d loss=%d",
				p.DelayMillis(), p.LossPer10000())
		}
	}
}

func TestScenarioTimelineTransitions(t *testing.T) {
	clock := &fakeClock{}
	d, params := newTestDriver(3000, clock)
	d.AddEvents([]*NetworkEvent{
		{StartMillis: 0, DurationMillis: 1000,
			BandwidthBits: 100000000, DelayMillis: 10, LossPer10000: 0},
		{StartMillis: 1000, DurationMillis: 1000,
			BandwidthBits: 10000000, DelayMillis: 100, LossPer10000: 500},
	})

	d.step(500)
	for _, p := range params {
		if p.Bandwidth() != 100000000 || p.DelayMillis() != 10 || p.LossPer10000() != 0 {
			t.Fatalf("first event not active: bw=%d delay=%d loss=%d",
				p.Bandwidth(), p.DelayMillis(), p.LossPer10000())
		}
	}

	d.step(1500)
	for _, p := range params {
		if p.Bandwidth() != 10000000 || p.DelayMillis() != 100 || p.LossPer10000() != 500 {
			t.Fatalf("second event not active: bw=%d delay=%d loss=%d",
				p.Bandwidth(), p.DelayMillis(), p.LossPer10000())
		}
	}

	d.step(2500)
	for _, p := range params {
		if p.Mode() != Unlimited || p.DelayMillis() != 0 || p.LossPer10000() != 0 {
			t.Fatalf("defaults not restored after timeline: mode=%v delay=%d loss=%d",
				p.Mode(), p.DelayMillis(), p.LossPer10000())
		}
	}

	if !d.step(3000) {
		t.Fatal("did not finalize at total time")
	}
	for _, p := range params {
		if p.Mode() != Down {
			t.Fatalf("mode = %v, want Down", p.Mode())
		}
	}
}

func TestScenarioRunFinalizesAndClosesDone(t *testing.T) {
	d, params := newTestDriver(30, NewClock())
	d.Start()

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scenario did not finish")
	}
	if params[AtoB].Mode() != Down {
		t.Fatalf("mode = %v, want Down", params[AtoB].Mode())
	}
}

func TestScenarioStopDoesNotFinalize(t *testing.T) {
	d, params := newTestDriver(time.Hour.Milliseconds(), NewClock())
	d.Start()
	d.Stop()

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("driver did not stop")
	}
	if params[AtoB].Mode() == Down {
		t.Fatal("stop must not apply the link-down profile")
	}
}

func TestDemoScenarioTimeline(t *testing.T) {
	events := DemoScenario()
	if len(events) != 8 {
		t.Fatalf("demo has %d events, want 8", len(events))
	}
	if got := ScenarioDurationMillis(events); got != DemoScenarioDurationMillis {
		t.Fatalf("demo duration = %d, want %d", got, DemoScenarioDurationMillis)
	}
}
