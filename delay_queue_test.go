package netmangle

import (
	"errors"
	"testing"
)

func TestDelayQueueReleasesInAdmissionOrder(t *testing.T) {
	q := NewDelayQueue(10)
	for i := 0; i < 3; i++ {
		f := testFrame(100+i, 0)
		f.DepartMicros = int64(1000 * (i + 1))
		if err := q.Admit(f); err != nil {
			t.Fatalf("admit %d: %v", i, err)
		}
	}

	var sizes []int
	released := q.ReleaseDue(3000, func(f *Frame) {
		sizes = append(sizes, f.Size())
	})
	if released != 3 {
		t.Fatalf("released = %d, want 3", released)
	}
	for i, size := range sizes {
		if size != 100+i {
			t.Fatalf("release %d has size %d, want %d", i, size, 100+i)
		}
	}
}

func TestDelayQueueStopsAtFutureHead(t *testing.T) {
	q := NewDelayQueue(10)
	for _, depart := range []int64{1000, 2000, 9000} {
		f := testFrame(64, 0)
		f.DepartMicros = depart
		if err := q.Admit(f); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}

	if released := q.ReleaseDue(2000, func(*Frame) {}); released != 2 {
		t.Fatalf("released = %d, want 2", released)
	}
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want 1", q.Len())
	}
	if head := q.PeekHead(); head == nil || head.DepartMicros != 9000 {
		t.Fatalf("unexpected head after release: %+v", head)
	}
}

func TestDelayQueueTailDropsAtCapacity(t *testing.T) {
	q := NewDelayQueue(2)
	if err := q.Admit(testFrame(64, 0)); err != nil {
		t.Fatalf("admit: %v", err)
	}
	if err := q.Admit(testFrame(64, 0)); err != nil {
		t.Fatalf("admit: %v", err)
	}

	err := q.Admit(testFrame(64, 0))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("admit over capacity: %v, want ErrQueueFull", err)
	}
	if q.Len() != 2 {
		t.Fatalf("queue length = %d, want 2", q.Len())
	}

	// Popping the head frees a slot for the next admission.
	q.PopHead()
	if err := q.Admit(testFrame(64, 0)); err != nil {
		t.Fatalf("admit after pop: %v", err)
	}
}

func TestDelayQueueDefaultCapacity(t *testing.T) {
	if got := NewDelayQueue(0).Cap(); got != MaxQueue {
		t.Fatalf("default capacity = %d, want %d", got, MaxQueue)
	}
	if got := NewDelayQueue(-1).Cap(); got != MaxQueue {
		t.Fatalf("negative capacity = %d, want %d", got, MaxQueue)
	}
}

func TestDelayQueueDrain(t *testing.T) {
	q := NewDelayQueue(10)
	for i := 0; i < 4; i++ {
		f := testFrame(64, 0)
		f.DepartMicros = 1 << 40
		if err := q.Admit(f); err != nil {
			t.Fatalf("admit: %v", err)
		}
	}

	drained := 0
	q.Drain(func(*Frame) { drained++ })
	if drained != 4 || q.Len() != 0 {
		t.Fatalf("drained %d, remaining %d", drained, q.Len())
	}
}
