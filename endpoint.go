package netmangle

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"gopkg.in/tomb.v1"

	"github.com/netmangle/netmangle/collectors"
)

// maxPollEvents bounds how many readiness events one epoll_wait returns.
const maxPollEvents = 10

// EndpointStats are the per-direction counters exposed over the control
// API. The worker increments them; readers take atomic snapshots.
type EndpointStats struct {
	Received        atomic.Int64
	Forwarded       atomic.Int64
	ForwardedBytes  atomic.Int64
	DroppedOverflow atomic.Int64
	DroppedLoss     atomic.Int64
	ReadErrors      atomic.Int64
	WriteErrors     atomic.Int64
}

// TapEndpoint owns one side of the emulated link: the tap file
// descriptor, its readiness notifier, and the delay queue and shaper of
// the direction flowing out of this tap. Frames read here are scheduled,
// queued, and eventually written to the peer endpoint's descriptor.
//
//	tap A --> [shaper A->B] --> [delay queue] --> tap B
//
// The endpoint never blocks: reads, writes and the readiness poll all
// run with zero timeout.
type TapEndpoint struct {
	direction Direction
	tapName   string
	fd        int
	epollFd   int
	peerFd    int

	queue  *DelayQueue
	shaper *LinkShaper
	clock  Clock
	logger zerolog.Logger

	Stats EndpointStats

	received       prometheus.Counter
	forwarded      prometheus.Counter
	forwardedBytes prometheus.Counter
	dropped        *prometheus.CounterVec
	queueDepth     prometheus.Gauge

	tomb tomb.Tomb
}

// NewTapEndpoint wraps an already-opened, non-blocking tap descriptor
// and registers it with a fresh epoll instance.
func NewTapEndpoint(
	direction Direction,
	tapName string,
	fd int,
	shaper *LinkShaper,
	queue *DelayQueue,
	clock Clock,
	logger zerolog.Logger,
	metrics *collectors.PipelineMetricCollectors,
) (*TapEndpoint, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set nonblocking on %s: %w", tapName, err)
	}

	epollFd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("create epoll instance for %s: %w", tapName, err)
	}

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(epollFd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		unix.Close(epollFd)
		return nil, fmt.Errorf("register %s with epoll: %w", tapName, err)
	}

	label := direction.String()
	return &TapEndpoint{
		direction: direction,
		tapName:   tapName,
		fd:        fd,
		epollFd:   epollFd,
		peerFd:    -1,
		queue:     queue,
		shaper:    shaper,
		clock:     clock,
		logger: logger.With().
			Str("direction", label).
			Str("tap", tapName).
			Logger(),
		received:       metrics.ReceivedFramesTotal.WithLabelValues(label),
		forwarded:      metrics.ForwardedFramesTotal.WithLabelValues(label),
		forwardedBytes: metrics.ForwardedBytesTotal.WithLabelValues(label),
		dropped:        metrics.DroppedFramesTotal,
		queueDepth:     metrics.QueueDepth.WithLabelValues(label),
	}, nil
}

// SetPeer configures the descriptor released frames are written to. The
// emulator is symmetric: each endpoint's peer is the other endpoint's
// read descriptor. Must be called before Start.
func (e *TapEndpoint) SetPeer(fd int) {
	e.peerFd = fd
}

// Direction identifies the pipeline this endpoint feeds.
func (e *TapEndpoint) Direction() Direction {
	return e.direction
}

// TapName is the interface name this endpoint reads from.
func (e *TapEndpoint) TapName() string {
	return e.tapName
}

// Fd is the endpoint's own read descriptor, handed to the peer's
// SetPeer during wiring.
func (e *TapEndpoint) Fd() int {
	return e.fd
}

// Shaper is the shaper of this endpoint's direction.
func (e *TapEndpoint) Shaper() *LinkShaper {
	return e.shaper
}

// QueueLen is the current delay queue depth.
func (e *TapEndpoint) QueueLen() int {
	return e.queue.Len()
}

// PollOnce drains every currently readable frame from the tap without
// blocking, scheduling each through the shaper and admitting it to the
// delay queue. Returns the number of frames admitted.
func (e *TapEndpoint) PollOnce() int {
	var events [maxPollEvents]unix.EpollEvent
	n, err := unix.EpollWait(e.epollFd, events[:], 0)
	if err != nil {
		if err != unix.EINTR {
			e.logger.Warn().Err(err).Msg("epoll wait failed")
		}
		return 0
	}

	admitted := 0
	for i := 0; i < n; i++ {
		if events[i].Fd != int32(e.fd) || events[i].Events&unix.EPOLLIN == 0 {
			continue
		}
		admitted += e.drainReadable()
	}
	if admitted > 0 {
		e.queueDepth.Set(float64(e.queue.Len()))
	}
	return admitted
}

func (e *TapEndpoint) drainReadable() int {
	admitted := 0
	for {
		buf := make([]byte, MaxFrameSize)
		n, err := unix.Read(e.fd, buf)
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return admitted
		}
		if err != nil {
			e.Stats.ReadErrors.Add(1)
			e.dropped.WithLabelValues(e.direction.String(), collectors.DropReadError).Inc()
			e.logger.Warn().Err(err).Msg("error reading from tap")
			continue
		}
		if n <= 0 {
			return admitted
		}

		frame := NewFrame(buf[:n], e.clock.NowMicros())
		e.Stats.Received.Add(1)
		e.received.Inc()

		e.shaper.Schedule(frame)
		if err := e.queue.Admit(frame); err != nil {
			// Tail-drop. Deliberately quiet: a saturated queue would
			// otherwise flood the log at line rate.
			e.Stats.DroppedOverflow.Add(1)
			e.dropped.WithLabelValues(e.direction.String(), collectors.DropOverflow).Inc()
			continue
		}
		admitted++
	}
}

// FlushDue releases every queue-head frame whose departure is at or
// before now, applying the loss draw and writing survivors to the peer.
// Returns the number of frames released.
func (e *TapEndpoint) FlushDue(now int64) int {
	released := e.queue.ReleaseDue(now, e.release)
	if released > 0 {
		e.queueDepth.Set(float64(e.queue.Len()))
	}
	return released
}

// release is the delay queue sink: one loss draw, then a best-effort
// write. The frame is consumed regardless of the write outcome.
func (e *TapEndpoint) release(frame *Frame) {
	if e.shaper.ShouldDrop() {
		e.Stats.DroppedLoss.Add(1)
		e.dropped.WithLabelValues(e.direction.String(), collectors.DropLoss).Inc()
		e.logger.Debug().
			Stringer("ethertype", frame.EtherType).
			Int("size", frame.Size()).
			Msg("frame lost")
		return
	}

	if _, err := unix.Write(e.peerFd, frame.Data); err != nil {
		e.Stats.WriteErrors.Add(1)
		e.dropped.WithLabelValues(e.direction.String(), collectors.DropWriteError).Inc()
		e.logger.Warn().Err(err).Msg("error writing to peer")
		return
	}

	e.Stats.Forwarded.Add(1)
	e.Stats.ForwardedBytes.Add(int64(frame.Size()))
	e.forwarded.Inc()
	e.forwardedBytes.Add(float64(frame.Size()))
}

// Start launches the worker loop for this direction.
func (e *TapEndpoint) Start() {
	go e.worker()
}

// worker is the per-direction hot loop. It never sleeps: the emulator's
// whole job is to inject precise delay, and an OS sleep here would
// contaminate it. When a pass makes no progress it yields the processor
// instead.
func (e *TapEndpoint) worker() {
	defer e.tomb.Done()

	e.logger.Info().Msg("worker started")
	for {
		select {
		case <-e.tomb.Dying():
			e.logger.Info().Msg("worker stopping")
			return
		default:
		}

		admitted := e.PollOnce()
		released := e.FlushDue(e.clock.NowMicros())
		if admitted == 0 && released == 0 {
			runtime.Gosched()
		}
	}
}

// Stop terminates the worker, drains the delay queue and closes the
// readiness notifier. The tap descriptor itself belongs to whoever
// opened it.
func (e *TapEndpoint) Stop() {
	e.tomb.Killf("stopping %s worker", e.direction)
	e.tomb.Wait()

	e.queue.Drain(func(*Frame) {})
	e.queueDepth.Set(0)
	unix.Close(e.epollFd)
}
