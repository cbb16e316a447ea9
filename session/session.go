// This file is part of Coglink.
//
// Coglink is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Coglink is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with Coglink.  If not, see <https://www.gnu.org/licenses/>.

// Package session assembles the framing core: ring buffer, stream
// extractor, message queue, slot pool, router and reset coordinator.
//
// A Session is explicitly constructed and caller-owned. There is no hidden
// process-wide instance; code that needs the session is handed the value.
//
// Two deployment shapes are supported and behave identically from the
// router outward. In the cooperative shape the caller feeds bytes with
// ReceiveBytes() and calls Service() on the same goroutine. In the split
// shape, Run() reads from a link on one goroutine and routes on another,
// with messages crossing on a channel and large payloads handed over as
// pool slot references rather than copies.
package session

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/p2tools/coglink/logger"
	"github.com/p2tools/coglink/queue"
	"github.com/p2tools/coglink/resync"
	"github.com/p2tools/coglink/ringbuffer"
	"github.com/p2tools/coglink/router"
	"github.com/p2tools/coglink/slotpool"
	"github.com/p2tools/coglink/stream"
)

// Spec collects the tunable parameters of a Session. The zero value of any
// field selects its default.
type Spec struct {
	// capacity of the ring buffer in bytes
	BufferCapacity int

	// initial and maximum capacity of the message queue
	QueueInitial int
	QueueMaximum int

	// number of slots in the zero-copy pool. a negative value disables the
	// pool entirely
	PoolSlots int

	// reset coordination
	DrainTimeout time.Duration
	IdleTimeout  time.Duration

	// threshold alerts. see alerts.go
	Alerts AlertThresholds
}

// Defaults for the Spec fields.
const (
	DefaultBufferCapacity = 4096
	DefaultQueueInitial   = 32
	DefaultQueueMaximum   = 4096
	DefaultPoolSlots      = 8
)

// Session is the assembled framing core. The zero value is not usable; use
// NewSession().
type Session struct {
	spec Spec

	ring     *ringbuffer.RingBuffer
	pool     *slotpool.Pool
	ext      *stream.Extractor
	messages *queue.BoundedQueue[*stream.ExtractedMessage]
	rt       *router.Router
	coord    *resync.Coordinator

	// destination of the deferred hexdump rendering. nil disables the
	// diagnostic log
	dump io.Writer

	// bytes rejected by a full ring buffer, messages rejected by a full
	// queue
	droppedBytes    uint64
	droppedMessages uint64

	// latency of the most recently routed message, in nanoseconds. written
	// by the routing goroutine and read by the ingestion goroutine in the
	// split shape, so access is atomic
	lastLatency int64

	// messages handed to the routing goroutine but not yet routed. part of
	// the drain check in the split shape
	inTransit int64

	alerts alertState

	// clock is replaceable for testing
	clock func() time.Time
}

// NewSession is the preferred method of initialisation for the Session
// type.
func NewSession(spec Spec) (*Session, error) {
	if spec.BufferCapacity <= 0 {
		spec.BufferCapacity = DefaultBufferCapacity
	}
	if spec.QueueInitial <= 0 {
		spec.QueueInitial = DefaultQueueInitial
	}
	if spec.QueueMaximum <= 0 {
		spec.QueueMaximum = DefaultQueueMaximum
	}
	if spec.PoolSlots == 0 {
		spec.PoolSlots = DefaultPoolSlots
	}

	ring, err := ringbuffer.New(spec.BufferCapacity)
	if err != nil {
		return nil, err
	}

	s := &Session{
		spec:     spec,
		ring:     ring,
		messages: queue.NewBoundedQueue[*stream.ExtractedMessage](spec.QueueInitial, spec.QueueMaximum),
		rt:       router.NewRouter(),
		clock:    time.Now,
	}

	if spec.PoolSlots > 0 {
		s.pool, err = slotpool.NewPool(spec.PoolSlots, stream.LogicFrameLength)
		if err != nil {
			return nil, err
		}
	}

	s.ext = stream.NewExtractor(ring, s.pool, s.enqueue)

	s.coord = resync.NewCoordinator(drainState{s})
	if spec.DrainTimeout > 0 {
		s.coord.SetDrainTimeout(spec.DrainTimeout)
	}
	if spec.IdleTimeout > 0 {
		s.coord.SetIdleTimeout(spec.IdleTimeout)
	}

	s.alerts.thresholds = spec.Alerts

	return s, nil
}

// drainState implements the resync.Drainer interface: the pipeline has
// drained when the message queue is empty and the router has no in-flight
// work.
type drainState struct {
	s *Session
}

func (d drainState) Idle() bool {
	return d.s.messages.Len() == 0 &&
		atomic.LoadInt64(&d.s.inTransit) == 0 &&
		d.s.rt.Idle()
}

// Router gives access to destination registration and routing statistics.
func (s *Session) Router() *router.Router {
	return s.rt
}

// Coordinator gives access to reset handling and the event stream.
func (s *Session) Coordinator() *resync.Coordinator {
	return s.coord
}

// SetDumpWriter directs the deferred hexdump rendering to w. A nil writer
// disables the diagnostic log.
func (s *Session) SetDumpWriter(w io.Writer) {
	s.dump = w
}

// SetClock replaces the time source. For testing.
func (s *Session) SetClock(clock func() time.Time) {
	s.clock = clock
	s.ext.SetClock(clock)
	s.coord.SetClock(clock)
}

// ReceiveBytes is the only entry point accepting raw stream data. Bytes
// that do not fit in the ring buffer are rejected as a unit and counted;
// the buffer never truncates a chunk.
//
// Nothing on this path is allowed to panic or block; the expensive
// diagnostic rendering of the received bytes is deferred to Service().
func (s *Session) ReceiveBytes(b []byte) {
	if len(b) == 0 {
		return
	}

	now := s.clock()
	position := s.ring.TailPosition()

	if !s.ring.Append(b) {
		atomic.AddUint64(&s.droppedBytes, uint64(len(b)))
		logger.Logf("session", "ring buffer full: %d bytes dropped", len(b))
		s.alerts.bufferOverrun(s, now)
		return
	}

	s.ext.NoteChunk(now, position, len(b))
	s.coord.NoteTraffic(now)
}

// enqueue is the extractor's emit target in the cooperative shape.
func (s *Session) enqueue(msg *stream.ExtractedMessage) {
	if s.messages.Enqueue(msg) {
		return
	}
	s.discard(msg)
}

// discard counts a message that could not be handed on for routing,
// releasing its slot reference if it has one.
func (s *Session) discard(msg *stream.ExtractedMessage) {
	atomic.AddUint64(&s.droppedMessages, 1)
	if msg.Slot != nil {
		_ = msg.Slot.Release()
	}
	logger.Logf("session", "routing backlog full: %s message dropped", msg.Kind)
}

// Service performs one cooperative pass: extract whatever messages are
// complete, route them, render any pending diagnostic dumps and evaluate
// the threshold alerts. It never blocks and is intended to be called in a
// loop, interleaved with ReceiveBytes(). Returns the number of messages
// routed.
func (s *Session) Service() int {
	s.ext.ExtractMessages()
	depth := s.messages.Len()

	n := 0
	for {
		msg, ok := s.messages.Dequeue()
		if !ok {
			break
		}
		s.route(msg)
		n++
	}

	if s.dump != nil {
		s.ext.RenderPendingDumps(s.dump)
	}

	now := s.clock()
	s.alerts.evaluate(s, now, depth)
	s.coord.CheckIdle(now)

	return n
}

// route delivers one message and maintains the coordinator's counters and
// the latency measurement.
func (s *Session) route(msg *stream.ExtractedMessage) {
	s.coord.ObserveMessage(msg.Timestamp)
	s.rt.Route(msg)
	atomic.StoreInt64(&s.lastLatency, int64(s.clock().Sub(msg.Timestamp)))
}

// latency returns the most recent routing latency measurement.
func (s *Session) latency() time.Duration {
	return time.Duration(atomic.LoadInt64(&s.lastLatency))
}

// Statistics is a snapshot of the session's counters, suitable for an
// external monitor.
type Statistics struct {
	BufferCapacity  int
	BufferHighWater int
	BufferFill      float64

	QueueDepth     int
	QueueCapacity  int
	QueueHighWater int

	PoolSize int
	PoolFree int

	Router router.Statistics

	ResetsDTR uint64
	ResetsRTS uint64
	Sync      resync.SyncStatus

	DroppedBytes    uint64
	DroppedMessages uint64
}

// CopyStatistics returns a snapshot of the session's counters.
func (s *Session) CopyStatistics() Statistics {
	st := Statistics{
		BufferCapacity:  s.ring.Capacity(),
		BufferHighWater: s.ring.HighWaterMark(),
		BufferFill:      s.ring.FillRatio(),
		QueueDepth:      s.messages.Len(),
		QueueCapacity:   s.messages.Capacity(),
		QueueHighWater:  s.messages.HighWaterMark(),
		Router:          s.rt.CopyStatistics(),
		ResetsDTR:       s.coord.ResetCount(resync.SignalDTR),
		ResetsRTS:       s.coord.ResetCount(resync.SignalRTS),
		Sync:            s.coord.Status(),
		DroppedBytes:    atomic.LoadUint64(&s.droppedBytes),
		DroppedMessages: atomic.LoadUint64(&s.droppedMessages),
	}
	if s.pool != nil {
		st.PoolSize = s.pool.Size()
		st.PoolFree = s.pool.Free()
	}
	return st
}
