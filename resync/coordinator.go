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

// Package resync orchestrates hardware reset signals against the message
// pipeline. A reset on either of the two independent lines (DTR and RTS)
// partitions the stream into "before" and "after" segments by recording a
// monotonically sequenced boundary marker.
//
// The coordinator never touches buffer memory. It observes the router's
// idleness through the Drainer interface and stamps markers; the drain wait
// is its only suspension point and is always time-bounded.
package resync

import (
	"sync"
	"time"
)

// Signal identifies which hardware line triggered a reset.
type Signal int

// List of valid Signal values.
const (
	SignalDTR Signal = iota
	SignalRTS
)

func (s Signal) String() string {
	switch s {
	case SignalDTR:
		return "DTR"
	case SignalRTS:
		return "RTS"
	}
	return "unknown"
}

// BoundaryMarker records one reset event. Markers are never mutated after
// creation.
type BoundaryMarker struct {
	Signal    Signal
	Sequence  uint64
	Timestamp time.Time
}

// SyncStatus reports whether stream alignment is currently trusted, and by
// whose word.
type SyncStatus struct {
	Synchronized bool
	Source       string
}

// Drainer is how the coordinator observes the pipeline's backlog. The
// session provides an implementation combining queue depth and router
// in-flight work.
type Drainer interface {
	Idle() bool
}

// State of the coordinator's reset cycle.
type State int

// List of valid State values. The cycle is Idle -> Pending -> Draining ->
// Synchronized -> Idle.
const (
	StateIdle State = iota
	StatePending
	StateDraining
	StateSynchronized
)

// Defaults for the configurable timeouts.
const (
	DefaultDrainTimeout = 500 * time.Millisecond
	DefaultIdleTimeout  = 2 * time.Second
)

// how often the drain wait re-checks the Drainer.
const drainPollInterval = time.Millisecond

// Coordinator orchestrates reset signals against the in-flight message
// queue. The zero value is not usable; use NewCoordinator().
type Coordinator struct {
	crit sync.Mutex

	drain        Drainer
	drainTimeout time.Duration
	idleTimeout  time.Duration

	// clock is replaceable for testing
	clock func() time.Time

	state   State
	seq     uint64
	markers []BoundaryMarker
	status  SyncStatus

	// running counters relative to the most recent marker
	before uint64
	after  uint64

	resetCounts map[Signal]uint64

	listeners map[EventName][]func(Event)

	// idle watch for the communicationLost event
	lastTraffic  time.Time
	lostReported bool
}

// NewCoordinator is the preferred method of initialisation for the
// Coordinator type.
func NewCoordinator(drain Drainer) *Coordinator {
	return &Coordinator{
		drain:        drain,
		drainTimeout: DefaultDrainTimeout,
		idleTimeout:  DefaultIdleTimeout,
		clock:        time.Now,
		resetCounts:  make(map[Signal]uint64),
		listeners:    make(map[EventName][]func(Event)),
	}
}

// SetDrainTimeout bounds the wait for the pipeline to empty on reset.
func (co *Coordinator) SetDrainTimeout(d time.Duration) {
	co.crit.Lock()
	defer co.crit.Unlock()
	co.drainTimeout = d
}

// SetIdleTimeout sets how long the link may be silent, while synchronized,
// before communicationLost is reported.
func (co *Coordinator) SetIdleTimeout(d time.Duration) {
	co.crit.Lock()
	defer co.crit.Unlock()
	co.idleTimeout = d
}

// SetClock replaces the time source. For testing.
func (co *Coordinator) SetClock(clock func() time.Time) {
	co.crit.Lock()
	defer co.crit.Unlock()
	co.clock = clock
}

// State returns the current state of the reset cycle.
func (co *Coordinator) State() State {
	co.crit.Lock()
	defer co.crit.Unlock()
	return co.state
}

// Status returns the current synchronization status.
func (co *Coordinator) Status() SyncStatus {
	co.crit.Lock()
	defer co.crit.Unlock()
	return co.status
}

// OnDTRReset handles a reset event on the DTR line. See reset().
func (co *Coordinator) OnDTRReset() BoundaryMarker {
	return co.reset(SignalDTR)
}

// OnRTSReset handles a reset event on the RTS line. See reset().
func (co *Coordinator) OnRTSReset() BoundaryMarker {
	return co.reset(SignalRTS)
}

// reset waits for the pipeline to drain, bounded by the drain timeout, and
// whether or not the drain completed in time records a new boundary marker,
// marks the stream synchronized and emits the reset-detected and
// log-rotation events. Best-effort synchronization rather than indefinite
// blocking.
func (co *Coordinator) reset(sig Signal) BoundaryMarker {
	co.crit.Lock()
	co.state = StatePending
	drainTimeout := co.drainTimeout
	co.state = StateDraining
	co.crit.Unlock()

	timedOut := false
	deadline := co.now().Add(drainTimeout)
	for !co.drain.Idle() {
		if !co.now().Before(deadline) {
			timedOut = true
			break
		}
		time.Sleep(drainPollInterval)
	}

	co.crit.Lock()
	co.seq++
	marker := BoundaryMarker{
		Signal:    sig,
		Sequence:  co.seq,
		Timestamp: co.clock(),
	}
	co.markers = append(co.markers, marker)
	co.resetCounts[sig]++

	// everything counted so far is on the far side of the new marker
	co.before += co.after
	co.after = 0

	co.state = StateSynchronized
	statusChanged := !co.status.Synchronized || co.status.Source != sig.String()
	co.status = SyncStatus{Synchronized: true, Source: sig.String()}
	status := co.status
	co.lostReported = false
	co.state = StateIdle
	co.crit.Unlock()

	if timedOut {
		co.Emit(Event{
			Name:      EventDrainTimeout,
			Time:      marker.Timestamp,
			Marker:    &marker,
			Value:     drainTimeout.Seconds(),
			Threshold: drainTimeout.Seconds(),
		})
	}

	co.Emit(Event{Name: EventResetDetected, Time: marker.Timestamp, Marker: &marker})
	co.Emit(Event{Name: EventRotateLog, Time: marker.Timestamp, Marker: &marker})
	if statusChanged {
		co.Emit(Event{Name: EventSyncStatusChanged, Time: marker.Timestamp, Status: &status})
	}

	return marker
}

// IsMessageBeforeReset compares a timestamp against the most recent
// boundary marker. With no marker yet recorded every timestamp is
// considered "before": there is nothing to be after yet.
func (co *Coordinator) IsMessageBeforeReset(t time.Time) bool {
	co.crit.Lock()
	defer co.crit.Unlock()

	if len(co.markers) == 0 {
		return true
	}
	return t.Before(co.markers[len(co.markers)-1].Timestamp)
}

// ObserveMessage counts a message against the before/after counters of the
// most recent marker.
func (co *Coordinator) ObserveMessage(t time.Time) {
	co.crit.Lock()
	defer co.crit.Unlock()

	if len(co.markers) == 0 || t.Before(co.markers[len(co.markers)-1].Timestamp) {
		co.before++
		return
	}
	co.after++
}

// MessageCounts returns the number of messages observed before and after
// the most recent marker.
func (co *Coordinator) MessageCounts() (uint64, uint64) {
	co.crit.Lock()
	defer co.crit.Unlock()
	return co.before, co.after
}

// ResetCount returns the total number of resets seen on the given signal
// line.
func (co *Coordinator) ResetCount(sig Signal) uint64 {
	co.crit.Lock()
	defer co.crit.Unlock()
	return co.resetCounts[sig]
}

// Markers returns a copy of the marker history, oldest first.
func (co *Coordinator) Markers() []BoundaryMarker {
	co.crit.Lock()
	defer co.crit.Unlock()

	m := make([]BoundaryMarker, len(co.markers))
	copy(m, co.markers)
	return m
}

// PruneOldBoundaries retains only the most recent keep markers.
func (co *Coordinator) PruneOldBoundaries(keep int) {
	co.crit.Lock()
	defer co.crit.Unlock()

	if keep < 0 {
		keep = 0
	}
	if len(co.markers) > keep {
		co.markers = append([]BoundaryMarker{}, co.markers[len(co.markers)-keep:]...)
	}
}

// AssertSynchronized lets another subsystem (a protocol-level handshake,
// for example) mark stream alignment as trusted without a hardware reset.
func (co *Coordinator) AssertSynchronized(source string) {
	co.crit.Lock()
	changed := !co.status.Synchronized || co.status.Source != source
	co.status = SyncStatus{Synchronized: true, Source: source}
	status := co.status
	co.lostReported = false
	co.crit.Unlock()

	if changed {
		co.Emit(Event{Name: EventSyncStatusChanged, Time: co.now(), Status: &status})
	}
}

// NoteTraffic informs the idle watch that bytes have arrived.
func (co *Coordinator) NoteTraffic(t time.Time) {
	co.crit.Lock()
	defer co.crit.Unlock()
	co.lastTraffic = t
	co.lostReported = false
}

// CheckIdle emits communicationLost, once per idle episode, if the link has
// been silent beyond the idle timeout while synchronized. The status source
// becomes "idle-timeout" and synchronization is no longer trusted.
func (co *Coordinator) CheckIdle(t time.Time) {
	co.crit.Lock()

	if !co.status.Synchronized || co.lostReported || co.lastTraffic.IsZero() {
		co.crit.Unlock()
		return
	}

	idle := t.Sub(co.lastTraffic)
	if idle < co.idleTimeout {
		co.crit.Unlock()
		return
	}

	co.lostReported = true
	co.status = SyncStatus{Synchronized: false, Source: "idle-timeout"}
	status := co.status
	threshold := co.idleTimeout
	co.crit.Unlock()

	co.Emit(Event{
		Name:      EventCommunicationLost,
		Time:      t,
		Value:     idle.Seconds(),
		Threshold: threshold.Seconds(),
	})
	co.Emit(Event{Name: EventSyncStatusChanged, Time: t, Status: &status})
}

func (co *Coordinator) now() time.Time {
	co.crit.Lock()
	defer co.crit.Unlock()
	return co.clock()
}
