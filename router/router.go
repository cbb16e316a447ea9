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

// Package router fans extracted messages out to their registered
// destinations. Destinations for a message kind are invoked in registration
// order and are isolated from one another: a destination that fails, or
// panics, is counted and logged but never prevents the remaining
// destinations from receiving the message.
package router

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/p2tools/coglink/logger"
	"github.com/p2tools/coglink/stream"
)

// Destination is a named handler for a message kind. Handlers receive the
// same message value as every other destination, not a clone; destinations
// requiring mutation isolation must copy for themselves.
//
// A handler returning an error is counted against the router's error
// statistics but is otherwise not acted upon.
type Destination struct {
	Name   string
	Handle func(*stream.ExtractedMessage) error
}

// Router maps message kinds to ordered lists of destinations. The zero
// value is not usable; use NewRouter().
type Router struct {
	crit         sync.Mutex
	destinations map[stream.MessageKind][]Destination

	routed    map[stream.MessageKind]uint64
	delivered map[string]uint64
	errors    uint64

	// in-flight work, including asynchronous work registered with
	// TrackAsync(). observed by the reset coordinator's drain wait
	outstanding int64
}

// NewRouter is the preferred method of initialisation for the Router type.
func NewRouter() *Router {
	return &Router{
		destinations: make(map[stream.MessageKind][]Destination),
		routed:       make(map[stream.MessageKind]uint64),
		delivered:    make(map[string]uint64),
	}
}

// RegisterDestination adds a destination for the message kind. Registration
// of a (kind, name) pair that already exists is idempotent: the original
// destination keeps its position in the delivery order.
func (rt *Router) RegisterDestination(kind stream.MessageKind, dest Destination) {
	rt.crit.Lock()
	defer rt.crit.Unlock()

	for _, d := range rt.destinations[kind] {
		if d.Name == dest.Name {
			return
		}
	}
	rt.destinations[kind] = append(rt.destinations[kind], dest)
}

// UnregisterDestination removes the named destination for the message kind.
// Returns false if no such destination is registered.
func (rt *Router) UnregisterDestination(kind stream.MessageKind, name string) bool {
	rt.crit.Lock()
	defer rt.crit.Unlock()

	for i, d := range rt.destinations[kind] {
		if d.Name == name {
			rt.destinations[kind] = append(rt.destinations[kind][:i], rt.destinations[kind][i+1:]...)
			return true
		}
	}
	return false
}

// Route invokes every destination registered for the message's kind, in
// registration order, passing the same message to each.
//
// A message whose kind has zero registered destinations is not an error and
// is not counted as routed. A destination that panics or returns an error
// increments the routing-error counter and does not prevent the remaining
// destinations from receiving the message.
//
// If the message payload is backed by a pool slot, the slot is retained
// once per destination before dispatch and released as each destination
// completes; the producer's own reference is released when routing is done.
// A destination needing the payload beyond its return must take its own
// retention.
func (rt *Router) Route(msg *stream.ExtractedMessage) {
	atomic.AddInt64(&rt.outstanding, 1)
	defer atomic.AddInt64(&rt.outstanding, -1)

	rt.crit.Lock()
	dests := make([]Destination, len(rt.destinations[msg.Kind]))
	copy(dests, rt.destinations[msg.Kind])
	if len(dests) > 0 {
		rt.routed[msg.Kind]++
	}
	rt.crit.Unlock()

	if msg.Slot != nil {
		msg.Slot.Retain(len(dests))
		defer msg.Slot.Release()
	}

	for _, d := range dests {
		rt.dispatch(d, msg)
	}
}

func (rt *Router) dispatch(d Destination, msg *stream.ExtractedMessage) {
	if msg.Slot != nil {
		defer msg.Slot.Release()
	}

	defer func() {
		if r := recover(); r != nil {
			atomic.AddUint64(&rt.errors, 1)
			logger.Logf("router", "destination %s panicked: %v", d.Name, r)
		}
	}()

	if err := d.Handle(msg); err != nil {
		atomic.AddUint64(&rt.errors, 1)
		logger.Logf("router", "destination %s: %v", d.Name, err)
		return
	}

	rt.crit.Lock()
	rt.delivered[d.Name]++
	rt.crit.Unlock()
}

// TrackAsync registers a unit of asynchronous work with the router. The
// returned function must be called exactly once when the work completes.
// Destinations that hand a message off to another goroutine use this so
// that the drain check remains truthful.
func (rt *Router) TrackAsync() func() {
	atomic.AddInt64(&rt.outstanding, 1)
	var once sync.Once
	return func() {
		once.Do(func() {
			atomic.AddInt64(&rt.outstanding, -1)
		})
	}
}

// Outstanding returns the number of in-flight routing operations, including
// asynchronous work registered with TrackAsync().
func (rt *Router) Outstanding() int {
	return int(atomic.LoadInt64(&rt.outstanding))
}

// Idle returns true when there is no in-flight work.
func (rt *Router) Idle() bool {
	return atomic.LoadInt64(&rt.outstanding) == 0
}

// Statistics is a snapshot of the router's counters.
type Statistics struct {
	// number of messages routed to at least one destination, by kind
	Routed map[stream.MessageKind]uint64

	// number of deliveries per destination name
	Delivered map[string]uint64

	// cumulative count of destination failures (errors and panics)
	Errors uint64
}

func (s Statistics) String() string {
	return fmt.Sprintf("routed kinds: %d, destinations: %d, errors: %d",
		len(s.Routed), len(s.Delivered), s.Errors)
}

// CopyStatistics returns a snapshot of the router's counters.
func (rt *Router) CopyStatistics() Statistics {
	rt.crit.Lock()
	defer rt.crit.Unlock()

	s := Statistics{
		Routed:    make(map[stream.MessageKind]uint64, len(rt.routed)),
		Delivered: make(map[string]uint64, len(rt.delivered)),
		Errors:    atomic.LoadUint64(&rt.errors),
	}
	for k, v := range rt.routed {
		s.Routed[k] = v
	}
	for k, v := range rt.delivered {
		s.Delivered[k] = v
	}
	return s
}

// ResetStatistics zeroes all of the router's counters.
func (rt *Router) ResetStatistics() {
	rt.crit.Lock()
	defer rt.crit.Unlock()

	rt.routed = make(map[stream.MessageKind]uint64)
	rt.delivered = make(map[string]uint64)
	atomic.StoreUint64(&rt.errors, 0)
}
