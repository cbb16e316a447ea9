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

package resync

import (
	"time"
)

// EventName identifies an event on the coordinator's event stream.
type EventName string

// The full list of event names. External consumers depend on these exact
// strings.
const (
	EventResetDetected     EventName = "resetDetected"
	EventRotateLog         EventName = "rotateLog"
	EventDrainTimeout      EventName = "drainTimeout"
	EventCommunicationLost EventName = "communicationLost"
	EventSyncStatusChanged EventName = "syncStatusChanged"
	EventBufferFillAlert   EventName = "bufferFillAlert"
	EventQueueDepthAlert   EventName = "queueDepthAlert"
	EventLatencyAlert      EventName = "latencyAlert"
)

// Event is delivered to every listener registered for its name. Which
// fields are meaningful depends on the event: reset and rotation events
// carry the boundary marker, sync events carry the new status, and
// threshold alerts carry the current value and the configured threshold.
type Event struct {
	Name EventName
	Time time.Time

	Marker    *BoundaryMarker
	Status    *SyncStatus
	Value     float64
	Threshold float64
}

// On registers a listener for the named event. Listeners are an explicit
// list of callbacks, invoked synchronously in registration order; there is
// no way to unregister.
func (co *Coordinator) On(name EventName, f func(Event)) {
	co.crit.Lock()
	defer co.crit.Unlock()
	co.listeners[name] = append(co.listeners[name], f)
}

// Emit delivers an event to every listener registered for its name. Other
// subsystems (the session's threshold alerts in particular) share the
// coordinator's event stream by emitting through this function.
func (co *Coordinator) Emit(ev Event) {
	co.crit.Lock()
	listeners := make([]func(Event), len(co.listeners[ev.Name]))
	copy(listeners, co.listeners[ev.Name])
	co.crit.Unlock()

	for _, f := range listeners {
		f(ev)
	}
}
