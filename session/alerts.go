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

package session

import (
	"time"

	"github.com/p2tools/coglink/resync"
)

// AlertThresholds configures the session's threshold alerts. A zero
// threshold disables that alert.
type AlertThresholds struct {
	// buffer fill ratio, between 0.0 and 1.0
	BufferFill float64

	// number of messages waiting in the queue
	QueueDepth int

	// time between extraction and routing of a message
	Latency time.Duration
}

// alertState tracks which alerts are currently asserted so that each
// crossing is reported once, re-arming when the value falls back below its
// threshold.
type alertState struct {
	thresholds AlertThresholds

	bufferAsserted  bool
	queueAsserted   bool
	latencyAsserted bool
}

// bufferOverrun is called from the ingestion path when an append is
// rejected. The fill alert fires immediately regardless of the configured
// threshold; a dropped chunk is always worth an event.
func (a *alertState) bufferOverrun(s *Session, now time.Time) {
	if a.bufferAsserted {
		return
	}
	a.bufferAsserted = true
	s.coord.Emit(resync.Event{
		Name:      resync.EventBufferFillAlert,
		Time:      now,
		Value:     s.ring.FillRatio(),
		Threshold: a.thresholds.BufferFill,
	})
}

// evaluate runs once per Service() pass. The queue depth is sampled by the
// caller before the queue is drained; measuring after would always see zero.
// Each alert event carries the current value and the configured threshold so
// that an external monitor can act without querying the session.
func (a *alertState) evaluate(s *Session, now time.Time, queueDepth int) {
	if a.thresholds.BufferFill > 0 {
		fill := s.ring.FillRatio()
		if fill >= a.thresholds.BufferFill {
			if !a.bufferAsserted {
				a.bufferAsserted = true
				s.coord.Emit(resync.Event{
					Name:      resync.EventBufferFillAlert,
					Time:      now,
					Value:     fill,
					Threshold: a.thresholds.BufferFill,
				})
			}
		} else {
			a.bufferAsserted = false
		}
	}

	if a.thresholds.QueueDepth > 0 {
		if queueDepth >= a.thresholds.QueueDepth {
			if !a.queueAsserted {
				a.queueAsserted = true
				s.coord.Emit(resync.Event{
					Name:      resync.EventQueueDepthAlert,
					Time:      now,
					Value:     float64(queueDepth),
					Threshold: float64(a.thresholds.QueueDepth),
				})
			}
		} else {
			a.queueAsserted = false
		}
	}

	if a.thresholds.Latency > 0 {
		latency := s.latency()
		if latency >= a.thresholds.Latency {
			if !a.latencyAsserted {
				a.latencyAsserted = true
				s.coord.Emit(resync.Event{
					Name:      resync.EventLatencyAlert,
					Time:      now,
					Value:     latency.Seconds(),
					Threshold: a.thresholds.Latency.Seconds(),
				})
			}
		} else {
			a.latencyAsserted = false
		}
	}
}
