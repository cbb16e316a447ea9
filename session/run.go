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
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/p2tools/coglink/link"
	"github.com/p2tools/coglink/logger"
	"github.com/p2tools/coglink/resync"
	"github.com/p2tools/coglink/stream"
)

// size of the channel between the ingestion and routing goroutines.
const runChannelDepth = 64

// size of the read buffer for the link.
const readChunkSize = 512

// Run operates the session in the split deployment shape: ingestion and
// extraction on one goroutine, routing and consumers on another. The two
// communicate over a channel; pool-backed payloads cross it as slot
// references, not copies, with the in-transit reference released by the
// router after fan-out.
//
// Run blocks until the context is cancelled or the link fails. The
// cooperative ReceiveBytes()/Service() functions must not be called while
// Run is active.
func (s *Session) Run(ctx context.Context, lk link.Link) error {
	messages := make(chan *stream.ExtractedMessage, runChannelDepth)

	// the extractor emits into the channel for the duration of the run.
	// an unroutable message (channel full) is counted as dropped rather
	// than blocking extraction. the in-transit count keeps the drain check
	// truthful about messages queued between the two goroutines
	s.ext.SetEmit(func(msg *stream.ExtractedMessage) {
		atomic.AddInt64(&s.inTransit, 1)
		select {
		case messages <- msg:
		default:
			atomic.AddInt64(&s.inTransit, -1)
			s.discard(msg)
		}
	})
	defer s.ext.SetEmit(s.enqueue)

	var wg sync.WaitGroup
	var readErr error

	// close the link when the context is cancelled so that a blocked read
	// returns
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			lk.Close()
		case <-stop:
		}
	}()

	// ingestion and extraction
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(messages)
		defer close(stop)

		buffer := make([]byte, readChunkSize)
		for {
			n, err := lk.Read(buffer)
			if n > 0 {
				s.ReceiveBytes(buffer[:n])
				s.ext.ExtractMessages()
				if s.dump != nil {
					s.ext.RenderPendingDumps(s.dump)
				}
			}
			if err != nil {
				if err != io.EOF && ctx.Err() == nil {
					readErr = err
					logger.Logf("session", "link read: %v", err)
				}
				return
			}

			now := s.clock()
			s.alerts.evaluate(s, now, len(messages))
			s.coord.CheckIdle(now)
		}
	}()

	// routing
	for msg := range messages {
		s.route(msg)
		atomic.AddInt64(&s.inTransit, -1)
	}

	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return readErr
}

// HardReset pulses the requested signal line on the link and records the
// reset with the coordinator, waiting (bounded) for in-flight messages to
// drain. Returns the recorded boundary marker.
func (s *Session) HardReset(lk link.Link, sig resync.Signal) (resync.BoundaryMarker, error) {
	var err error
	switch sig {
	case resync.SignalRTS:
		err = lk.PulseRTS()
	default:
		err = lk.PulseDTR()
	}
	if err != nil {
		return resync.BoundaryMarker{}, err
	}

	if sig == resync.SignalRTS {
		return s.coord.OnRTSReset(), nil
	}
	return s.coord.OnDTRReset(), nil
}
