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

package session_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/p2tools/coglink/link"
	"github.com/p2tools/coglink/resync"
	"github.com/p2tools/coglink/router"
	"github.com/p2tools/coglink/session"
	"github.com/p2tools/coglink/stream"
	"github.com/p2tools/coglink/test"
)

func TestCooperativeShape(t *testing.T) {
	s, err := session.NewSession(session.Spec{})
	test.ExpectedSuccess(t, err)

	var lines []string
	s.Router().RegisterDestination(stream.KindTextLine, router.Destination{
		Name: "collector",
		Handle: func(m *stream.ExtractedMessage) error {
			lines = append(lines, string(m.Payload))
			return nil
		},
	})

	s.ReceiveBytes([]byte("first line\nsecond "))
	test.Equate(t, s.Service(), 1)
	s.ReceiveBytes([]byte("line\n"))
	test.Equate(t, s.Service(), 1)

	test.Equate(t, len(lines), 2)
	test.Equate(t, lines[0], "first line")
	test.Equate(t, lines[1], "second line")
}

func TestStatisticsSurface(t *testing.T) {
	s, err := session.NewSession(session.Spec{BufferCapacity: 64})
	test.ExpectedSuccess(t, err)

	s.Router().RegisterDestination(stream.KindTextLine, router.Destination{
		Name:   "sink",
		Handle: func(*stream.ExtractedMessage) error { return nil },
	})

	s.ReceiveBytes([]byte("hello\n"))
	s.Service()
	s.Coordinator().OnDTRReset()

	st := s.CopyStatistics()
	test.Equate(t, st.BufferCapacity, 64)
	test.Equate(t, st.BufferHighWater, 6)
	test.Equate(t, st.Router.Routed[stream.KindTextLine], uint64(1))
	test.Equate(t, st.Router.Delivered["sink"], uint64(1))
	test.Equate(t, st.ResetsDTR, uint64(1))
	test.ExpectedSuccess(t, st.Sync.Synchronized)
	test.Equate(t, st.Sync.Source, "DTR")
}

func TestBufferOverrunAlert(t *testing.T) {
	s, err := session.NewSession(session.Spec{BufferCapacity: 8})
	test.ExpectedSuccess(t, err)

	var alerts int
	s.Coordinator().On(resync.EventBufferFillAlert, func(resync.Event) { alerts++ })

	s.ReceiveBytes([]byte("0123456789abcdef"))
	test.Equate(t, alerts, 1)
	test.Equate(t, s.CopyStatistics().DroppedBytes, uint64(16))
}

func TestQueueDepthAlert(t *testing.T) {
	s, err := session.NewSession(session.Spec{
		Alerts: session.AlertThresholds{QueueDepth: 1},
	})
	test.ExpectedSuccess(t, err)

	var alert *resync.Event
	s.Coordinator().On(resync.EventQueueDepthAlert, func(ev resync.Event) { alert = &ev })

	// the depth is sampled after extraction and before the queue drains
	s.ReceiveBytes([]byte("one\ntwo\n"))
	s.Service()

	if alert == nil {
		t.Fatalf("queue depth alert did not fire")
	}
	test.Equate(t, alert.Value, 2.0)
	test.Equate(t, alert.Threshold, 1.0)
}

func TestDiagnosticDump(t *testing.T) {
	s, err := session.NewSession(session.Spec{})
	test.ExpectedSuccess(t, err)

	b := &strings.Builder{}
	s.SetDumpWriter(b)

	epoch := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return epoch })

	s.ReceiveBytes([]byte("hi\n"))
	s.Service()

	out := b.String()
	if !strings.Contains(out, "-- 3 bytes 2026-08-29T12:00:00Z") {
		t.Errorf("dump header missing or malformed: %q", out)
	}
	if !strings.Contains(out, "$68 $69 $0A") {
		t.Errorf("dump hex rendering missing: %q", out)
	}
}

func TestSplitShape(t *testing.T) {
	s, err := session.NewSession(session.Spec{})
	test.ExpectedSuccess(t, err)

	received := make(chan string, 16)
	s.Router().RegisterDestination(stream.KindTextLine, router.Destination{
		Name: "collector",
		Handle: func(m *stream.ExtractedMessage) error {
			received <- string(m.Payload)
			return nil
		},
	})

	pipe := link.NewPipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, pipe)
	}()

	pipe.Inject([]byte("over the wire\n"))

	select {
	case line := <-received:
		test.Equate(t, line, "over the wire")
	case <-time.After(5 * time.Second):
		t.Fatalf("message did not cross the worker boundary")
	}

	cancel()
	select {
	case err := <-done:
		test.Equate(t, err == context.Canceled, true)
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop on cancellation")
	}
}

func TestSplitShapeTelemetry(t *testing.T) {
	s, err := session.NewSession(session.Spec{})
	test.ExpectedSuccess(t, err)

	received := make(chan *stream.ExtractedMessage, 16)
	s.Router().RegisterDestination(stream.KindTelemetryFrame, router.Destination{
		Name: "collector",
		Handle: func(m *stream.ExtractedMessage) error {
			// the payload is only valid for the duration of the handler;
			// copy before returning
			c := *m
			c.Payload = append([]byte{}, m.Payload...)
			c.Slot = nil
			received <- &c
			return nil
		},
	})

	pipe := link.NewPipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, pipe)
	}()

	frame := make([]byte, stream.ScopeFrameLength)
	frame[0] = 0x04
	frame[1] = 0x01
	for i := 2; i < len(frame); i++ {
		frame[i] = byte(i)
	}
	pipe.Inject(frame)

	select {
	case m := <-received:
		test.Equate(t, m.SourceID, 4)
		test.EquateBytes(t, m.Payload, frame)
	case <-time.After(5 * time.Second):
		t.Fatalf("telemetry frame did not cross the worker boundary")
	}

	cancel()
	<-done
}

func TestSplitShapeLatencySampling(t *testing.T) {
	s, err := session.NewSession(session.Spec{
		Alerts: session.AlertThresholds{Latency: time.Hour},
	})
	test.ExpectedSuccess(t, err)

	// the ingestion goroutine reads the latency measurement while the
	// routing goroutine updates it. run enough traffic through both for the
	// race detector to see the overlap
	delivered := make(chan struct{}, 256)
	s.Router().RegisterDestination(stream.KindTextLine, router.Destination{
		Name: "collector",
		Handle: func(*stream.ExtractedMessage) error {
			delivered <- struct{}{}
			return nil
		},
	})

	pipe := link.NewPipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, pipe)
	}()

	const numLines = 200
	for i := 0; i < numLines; i++ {
		pipe.Inject([]byte("latency sample\n"))
	}

	for i := 0; i < numLines; i++ {
		select {
		case <-delivered:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d messages delivered", i, numLines)
		}
	}

	cancel()
	<-done
}

func TestSplitShapeDrainWait(t *testing.T) {
	s, err := session.NewSession(session.Spec{DrainTimeout: 30 * time.Millisecond})
	test.ExpectedSuccess(t, err)

	// the first message blocks in its handler, leaving the rest queued
	// between the two goroutines. a reset during the blockage must not
	// declare the pipeline drained
	release := make(chan struct{})
	entered := make(chan struct{}, 8)
	delivered := make(chan struct{}, 8)
	s.Router().RegisterDestination(stream.KindTextLine, router.Destination{
		Name: "slow",
		Handle: func(*stream.ExtractedMessage) error {
			entered <- struct{}{}
			<-release
			delivered <- struct{}{}
			return nil
		},
	})

	var timeouts int
	s.Coordinator().On(resync.EventDrainTimeout, func(resync.Event) { timeouts++ })

	pipe := link.NewPipe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx, pipe)
	}()

	pipe.Inject([]byte("one\ntwo\nthree\n"))
	<-entered

	m, err := s.HardReset(pipe, resync.SignalDTR)
	test.ExpectedSuccess(t, err)
	test.Equate(t, m.Sequence, uint64(1))
	test.Equate(t, timeouts, 1)

	close(release)
	for i := 0; i < 3; i++ {
		select {
		case <-delivered:
		case <-time.After(5 * time.Second):
			t.Fatalf("message %d never delivered after release", i)
		}
	}

	// with the backlog routed the next drain wait completes in time
	m, err = s.HardReset(pipe, resync.SignalDTR)
	test.ExpectedSuccess(t, err)
	test.Equate(t, m.Sequence, uint64(2))
	test.Equate(t, timeouts, 1)

	cancel()
	<-done
}

func TestHardReset(t *testing.T) {
	s, err := session.NewSession(session.Spec{DrainTimeout: 10 * time.Millisecond})
	test.ExpectedSuccess(t, err)

	pipe := link.NewPipe()

	m, err := s.HardReset(pipe, resync.SignalDTR)
	test.ExpectedSuccess(t, err)
	test.Equate(t, m.Sequence, uint64(1))
	test.Equate(t, pipe.DTRPulses, 1)

	m, err = s.HardReset(pipe, resync.SignalRTS)
	test.ExpectedSuccess(t, err)
	test.Equate(t, m.Sequence, uint64(2))
	test.Equate(t, pipe.RTSPulses, 1)
}
