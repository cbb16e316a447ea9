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

package stream_test

import (
	"testing"

	"github.com/p2tools/coglink/ringbuffer"
	"github.com/p2tools/coglink/slotpool"
	"github.com/p2tools/coglink/stream"
	"github.com/p2tools/coglink/test"
)

type harness struct {
	ring     *ringbuffer.RingBuffer
	ext      *stream.Extractor
	messages []*stream.ExtractedMessage
}

func newHarness(t *testing.T, capacity int, pool *slotpool.Pool) *harness {
	t.Helper()

	ring, err := ringbuffer.New(capacity)
	test.ExpectedSuccess(t, err)

	h := &harness{ring: ring}
	h.ext = stream.NewExtractor(ring, pool, func(m *stream.ExtractedMessage) {
		h.messages = append(h.messages, m)
	})

	return h
}

// scopeFrame builds a well-formed 80 byte telemetry frame for the given
// source identifier, with a recognisable byte pattern in the sample area.
func scopeFrame(sourceID byte, fill byte) []byte {
	f := make([]byte, stream.ScopeFrameLength)
	f[0] = sourceID
	f[1] = 0x01 // scope format
	for i := 2; i < len(f); i++ {
		f[i] = fill
	}
	return f
}

func TestTextLine(t *testing.T) {
	h := newHarness(t, 128, nil)

	h.ring.Append([]byte("hello, world\n"))
	test.Equate(t, h.ext.ExtractMessages(), 1)

	m := h.messages[0]
	test.Equate(t, int(m.Kind), int(stream.KindTextLine))
	test.Equate(t, int(m.Confidence), int(stream.ConfidenceDefault))
	test.Equate(t, string(m.Payload), "hello, world")
	test.Equate(t, m.SourceID, stream.NoSourceID)
}

func TestIncompleteLineConsumesNothing(t *testing.T) {
	h := newHarness(t, 128, nil)

	h.ring.Append([]byte("no line ending yet"))
	test.Equate(t, h.ext.ExtractMessages(), 0)
	test.Equate(t, h.ring.Length(), 18)

	// completing the line releases it
	h.ring.Append([]byte(" - now there is\n"))
	test.Equate(t, h.ext.ExtractMessages(), 1)
	test.Equate(t, string(h.messages[0].Payload), "no line ending yet - now there is")
}

func TestSystemInitLine(t *testing.T) {
	h := newHarness(t, 128, nil)

	h.ring.Append([]byte("Cog0  INIT $0000_0000 $0000_0000 load\n"))
	test.Equate(t, h.ext.ExtractMessages(), 1)
	test.Equate(t, int(h.messages[0].Kind), int(stream.KindSystemInit))
	test.Equate(t, int(h.messages[0].Confidence), int(stream.ConfidenceDistinctive))
}

func TestWindowCommand(t *testing.T) {
	h := newHarness(t, 128, nil)

	h.ring.Append([]byte("`SCOPE myscope SIZE 254 140\n"))
	test.Equate(t, h.ext.ExtractMessages(), 1)
	test.Equate(t, int(h.messages[0].Kind), int(stream.KindWindowCommand))
	test.Equate(t, int(h.messages[0].Confidence), int(stream.ConfidenceVeryDistinctive))
	test.Equate(t, string(h.messages[0].Payload), "`SCOPE myscope SIZE 254 140")
}

func TestControlFrame(t *testing.T) {
	h := newHarness(t, 128, nil)

	h.ring.Append([]byte{0xfe, 0x10, 0x20, 0x30})
	test.Equate(t, h.ext.ExtractMessages(), 0)

	// nothing consumed while the terminator is outstanding
	test.Equate(t, h.ring.Length(), 4)

	h.ring.Append([]byte{0x40, 0xff})
	test.Equate(t, h.ext.ExtractMessages(), 1)

	m := h.messages[0]
	test.Equate(t, int(m.Kind), int(stream.KindControlFrame))
	test.Equate(t, int(m.Confidence), int(stream.ConfidenceVeryDistinctive))
	test.EquateBytes(t, m.Payload, []byte{0x10, 0x20, 0x30, 0x40})
	test.Equate(t, h.ring.Length(), 0)
}

func TestTelemetryFrame(t *testing.T) {
	h := newHarness(t, 1024, nil)

	f := scopeFrame(3, 0xaa)
	h.ring.Append(f)
	test.Equate(t, h.ext.ExtractMessages(), 1)

	m := h.messages[0]
	test.Equate(t, int(m.Kind), int(stream.KindTelemetryFrame))
	test.Equate(t, int(m.Confidence), int(stream.ConfidenceNeedsContext))
	test.Equate(t, m.SourceID, 3)
	test.EquateBytes(t, m.Payload, f)
}

func TestTelemetryFrameChunkedArrival(t *testing.T) {
	h := newHarness(t, 1024, nil)

	f := scopeFrame(5, 0x5a)

	// frame arrives in three chunks. nothing is consumed until the final
	// byte is present
	h.ring.Append(f[:1])
	test.Equate(t, h.ext.ExtractMessages(), 0)
	h.ring.Append(f[1:40])
	test.Equate(t, h.ext.ExtractMessages(), 0)
	test.Equate(t, h.ring.Length(), 40)
	h.ring.Append(f[40:])
	test.Equate(t, h.ext.ExtractMessages(), 1)

	test.EquateBytes(t, h.messages[0].Payload, f)
}

func TestSourceIdentifierPreservation(t *testing.T) {
	h := newHarness(t, 2048, nil)

	// three back-to-back frames with no intervening bytes
	f0 := scopeFrame(0, 0x11)
	f1 := scopeFrame(1, 0x22)
	f2 := scopeFrame(2, 0x33)

	chunk := append(append(append([]byte{}, f0...), f1...), f2...)
	h.ring.Append(chunk)
	test.Equate(t, h.ext.ExtractMessages(), 3)

	test.Equate(t, h.messages[0].SourceID, 0)
	test.Equate(t, h.messages[1].SourceID, 1)
	test.Equate(t, h.messages[2].SourceID, 2)
	test.EquateBytes(t, h.messages[0].Payload, f0)
	test.EquateBytes(t, h.messages[1].Payload, f1)
	test.EquateBytes(t, h.messages[2].Payload, f2)
}

func TestSourceIdentifierPreservationAcrossWrap(t *testing.T) {
	// a buffer barely bigger than two frames, so the second frame is
	// guaranteed to straddle the physical end of the store
	h := newHarness(t, stream.ScopeFrameLength*2+10, nil)

	// move the cursors close to the end of the backing store
	pad := make([]byte, stream.ScopeFrameLength+20)
	for i := range pad {
		pad[i] = 0x41
	}
	pad[len(pad)-1] = 0x0a
	h.ring.Append(pad)
	test.Equate(t, h.ext.ExtractMessages(), 1)

	f1 := scopeFrame(1, 0x66)
	f2 := scopeFrame(2, 0x77)
	test.ExpectedSuccess(t, h.ring.Append(f1))
	test.ExpectedSuccess(t, h.ring.Append(f2))
	test.Equate(t, h.ext.ExtractMessages(), 2)

	test.Equate(t, h.messages[1].SourceID, 1)
	test.Equate(t, h.messages[2].SourceID, 2)
	test.EquateBytes(t, h.messages[1].Payload, f1)
	test.EquateBytes(t, h.messages[2].Payload, f2)
}

func TestTelemetryFallsBackToText(t *testing.T) {
	h := newHarness(t, 128, nil)

	// a low lead byte but not a valid frame format byte. classified as a
	// text line at default confidence, not dropped
	h.ring.Append([]byte{0x03, 0x41, 0x42, 0x0a})
	test.Equate(t, h.ext.ExtractMessages(), 1)
	test.Equate(t, int(h.messages[0].Kind), int(stream.KindTextLine))
	test.Equate(t, int(h.messages[0].Confidence), int(stream.ConfidenceDefault))
	test.EquateBytes(t, h.messages[0].Payload, []byte{0x03, 0x41, 0x42})
}

func TestFullBufferWithNoBoundary(t *testing.T) {
	h := newHarness(t, 16, nil)

	chunk := []byte("0123456789abcdef")
	test.ExpectedSuccess(t, h.ring.Append(chunk))

	// no EOL anywhere but the buffer is full. the extractor must make
	// progress rather than wedge
	test.Equate(t, h.ext.ExtractMessages(), 1)
	test.Equate(t, int(h.messages[0].Kind), int(stream.KindTextLine))
	test.EquateBytes(t, h.messages[0].Payload, chunk)
	test.Equate(t, h.ring.Length(), 0)
}

func TestMixedTraffic(t *testing.T) {
	h := newHarness(t, 2048, nil)

	h.ring.Append([]byte("boot message\n"))
	h.ring.Append(scopeFrame(7, 0x99))
	h.ring.Append([]byte{0xfe, 0x01, 0xff})
	h.ring.Append([]byte("`PLOT p CLEAR\n"))
	test.Equate(t, h.ext.ExtractMessages(), 4)

	test.Equate(t, int(h.messages[0].Kind), int(stream.KindTextLine))
	test.Equate(t, int(h.messages[1].Kind), int(stream.KindTelemetryFrame))
	test.Equate(t, h.messages[1].SourceID, 7)
	test.Equate(t, int(h.messages[2].Kind), int(stream.KindControlFrame))
	test.Equate(t, int(h.messages[3].Kind), int(stream.KindWindowCommand))
}

func TestPoolBackedTelemetry(t *testing.T) {
	pool, err := slotpool.NewPool(4, stream.LogicFrameLength)
	test.ExpectedSuccess(t, err)

	h := newHarness(t, 1024, pool)

	f := scopeFrame(2, 0xc3)
	h.ring.Append(f)
	test.Equate(t, h.ext.ExtractMessages(), 1)

	m := h.messages[0]
	if m.Slot == nil {
		t.Fatalf("expected a pool-backed payload")
	}
	test.EquateBytes(t, m.Payload, f)
	test.Equate(t, pool.Free(), 3)

	test.ExpectedSuccess(t, m.Slot.Release())
	test.Equate(t, pool.Free(), 4)
}

func TestPoolExhaustionFallsBackToCopy(t *testing.T) {
	pool, err := slotpool.NewPool(1, stream.LogicFrameLength)
	test.ExpectedSuccess(t, err)

	h := newHarness(t, 1024, pool)

	h.ring.Append(scopeFrame(0, 0x01))
	h.ring.Append(scopeFrame(1, 0x02))
	test.Equate(t, h.ext.ExtractMessages(), 2)

	if h.messages[0].Slot == nil {
		t.Fatalf("expected first frame to be pool-backed")
	}
	if h.messages[1].Slot != nil {
		t.Fatalf("expected second frame to fall back to a copy")
	}
	test.Equate(t, h.messages[1].SourceID, 1)
}
