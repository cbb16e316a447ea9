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

package stream

import (
	"bytes"
	"time"

	"github.com/p2tools/coglink/queue"
	"github.com/p2tools/coglink/ringbuffer"
	"github.com/p2tools/coglink/slotpool"
)

// Wire-level constants for the debug link.
const (
	// reserved lead and terminator bytes for control frames
	controlLead       = 0xfe
	controlTerminator = 0xff

	// the sigil that introduces a window-directed command line
	windowSigil = 0x60 // '`'

	// the highest valid source identifier. eight concurrent emitters
	MaxSourceID = 0x07

	// the frame format byte follows the source identifier
	frameFormatScope = 0x01
	frameFormatLogic = 0x02

	// total frame lengths for the two formats in active use, inclusive of
	// the source identifier and format bytes
	ScopeFrameLength = 80
	LogicFrameLength = 416
)

// the distinguished system-init line starts with this prefix and contains
// this marker
var (
	sysInitPrefix = []byte("Cog")
	sysInitMarker = []byte("INIT")
)

// Extractor is a stateful scanner that carves typed messages out of a
// RingBuffer. The zero value is not usable; use NewExtractor().
type Extractor struct {
	ring *ringbuffer.RingBuffer

	// where extracted messages go. wired by the session to a queue or a
	// channel depending on the deployment shape
	emit func(*ExtractedMessage)

	// pool for zero-copy handoff of telemetry payloads. may be nil, in
	// which case payloads are always copied
	pool *slotpool.Pool

	// deferred diagnostics. the ingestion path notes only lightweight
	// metadata; rendering happens later, off the hot path
	pendingDumps *queue.BoundedQueue[DumpRecord]
	droppedDumps uint64

	// clock is replaceable for testing
	clock func() time.Time
}

// NewExtractor is the preferred method of initialisation for the Extractor
// type. The pool argument may be nil.
func NewExtractor(ring *ringbuffer.RingBuffer, pool *slotpool.Pool, emit func(*ExtractedMessage)) *Extractor {
	return &Extractor{
		ring:         ring,
		emit:         emit,
		pool:         pool,
		pendingDumps: queue.NewBoundedQueue[DumpRecord](16, 1024),
		clock:        time.Now,
	}
}

// SetClock replaces the time source. For testing.
func (ext *Extractor) SetClock(clock func() time.Time) {
	ext.clock = clock
}

// SetEmit redirects extracted messages to a new target. Used by the
// session when switching between its deployment shapes. Must not be called
// while ExtractMessages() is in progress.
func (ext *Extractor) SetEmit(emit func(*ExtractedMessage)) {
	ext.emit = emit
}

// ExtractMessages repeatedly attempts to carve one complete message out of
// whatever is currently available in the ring buffer. It never blocks: if
// no complete message boundary is available it returns having consumed
// nothing, to be retried once more bytes arrive. Returns the number of
// messages emitted.
//
// Malformed or unrecognised input is never dropped and never causes a
// panic; the worst case is a misclassified message at default confidence.
func (ext *Extractor) ExtractMessages() int {
	n := 0
	for ext.extractOne() {
		n++
	}
	return n
}

// extractOne returns true if a message was emitted. false means no complete
// boundary is available yet (nothing was consumed).
func (ext *Extractor) extractOne() bool {
	if ext.ring.Length() == 0 {
		return false
	}

	b0, _ := ext.ring.PeekAt(0)

	// tier one: very-distinctive fixed markers
	if b0 == controlLead {
		if ext.extractControlFrame() {
			return true
		}
		if ext.ring.Length() < ext.ring.Capacity() {
			return false
		}
		// buffer is full with no terminator in sight. fall through to the
		// text fallback so that ingestion is never wedged
	}

	// tier three: fixed-length telemetry frames. these need context (a
	// complete run of the indicated length) to disambiguate from text that
	// happens to start with a low byte value. checked before the text tiers
	// because the lead byte can never begin a printable line
	if b0 <= MaxSourceID {
		done, emitted := ext.extractTelemetryFrame()
		if done {
			return emitted
		}
		// not a telemetry shape after all. fall through
	}

	// tiers one (window sigil), two (distinctive prefixes) and four (the
	// default): all are lines terminated at the next EOL
	return ext.extractLine(b0)
}

// extractControlFrame carves a marker-delimited control frame. Returns
// false, having consumed nothing, if the terminator has not yet arrived.
func (ext *Extractor) extractControlFrame() bool {
	length := ext.ring.Length()
	for i := 1; i < length; i++ {
		b, _ := ext.ring.PeekAt(i)
		if b != controlTerminator {
			continue
		}

		// payload is everything between the lead and terminator bytes
		payload := make([]byte, i-1)
		for j := 1; j < i; j++ {
			payload[j-1], _ = ext.ring.PeekAt(j)
		}
		ext.ring.Consume(i + 1)

		ext.emit(&ExtractedMessage{
			Kind:       KindControlFrame,
			Payload:    payload,
			Confidence: ConfidenceVeryDistinctive,
			Timestamp:  ext.clock(),
			SourceID:   NoSourceID,
		})
		return true
	}

	return false
}

// extractTelemetryFrame carves a fixed-length binary telemetry frame. The
// first return value is false if the buffered bytes do not look like a
// telemetry frame at all; the caller should try the next tier. When it is
// true, the second return value says whether a message was emitted (false
// meaning: a frame is in progress but not yet complete).
func (ext *Extractor) extractTelemetryFrame() (bool, bool) {
	format, ok := ext.ring.PeekAt(1)
	if !ok {
		// only the source identifier byte has arrived. too early to judge;
		// wait for the format byte rather than consuming it as text
		return true, false
	}

	var length int
	switch format {
	case frameFormatScope:
		length = ScopeFrameLength
	case frameFormatLogic:
		length = LogicFrameLength
	default:
		return false, false
	}

	if length > ext.ring.Capacity() {
		// the frame can never complete in a buffer this small. treat as
		// text rather than wedging
		return false, false
	}

	if ext.ring.Length() < length {
		return true, false
	}

	// the integrity invariant lives here: the source identifier byte and
	// every subsequent byte, in original order, regardless of wraparound or
	// adjacency to the next frame
	payload := make([]byte, length)
	for i := 0; i < length; i++ {
		payload[i], _ = ext.ring.PeekAt(i)
	}
	ext.ring.Consume(length)

	msg := &ExtractedMessage{
		Kind:       KindTelemetryFrame,
		Confidence: ConfidenceNeedsContext,
		Timestamp:  ext.clock(),
		SourceID:   int(payload[0]),
	}

	// hand large payloads over through the pool when one is available
	if ext.pool != nil {
		if slot, ok := ext.pool.Acquire(byte(KindTelemetryFrame), payload); ok {
			msg.Slot = slot
			msg.Payload = slot.Bytes()
		}
	}
	if msg.Payload == nil {
		msg.Payload = payload
	}

	ext.emit(msg)
	return true, true
}

// extractLine carves a text line terminated at the next EOL, classifying it
// by its leading sigil or prefix. Returns false, having consumed nothing,
// if no EOL has arrived and the buffer still has room.
func (ext *Extractor) extractLine(b0 byte) bool {
	if !ext.lineAvailable() {
		if ext.ring.Length() < ext.ring.Capacity() {
			return false
		}

		// a completely full buffer with no line ending. emit the whole
		// contents as a default-confidence text line so that ingestion can
		// make progress
		payload := make([]byte, ext.ring.Length())
		for i := range payload {
			payload[i], _ = ext.ring.PeekAt(i)
		}
		ext.ring.Consume(len(payload))

		ext.emit(&ExtractedMessage{
			Kind:       KindTextLine,
			Payload:    payload,
			Confidence: ConfidenceDefault,
			Timestamp:  ext.clock(),
			SourceID:   NoSourceID,
		})
		return true
	}

	// read through the tokenised interface so that EOL folding (and its
	// deliberate asymmetries) come from one place only
	payload := []byte{}
	for {
		tk := ext.ring.Next()
		if tk.Kind == ringbuffer.TokenEOL {
			break
		}
		// TokenEmpty is impossible here; lineAvailable saw an EOL
		payload = append(payload, tk.Data)
	}

	msg := &ExtractedMessage{
		Kind:       KindTextLine,
		Payload:    payload,
		Confidence: ConfidenceDefault,
		Timestamp:  ext.clock(),
		SourceID:   NoSourceID,
	}

	switch {
	case b0 == windowSigil:
		msg.Kind = KindWindowCommand
		msg.Confidence = ConfidenceVeryDistinctive

	case bytes.HasPrefix(payload, sysInitPrefix) && bytes.Contains(payload, sysInitMarker):
		msg.Kind = KindSystemInit
		msg.Confidence = ConfidenceDistinctive
	}

	ext.emit(msg)
	return true
}

// lineAvailable returns true if a line-feed is present somewhere in the
// unread bytes. A solitary carriage-return does not terminate a line.
func (ext *Extractor) lineAvailable() bool {
	length := ext.ring.Length()
	for i := 0; i < length; i++ {
		b, _ := ext.ring.PeekAt(i)
		if b == 0x0a {
			return true
		}
	}
	return false
}
