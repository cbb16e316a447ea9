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
	"time"

	"github.com/p2tools/coglink/slotpool"
)

// MessageKind is the closed set of message classifications.
type MessageKind int

// List of valid MessageKind values.
const (
	// a plain text line, terminated at the next EOL
	KindTextLine MessageKind = iota

	// the distinguished text line emitted by an emitter as it starts up
	KindSystemInit

	// a fixed-length binary snapshot from one of the emitters. the first
	// payload byte is the source identifier
	KindTelemetryFrame

	// a marker-delimited binary control frame
	KindControlFrame

	// a window-directed command line, identified by a leading sigil
	KindWindowCommand
)

func (k MessageKind) String() string {
	switch k {
	case KindTextLine:
		return "text"
	case KindSystemInit:
		return "system-init"
	case KindTelemetryFrame:
		return "telemetry"
	case KindControlFrame:
		return "control"
	case KindWindowCommand:
		return "window-command"
	}
	return "unknown"
}

// Confidence records how certain the extractor was about a classification.
// Consumers use it to discount ambiguous parses; it never changes routing.
type Confidence int

// List of valid Confidence values, least certain first.
const (
	// the fallback tier. nothing else matched
	ConfidenceDefault Confidence = iota

	// a structural pattern that needed surrounding context to disambiguate
	ConfidenceNeedsContext

	// a distinctive textual prefix
	ConfidenceDistinctive

	// a reserved marker byte or sigil. effectively certain
	ConfidenceVeryDistinctive
)

func (c Confidence) String() string {
	switch c {
	case ConfidenceDefault:
		return "default"
	case ConfidenceNeedsContext:
		return "needs-context"
	case ConfidenceDistinctive:
		return "distinctive"
	case ConfidenceVeryDistinctive:
		return "very-distinctive"
	}
	return "unknown"
}

// NoSourceID is the SourceID value for message kinds that have no source
// identifier.
const NoSourceID = -1

// ExtractedMessage is a single message carved out of the byte stream.
// Created by the Extractor, consumed exactly once by the Router and then
// dropped (or its pool slot released).
type ExtractedMessage struct {
	Kind       MessageKind
	Payload    []byte
	Confidence Confidence
	Timestamp  time.Time

	// which of the concurrent emitters produced the message. NoSourceID for
	// kinds other than KindTelemetryFrame
	SourceID int

	// non-nil if Payload is backed by a pool slot. the payload bytes are
	// then only valid until the final release of the slot
	Slot *slotpool.Slot
}
