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
	"fmt"
	"io"
	"strings"
	"time"
)

// DumpRecord is the lightweight metadata noted on the ingestion path for
// every chunk of bytes received. The expensive hex/ASCII rendering is
// deferred; only the arrival timestamp, the chunk's landing position in the
// ring buffer and its length are recorded at receive time.
type DumpRecord struct {
	Timestamp time.Time
	Position  int
	Length    int
}

// number of bytes rendered per hexdump line.
const dumpLineWidth = 8

// NoteChunk records dump metadata for a newly ingested chunk. Called on the
// byte-receipt path; deliberately does nothing more than an enqueue.
func (ext *Extractor) NoteChunk(timestamp time.Time, position int, length int) {
	if length == 0 {
		return
	}
	if !ext.pendingDumps.Enqueue(DumpRecord{Timestamp: timestamp, Position: position, Length: length}) {
		ext.droppedDumps++
	}
}

// DroppedDumps returns the number of dump records lost to back-pressure on
// the side queue.
func (ext *Extractor) DroppedDumps() uint64 {
	return ext.droppedDumps
}

// RenderPendingDumps performs the deferred hex/ASCII rendering of every
// chunk noted since the last call, in arrival order, writing the result to
// w. The rendering reads the ring buffer by physical position so it is
// unaffected by the extractor having consumed the bytes, but it should be
// called often enough that later appends have not overwritten them.
func (ext *Extractor) RenderPendingDumps(w io.Writer) int {
	n := 0
	for {
		rec, ok := ext.pendingDumps.Dequeue()
		if !ok {
			return n
		}

		chunk := ext.ring.BytesAt(rec.Position, rec.Length)
		RenderDump(w, rec.Timestamp, chunk)
		n++
	}
}

// RenderDump writes one chunk in the diagnostic log format: a header line
// reporting the byte count and an ISO-8601 timestamp, followed by hex/ASCII
// dump lines using $XX notation per byte alongside the printable-ASCII
// rendering of the same bytes.
//
//	-- 5 bytes 2026-08-29T10:30:00Z
//	$48 $65 $6C $6C $6F              Hello
//
// The format is parsed by external tooling; field order and the $XX
// notation are load-bearing.
func RenderDump(w io.Writer, timestamp time.Time, chunk []byte) {
	fmt.Fprintf(w, "-- %d bytes %s\n", len(chunk), timestamp.UTC().Format(time.RFC3339))

	for i := 0; i < len(chunk); i += dumpLineWidth {
		end := i + dumpLineWidth
		if end > len(chunk) {
			end = len(chunk)
		}

		s := strings.Builder{}
		for _, b := range chunk[i:end] {
			s.WriteString(fmt.Sprintf("$%02X ", b))
		}

		// pad short final lines so the ASCII column lines up
		for j := end - i; j < dumpLineWidth; j++ {
			s.WriteString("    ")
		}

		s.WriteString(" ")
		for _, b := range chunk[i:end] {
			if b >= 0x20 && b <= 0x7e {
				s.WriteByte(b)
			} else {
				s.WriteByte('.')
			}
		}
		s.WriteString("\n")

		io.WriteString(w, s.String())
	}
}
