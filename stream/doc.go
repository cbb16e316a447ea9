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

// Package stream reconstructs message boundaries from the byte soup arriving
// over the debug link.
//
// The link carries mixed traffic with no out-of-band length prefix: ASCII
// log lines, fixed-size binary telemetry frames from up to eight concurrent
// emitters, marker-delimited control frames and window-directed command
// lines. The Extractor repeatedly carves one complete message from whatever
// is currently buffered, working tier by tier from the most distinctive
// patterns down to the plain-text fallback. If no complete boundary is
// available it consumes nothing and returns, to be retried once more bytes
// arrive.
//
// Classification can be wrong in the presence of adversarial input. That is
// tolerated; every message carries a confidence tier so that consumers can
// discount ambiguous parses. What is never tolerated is corruption: the
// bytes of a telemetry frame, including the leading source-identifier byte,
// are copied out byte-for-byte in original order regardless of buffer
// wraparound, chunked arrival or adjacency to another frame of the same
// shape.
package stream
