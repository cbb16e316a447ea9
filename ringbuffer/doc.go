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

// Package ringbuffer implements the fixed-capacity circular byte store that
// sits between the serial link and the stream extractor.
//
// The buffer is allocated once and never reallocated. Appends that would
// overflow the remaining capacity are rejected outright, leaving the buffer
// unchanged; the buffer never silently truncates or overwrites unread data.
//
// Reading is through the tokenised Next() function, which folds end-of-line
// recognition into the byte-level read. A line-feed yields an EOL token of
// length one and a carriage-return followed immediately by a line-feed
// yields an EOL token of length two, consumed as a single unit even when
// the pair straddles the physical end of the backing store.
package ringbuffer
