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

package ringbuffer

import (
	"github.com/p2tools/coglink/curated"
)

// sentinel error returned by New().
const InvalidCapacity = "ringbuffer: invalid capacity (%d)"

// TokenKind classifies the result of a call to Next().
type TokenKind int

// List of valid TokenKind values.
const (
	// no bytes are available
	TokenEmpty TokenKind = iota

	// a single byte of data. the byte is in the Data field of the token
	TokenData

	// an end-of-line unit. the Length field of the token records how many
	// bytes the unit consumed (one for LF, two for CRLF)
	TokenEOL
)

// Token is returned by the Next() function.
type Token struct {
	Kind   TokenKind
	Data   byte
	Length int
}

const (
	lf = 0x0a
	cr = 0x0d
)

// RingBuffer is a fixed-capacity circular byte store. The zero value is not
// usable; use New().
//
// The read and write cursors are both taken modulo the capacity. The number
// of occupied bytes is tracked independently of the cursors so that a
// completely full buffer and a completely empty buffer are distinguishable.
type RingBuffer struct {
	buffer []byte
	read   int
	write  int
	used   int

	highWater int
}

// New is the preferred method of initialisation for the RingBuffer type.
// Capacity is caller-chosen and is not required to be a power of two.
func New(capacity int) (*RingBuffer, error) {
	if capacity <= 0 {
		return nil, curated.Errorf(InvalidCapacity, capacity)
	}
	return &RingBuffer{
		buffer: make([]byte, capacity),
	}, nil
}

// Capacity returns the fixed capacity of the buffer.
func (rb *RingBuffer) Capacity() int {
	return len(rb.buffer)
}

// Length returns the number of unread bytes in the buffer.
func (rb *RingBuffer) Length() int {
	return rb.used
}

// HighWaterMark returns the largest number of bytes that have ever been
// resident in the buffer at one time.
func (rb *RingBuffer) HighWaterMark() int {
	return rb.highWater
}

// FillRatio returns the occupied fraction of the buffer, between 0.0 and 1.0.
func (rb *RingBuffer) FillRatio() float64 {
	return float64(rb.used) / float64(len(rb.buffer))
}

// TailPosition returns the physical index of the write cursor. Used by the
// deferred diagnostics path to note where a chunk landed.
func (rb *RingBuffer) TailPosition() int {
	return rb.write
}

// Append adds bytes at the tail of the buffer. Returns false, with the
// buffer unchanged, if the write would exceed the remaining capacity. A
// zero-length append succeeds trivially.
func (rb *RingBuffer) Append(p []byte) bool {
	if len(p) > len(rb.buffer)-rb.used {
		return false
	}

	n := copy(rb.buffer[rb.write:], p)
	if n < len(p) {
		copy(rb.buffer, p[n:])
	}

	rb.write = (rb.write + len(p)) % len(rb.buffer)
	rb.used += len(p)
	if rb.used > rb.highWater {
		rb.highWater = rb.used
	}

	return true
}

// Next advances the read cursor by one logical unit and returns a token
// describing it.
//
// The current end-of-line contract: a lone line-feed is an EOL of length
// one; a carriage-return immediately followed by a line-feed is a single
// EOL of length two, never split across two calls even when the pair wraps
// the backing store. A lone carriage-return, and a carriage-return that
// follows a line-feed, are reported as plain DATA bytes. Downstream
// consumers rely on this exact framing; do not change it here.
func (rb *RingBuffer) Next() Token {
	if rb.used == 0 {
		return Token{Kind: TokenEmpty}
	}

	b := rb.buffer[rb.read]

	switch b {
	case lf:
		rb.advance(1)
		return Token{Kind: TokenEOL, Length: 1}

	case cr:
		if rb.used >= 2 && rb.buffer[(rb.read+1)%len(rb.buffer)] == lf {
			rb.advance(2)
			return Token{Kind: TokenEOL, Length: 2}
		}
		// a carriage-return with no line-feed behind it is data
	}

	rb.advance(1)
	return Token{Kind: TokenData, Data: b}
}

// Consume discards n bytes without returning them. Returns false, with the
// buffer unchanged, if fewer than n bytes are available.
func (rb *RingBuffer) Consume(n int) bool {
	if n < 0 || n > rb.used {
		return false
	}
	rb.advance(n)
	return true
}

// PeekAt returns the i'th unread byte without advancing the read cursor.
func (rb *RingBuffer) PeekAt(i int) (byte, bool) {
	if i < 0 || i >= rb.used {
		return 0, false
	}
	return rb.buffer[(rb.read+i)%len(rb.buffer)], true
}

// BytesAt copies n bytes starting at the given physical position,
// irrespective of the read and write cursors. Used by the deferred
// diagnostics path to render a chunk after the extractor has moved past it.
// The copy is only meaningful if the bytes have not yet been overwritten by
// later appends.
func (rb *RingBuffer) BytesAt(pos int, n int) []byte {
	if n <= 0 || n > len(rb.buffer) {
		return nil
	}

	pos = pos % len(rb.buffer)
	p := make([]byte, n)
	c := copy(p, rb.buffer[pos:])
	if c < n {
		copy(p[c:], rb.buffer)
	}
	return p
}

func (rb *RingBuffer) advance(n int) {
	rb.read = (rb.read + n) % len(rb.buffer)
	rb.used -= n
}
