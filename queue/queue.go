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

// Package queue implements the auto-growing FIFO used to decouple stream
// extraction from message routing.
//
// There are no blocking semantics. An enqueue on a full queue grows the
// queue, up to the hard maximum, and a dequeue on an empty queue returns an
// empty indicator.
package queue

// BoundedQueue is a FIFO with an initial small capacity that grows, up to a
// hard maximum, as enqueue pressure demands. The zero value is not usable;
// use NewBoundedQueue().
type BoundedQueue[T any] struct {
	entries []T
	head    int
	tail    int
	used    int

	max       int
	highWater int
}

// NewBoundedQueue is the preferred method of initialisation for the
// BoundedQueue type. The queue begins with the initial capacity and will
// never grow beyond max. Nonsensical arguments are normalised rather than
// rejected.
func NewBoundedQueue[T any](initial int, max int) *BoundedQueue[T] {
	if initial < 1 {
		initial = 1
	}
	if max < initial {
		max = initial
	}
	return &BoundedQueue[T]{
		entries: make([]T, initial),
		max:     max,
	}
}

// Len returns the number of entries currently in the queue.
func (q *BoundedQueue[T]) Len() int {
	return q.used
}

// Capacity returns the current (grown) capacity of the queue.
func (q *BoundedQueue[T]) Capacity() int {
	return len(q.entries)
}

// HighWaterMark returns the largest number of entries that have ever been
// resident in the queue at one time.
func (q *BoundedQueue[T]) HighWaterMark() int {
	return q.highWater
}

// Enqueue adds an entry to the back of the queue, growing the queue if it is
// full. Returns false if the queue is full and already at the hard maximum.
func (q *BoundedQueue[T]) Enqueue(e T) bool {
	if q.used == len(q.entries) {
		if !q.grow() {
			return false
		}
	}

	q.entries[q.tail] = e
	q.tail = (q.tail + 1) % len(q.entries)
	q.used++
	if q.used > q.highWater {
		q.highWater = q.used
	}

	return true
}

// Dequeue removes the entry at the front of the queue. The second return
// value is false if the queue is empty.
func (q *BoundedQueue[T]) Dequeue() (T, bool) {
	var none T

	if q.used == 0 {
		return none, false
	}

	e := q.entries[q.head]
	q.entries[q.head] = none
	q.head = (q.head + 1) % len(q.entries)
	q.used--

	return e, true
}

func (q *BoundedQueue[T]) grow() bool {
	if len(q.entries) >= q.max {
		return false
	}

	capacity := len(q.entries) * 2
	if capacity > q.max {
		capacity = q.max
	}

	entries := make([]T, capacity)
	for i := 0; i < q.used; i++ {
		entries[i] = q.entries[(q.head+i)%len(q.entries)]
	}

	q.entries = entries
	q.head = 0
	q.tail = q.used

	return true
}
