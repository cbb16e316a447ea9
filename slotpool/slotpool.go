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

// Package slotpool implements a fixed-size, reference-counted byte-slot
// arena. It allows extracted binary payloads to cross the worker boundary
// by handing over a slot reference rather than copying the bytes.
//
// A slot's bytes are immutable from acquisition until reclamation. The
// sender relinquishes write access the moment the slot is handed over; the
// receiving side retains the slot once per fan-out destination and each
// destination releases on completion. The slot returns to the free list
// when the reference count reaches zero.
package slotpool

import (
	"sync"
	"sync/atomic"

	"github.com/p2tools/coglink/curated"
)

// sentinel errors for the slotpool package.
const (
	InvalidPoolSize = "slotpool: invalid pool size (%d slots of %d bytes)"
	ReleaseOfFree   = "slotpool: release of a slot that is already free"
)

// Slot is a single entry in a Pool. Acquired with Pool.Acquire().
type Slot struct {
	pool *Pool
	id   int

	kind   byte
	length int
	refs   int32

	bytes []byte
}

// ID returns the slot's index in its pool.
func (s *Slot) ID() int {
	return s.id
}

// Kind returns the kind-tag recorded at acquisition.
func (s *Slot) Kind() byte {
	return s.kind
}

// Len returns the length of the payload held in the slot.
func (s *Slot) Len() int {
	return s.length
}

// Bytes returns the payload held in the slot. The returned slice must be
// treated as read-only; it is only valid until the final Release().
func (s *Slot) Bytes() []byte {
	return s.bytes[:s.length]
}

// Retain increments the reference count by n. Called once per fan-out
// destination before the slot is handed over.
func (s *Slot) Retain(n int) {
	atomic.AddInt32(&s.refs, int32(n))
}

// Release decrements the reference count, reclaiming the slot to the pool's
// free list when the count reaches zero. Returns an error if the slot was
// not held.
func (s *Slot) Release() error {
	refs := atomic.AddInt32(&s.refs, -1)
	if refs < 0 {
		atomic.AddInt32(&s.refs, 1)
		return curated.Errorf(ReleaseOfFree)
	}
	if refs == 0 {
		s.pool.reclaim(s)
	}
	return nil
}

// Pool is a fixed-size arena of byte slots. The zero value is not usable;
// use NewPool().
type Pool struct {
	crit sync.Mutex

	slots []Slot
	free  []int

	// number of times Acquire() found the free list empty
	exhausted uint64
}

// NewPool is the preferred method of initialisation for the Pool type. All
// slots are allocated up front; the pool never grows.
func NewPool(numSlots int, slotSize int) (*Pool, error) {
	if numSlots <= 0 || slotSize <= 0 {
		return nil, curated.Errorf(InvalidPoolSize, numSlots, slotSize)
	}

	p := &Pool{
		slots: make([]Slot, numSlots),
		free:  make([]int, 0, numSlots),
	}

	for i := range p.slots {
		p.slots[i] = Slot{
			pool:  p,
			id:    i,
			bytes: make([]byte, slotSize),
		}
		p.free = append(p.free, i)
	}

	return p, nil
}

// Acquire takes a slot from the free list, copies the payload into it and
// returns it with a reference count of one. Returns false if the pool is
// exhausted or the payload is too large for a slot; the caller is expected
// to fall back to a copying handoff.
func (p *Pool) Acquire(kind byte, payload []byte) (*Slot, bool) {
	p.crit.Lock()
	defer p.crit.Unlock()

	if len(p.free) == 0 {
		p.exhausted++
		return nil, false
	}

	if len(payload) > len(p.slots[0].bytes) {
		return nil, false
	}

	id := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	s := &p.slots[id]
	s.kind = kind
	s.length = len(payload)
	copy(s.bytes, payload)
	atomic.StoreInt32(&s.refs, 1)

	return s, true
}

// Free returns the number of slots currently on the free list.
func (p *Pool) Free() int {
	p.crit.Lock()
	defer p.crit.Unlock()
	return len(p.free)
}

// Size returns the total number of slots in the pool.
func (p *Pool) Size() int {
	return len(p.slots)
}

// Exhausted returns the number of times Acquire() has failed for want of a
// free slot.
func (p *Pool) Exhausted() uint64 {
	p.crit.Lock()
	defer p.crit.Unlock()
	return p.exhausted
}

func (p *Pool) reclaim(s *Slot) {
	p.crit.Lock()
	defer p.crit.Unlock()
	p.free = append(p.free, s.id)
}
