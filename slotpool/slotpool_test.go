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

package slotpool_test

import (
	"testing"

	"github.com/p2tools/coglink/slotpool"
	"github.com/p2tools/coglink/test"
)

func TestLifecycle(t *testing.T) {
	p, err := slotpool.NewPool(2, 16)
	test.ExpectedSuccess(t, err)
	test.Equate(t, p.Free(), 2)

	s, ok := p.Acquire(0x01, []byte{0xde, 0xad, 0xbe, 0xef})
	test.ExpectedSuccess(t, ok)
	test.Equate(t, p.Free(), 1)
	test.Equate(t, int(s.Kind()), 0x01)
	test.Equate(t, s.Len(), 4)
	test.EquateBytes(t, s.Bytes(), []byte{0xde, 0xad, 0xbe, 0xef})

	// two fan-out destinations
	s.Retain(2)

	// the producer's reference
	test.ExpectedSuccess(t, s.Release())
	test.Equate(t, p.Free(), 1)

	// each destination completes
	test.ExpectedSuccess(t, s.Release())
	test.Equate(t, p.Free(), 1)
	test.ExpectedSuccess(t, s.Release())
	test.Equate(t, p.Free(), 2)

	// over-release is an error
	test.ExpectedFailure(t, s.Release())
}

func TestExhaustion(t *testing.T) {
	p, err := slotpool.NewPool(1, 8)
	test.ExpectedSuccess(t, err)

	s, ok := p.Acquire(0x00, []byte{0x01})
	test.ExpectedSuccess(t, ok)

	_, ok = p.Acquire(0x00, []byte{0x02})
	test.ExpectedFailure(t, ok)
	test.Equate(t, p.Exhausted(), uint64(1))

	test.ExpectedSuccess(t, s.Release())
	_, ok = p.Acquire(0x00, []byte{0x02})
	test.ExpectedSuccess(t, ok)
}

func TestOversizePayload(t *testing.T) {
	p, err := slotpool.NewPool(2, 4)
	test.ExpectedSuccess(t, err)

	_, ok := p.Acquire(0x00, []byte{0x01, 0x02, 0x03, 0x04, 0x05})
	test.ExpectedFailure(t, ok)
	test.Equate(t, p.Free(), 2)
}

func TestInvalidPool(t *testing.T) {
	_, err := slotpool.NewPool(0, 16)
	test.ExpectedFailure(t, err)
}
