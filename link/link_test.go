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

package link_test

import (
	"io"
	"testing"

	"github.com/p2tools/coglink/curated"
	"github.com/p2tools/coglink/link"
	"github.com/p2tools/coglink/test"
)

func TestPipeReadWrite(t *testing.T) {
	p := link.NewPipe()

	p.Inject([]byte("hello"))

	b := make([]byte, 16)
	n, err := p.Read(b)
	test.ExpectedSuccess(t, err)
	test.Equate(t, n, 5)
	test.EquateBytes(t, b[:n], []byte("hello"))

	n, err = p.Write([]byte("reply"))
	test.ExpectedSuccess(t, err)
	test.Equate(t, n, 5)
	test.EquateBytes(t, p.Written(), []byte("reply"))
}

func TestPipeDrainsBeforeEOF(t *testing.T) {
	p := link.NewPipe()

	// bytes injected before the close remain readable
	p.Inject([]byte("tail"))
	test.ExpectedSuccess(t, p.Close())

	b := make([]byte, 2)
	n, err := p.Read(b)
	test.ExpectedSuccess(t, err)
	test.Equate(t, n, 2)
	test.EquateBytes(t, b, []byte("ta"))

	n, err = p.Read(b)
	test.ExpectedSuccess(t, err)
	test.Equate(t, n, 2)
	test.EquateBytes(t, b, []byte("il"))

	n, err = p.Read(b)
	test.Equate(t, n, 0)
	test.Equate(t, err == io.EOF, true)
}

func TestPipeClosed(t *testing.T) {
	p := link.NewPipe()
	test.ExpectedSuccess(t, p.Close())

	_, err := p.Read(make([]byte, 1))
	test.Equate(t, err == io.EOF, true)

	_, err = p.Write([]byte("x"))
	test.ExpectedFailure(t, err)
	test.ExpectedSuccess(t, curated.Is(err, link.LinkClosed))

	err = p.PulseDTR()
	test.ExpectedFailure(t, err)
	test.ExpectedSuccess(t, curated.Is(err, link.LinkClosed))
}

func TestPipePulses(t *testing.T) {
	p := link.NewPipe()

	pulses := 0
	p.OnPulse = func() { pulses++ }

	test.ExpectedSuccess(t, p.PulseDTR())
	test.ExpectedSuccess(t, p.PulseDTR())
	test.ExpectedSuccess(t, p.PulseRTS())

	test.Equate(t, p.DTRPulses, 2)
	test.Equate(t, p.RTSPulses, 1)
	test.Equate(t, pulses, 3)
}
