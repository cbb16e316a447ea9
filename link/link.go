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

// Package link abstracts the serial connection to the device. The framing
// core treats the link as an external collaborator: it only ever sees the
// bytes the link produces and the reset pulses it can be asked to send.
package link

import (
	"io"
	"sync"

	"github.com/p2tools/coglink/curated"
)

// sentinel errors for the link package.
const (
	LinkClosed = "link: closed"
)

// Link is a source of raw stream bytes with control of the two hardware
// reset lines.
type Link interface {
	io.ReadWriteCloser

	// PulseDTR briefly asserts the DTR line, resetting the device
	PulseDTR() error

	// PulseRTS briefly asserts the RTS line, resetting the device
	PulseRTS() error
}

// Pipe is an in-memory Link for testing and loopback use. Bytes injected
// with Inject() are returned by Read(); writes are collected for
// inspection.
type Pipe struct {
	crit   sync.Mutex
	wait   *sync.Cond
	buffer []byte
	closed bool

	written []byte

	// number of pulses seen on each line
	DTRPulses int
	RTSPulses int

	// if not nil, called on every pulse
	OnPulse func()
}

// NewPipe is the preferred method of initialisation for the Pipe type.
func NewPipe() *Pipe {
	p := &Pipe{}
	p.wait = sync.NewCond(&p.crit)
	return p
}

// Inject queues bytes for a future Read().
func (p *Pipe) Inject(b []byte) {
	p.crit.Lock()
	defer p.crit.Unlock()
	p.buffer = append(p.buffer, b...)
	p.wait.Broadcast()
}

// Read implements the io.Reader interface. It blocks until bytes are
// available or the pipe is closed. Bytes injected before the close are
// still readable; EOF is reported only once the buffer is empty.
func (p *Pipe) Read(b []byte) (int, error) {
	p.crit.Lock()
	defer p.crit.Unlock()

	for len(p.buffer) == 0 && !p.closed {
		p.wait.Wait()
	}

	if len(p.buffer) == 0 {
		return 0, io.EOF
	}

	n := copy(b, p.buffer)
	p.buffer = p.buffer[n:]
	return n, nil
}

// Write implements the io.Writer interface.
func (p *Pipe) Write(b []byte) (int, error) {
	p.crit.Lock()
	defer p.crit.Unlock()

	if p.closed {
		return 0, curated.Errorf(LinkClosed)
	}
	p.written = append(p.written, b...)
	return len(b), nil
}

// Written returns everything sent over the pipe so far.
func (p *Pipe) Written() []byte {
	p.crit.Lock()
	defer p.crit.Unlock()
	w := make([]byte, len(p.written))
	copy(w, p.written)
	return w
}

// Close implements the io.Closer interface. A blocked Read() returns EOF.
func (p *Pipe) Close() error {
	p.crit.Lock()
	defer p.crit.Unlock()
	p.closed = true
	p.wait.Broadcast()
	return nil
}

// PulseDTR implements the Link interface.
func (p *Pipe) PulseDTR() error {
	return p.pulse(&p.DTRPulses)
}

// PulseRTS implements the Link interface.
func (p *Pipe) PulseRTS() error {
	return p.pulse(&p.RTSPulses)
}

func (p *Pipe) pulse(count *int) error {
	p.crit.Lock()
	if p.closed {
		p.crit.Unlock()
		return curated.Errorf(LinkClosed)
	}
	*count++
	f := p.OnPulse
	p.crit.Unlock()

	if f != nil {
		f()
	}
	return nil
}
