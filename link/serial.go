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

package link

import (
	"time"

	"github.com/p2tools/coglink/curated"
	"github.com/p2tools/coglink/logger"
	"github.com/pkg/term"
)

// sentinel errors for serial connections.
const (
	SerialOpen = "serial: %v"
)

// the default baud rate for the debug link.
const DefaultBaud = 2000000

// how long a reset line is held asserted.
const pulseWidth = 10 * time.Millisecond

// Serial is a Link over a real serial device, raw mode, using the termios
// wrapping provided by the term package.
type Serial struct {
	device string
	port   *term.Term
}

// NewSerial is the preferred method of initialisation for the Serial type.
// The device argument is the path to the serial device (eg. /dev/ttyUSB0).
func NewSerial(device string, baud int) (*Serial, error) {
	if baud <= 0 {
		baud = DefaultBaud
	}

	p, err := term.Open(device, term.Speed(baud), term.RawMode)
	if err != nil {
		return nil, curated.Errorf(SerialOpen, err)
	}

	// a short read timeout keeps the read loop responsive to shutdown
	// without busy-waiting
	_ = p.SetReadTimeout(100 * time.Millisecond)

	logger.Logf("serial", "opened %s at %d baud", device, baud)

	return &Serial{
		device: device,
		port:   p,
	}, nil
}

// Read implements the io.Reader interface.
func (s *Serial) Read(b []byte) (int, error) {
	return s.port.Read(b)
}

// Write implements the io.Writer interface.
func (s *Serial) Write(b []byte) (int, error) {
	return s.port.Write(b)
}

// Close implements the io.Closer interface.
func (s *Serial) Close() error {
	logger.Logf("serial", "closing %s", s.device)
	return s.port.Close()
}

// PulseDTR implements the Link interface.
func (s *Serial) PulseDTR() error {
	if err := s.port.SetDTR(true); err != nil {
		return curated.Errorf(SerialOpen, err)
	}
	time.Sleep(pulseWidth)
	if err := s.port.SetDTR(false); err != nil {
		return curated.Errorf(SerialOpen, err)
	}
	return nil
}

// PulseRTS implements the Link interface.
func (s *Serial) PulseRTS() error {
	if err := s.port.SetRTS(true); err != nil {
		return curated.Errorf(SerialOpen, err)
	}
	time.Sleep(pulseWidth)
	if err := s.port.SetRTS(false); err != nil {
		return curated.Errorf(SerialOpen, err)
	}
	return nil
}
