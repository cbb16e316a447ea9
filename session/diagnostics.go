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

package session

import (
	"io"

	"github.com/bradleyjkemp/memviz"
)

// Diagnostics renders the session's object graph in graphviz dot format.
// Useful when debugging a live session: the output shows the wiring of the
// ring buffer, queue, pool, router and coordinator and the values of their
// unexported fields.
func (s *Session) Diagnostics(w io.Writer) {
	memviz.Map(w, s)
}
