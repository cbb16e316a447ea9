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

// Package curated provides the error type used throughout Coglink. A curated
// error keeps hold of the pattern it was created with, meaning errors can be
// tested for identity without string comparison of the formatted message.
//
// Creation is through the Errorf() function, which looks and feels like
// fmt.Errorf():
//
//	err := curated.Errorf("ringbuffer: append: %d bytes too many", n)
//
// Identity tests are through Is() and Has(). Is() tests the outermost error
// only while Has() walks the chain of wrapped curated errors:
//
//	if curated.Has(err, "ringbuffer: append: %d bytes too many") {
//	    ...
//	}
//
// Packages that expect their errors to be tested in this way should export
// the pattern string as a const.
package curated
