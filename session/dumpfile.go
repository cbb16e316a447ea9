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
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/p2tools/coglink/curated"
	"github.com/p2tools/coglink/logger"
	"github.com/p2tools/coglink/resync"
)

// sentinel errors for the dump file.
const (
	DumpFileError = "dumpfile: %v"
)

// DumpFile is an io.Writer for the diagnostic hexdump log that starts a new
// file on every rotateLog event, so that each file holds the traffic of
// exactly one reset-to-reset segment.
type DumpFile struct {
	crit sync.Mutex

	dir     string
	segment uint64
	file    *os.File
}

// NewDumpFile is the preferred method of initialisation for the DumpFile
// type. The returned DumpFile listens for rotation events on the
// coordinator. Segment zero collects traffic seen before the first reset.
func NewDumpFile(dir string, coord *resync.Coordinator) (*DumpFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, curated.Errorf(DumpFileError, err)
	}

	df := &DumpFile{dir: dir}
	if err := df.open(0); err != nil {
		return nil, err
	}

	coord.On(resync.EventRotateLog, func(ev resync.Event) {
		df.rotate(ev.Marker.Sequence)
	})

	return df, nil
}

func (df *DumpFile) path(segment uint64) string {
	return filepath.Join(df.dir, fmt.Sprintf("segment_%04d.dump", segment))
}

func (df *DumpFile) open(segment uint64) error {
	f, err := os.Create(df.path(segment))
	if err != nil {
		return curated.Errorf(DumpFileError, err)
	}
	df.segment = segment
	df.file = f
	return nil
}

func (df *DumpFile) rotate(segment uint64) {
	df.crit.Lock()
	defer df.crit.Unlock()

	if df.file != nil {
		df.file.Close()
		df.file = nil
	}
	if err := df.open(segment); err != nil {
		logger.Logf("dumpfile", "rotation failed: %v", err)
		return
	}
	logger.Logf("dumpfile", "rotated to segment %d", segment)
}

// Write implements the io.Writer interface.
func (df *DumpFile) Write(b []byte) (int, error) {
	df.crit.Lock()
	defer df.crit.Unlock()

	if df.file == nil {
		return 0, curated.Errorf(DumpFileError, "no open segment")
	}
	return df.file.Write(b)
}

// Close the current segment file.
func (df *DumpFile) Close() error {
	df.crit.Lock()
	defer df.crit.Unlock()

	if df.file == nil {
		return nil
	}
	err := df.file.Close()
	df.file = nil
	if err != nil {
		return curated.Errorf(DumpFileError, err)
	}
	return nil
}
