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

// Package wavwriter exports telemetry sample data to disk as a WAV file,
// allowing captured scope traces to be inspected with ordinary audio tools.
// Note that sample data is buffered in memory in its entirity, and written
// to disk on End(). It is therefore probably only suitable for short
// captures.
package wavwriter

import (
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/p2tools/coglink/curated"
	"github.com/p2tools/coglink/logger"
	"github.com/p2tools/coglink/stream"
)

// AnySource can be used in place of a specific source identifier.
const AnySource = -1

// default sample rate for exported traces.
const DefaultSampleFreq = 44100

// WavWriter records the sample bytes of telemetry frames from a single
// emitter. Record() satisfies the router's destination handler signature;
// register it for the telemetry frame kind.
type WavWriter struct {
	filename   string
	sourceID   int
	sampleFreq int
	buffer     []int
}

// New is the preferred method of initialisation for the WavWriter type.
// Frames from emitters other than sourceID are ignored; use AnySource to
// record everything.
func New(filename string, sourceID int, sampleFreq int) (*WavWriter, error) {
	if sampleFreq <= 0 {
		sampleFreq = DefaultSampleFreq
	}

	ww := &WavWriter{
		filename:   filename,
		sourceID:   sourceID,
		sampleFreq: sampleFreq,
		buffer:     make([]int, 0),
	}

	return ww, nil
}

// Record buffers the sample bytes of a telemetry frame. The frame's source
// identifier and format bytes are not part of the trace.
func (ww *WavWriter) Record(msg *stream.ExtractedMessage) error {
	if msg.Kind != stream.KindTelemetryFrame {
		return nil
	}
	if ww.sourceID != AnySource && msg.SourceID != ww.sourceID {
		return nil
	}

	for _, b := range msg.Payload[2:] {
		ww.buffer = append(ww.buffer, int(b))
	}

	return nil
}

// End writes the buffered trace to disk.
func (ww *WavWriter) End() (rerr error) {
	f, err := os.Create(ww.filename)
	if err != nil {
		return curated.Errorf("wavwriter: %v", err)
	}
	defer func() {
		err := f.Close()
		if err != nil && rerr == nil {
			rerr = curated.Errorf("wavwriter: %v", err)
		}
	}()

	enc := wav.NewEncoder(f, ww.sampleFreq, 8, 1, 1)
	defer func() {
		err := enc.Close()
		if err != nil && rerr == nil {
			rerr = curated.Errorf("wavwriter: %v", err)
		}
	}()

	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  ww.sampleFreq,
		},
		Data:           ww.buffer,
		SourceBitDepth: 8,
	}

	if err := enc.Write(buf); err != nil {
		return curated.Errorf("wavwriter: %v", err)
	}

	logger.Logf("wavwriter", "writing %d samples to %s", len(ww.buffer), ww.filename)

	return nil
}
