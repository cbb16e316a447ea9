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

package wavwriter_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/p2tools/coglink/stream"
	"github.com/p2tools/coglink/test"
	"github.com/p2tools/coglink/wavwriter"
)

func frame(sourceID byte, fill byte) *stream.ExtractedMessage {
	payload := make([]byte, stream.ScopeFrameLength)
	payload[0] = sourceID
	payload[1] = 0x01
	for i := 2; i < len(payload); i++ {
		payload[i] = fill
	}
	return &stream.ExtractedMessage{
		Kind:     stream.KindTelemetryFrame,
		Payload:  payload,
		SourceID: int(sourceID),
	}
}

func TestRecordAndExport(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "trace.wav")

	ww, err := wavwriter.New(filename, 2, 0)
	test.ExpectedSuccess(t, err)

	// only the frames from source two should be recorded
	test.ExpectedSuccess(t, ww.Record(frame(2, 0x40)))
	test.ExpectedSuccess(t, ww.Record(frame(3, 0x7f)))
	test.ExpectedSuccess(t, ww.Record(frame(2, 0x41)))

	// non-telemetry messages are ignored without error
	test.ExpectedSuccess(t, ww.Record(&stream.ExtractedMessage{
		Kind:    stream.KindTextLine,
		Payload: []byte("not a trace"),
	}))

	test.ExpectedSuccess(t, ww.End())

	f, err := os.Open(filename)
	test.ExpectedSuccess(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	test.ExpectedSuccess(t, err)

	test.Equate(t, len(buf.Data), 2*(stream.ScopeFrameLength-2))
	test.Equate(t, buf.Format.SampleRate, wavwriter.DefaultSampleFreq)
	test.Equate(t, buf.Format.NumChannels, 1)
}
