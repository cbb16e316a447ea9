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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/p2tools/coglink/link"
	"github.com/p2tools/coglink/logger"
	"github.com/p2tools/coglink/modalflag"
	"github.com/p2tools/coglink/reqresp"
	"github.com/p2tools/coglink/resync"
	"github.com/p2tools/coglink/router"
	"github.com/p2tools/coglink/session"
	"github.com/p2tools/coglink/statsview"
	"github.com/p2tools/coglink/stream"
	"github.com/p2tools/coglink/version"
	"github.com/p2tools/coglink/wavwriter"
)

func main() {
	md := &modalflag.Modes{Output: os.Stdout}
	md.NewArgs(os.Args[1:])
	md.NewMode()
	md.AddSubModes("RUN", "DUMP", "VERSION")

	p, err := md.Parse()
	switch p {
	case modalflag.ParseHelp:
		os.Exit(0)

	case modalflag.ParseError:
		fmt.Printf("* error: %v\n", err)
		os.Exit(10)
	}

	switch md.Mode() {
	case "RUN":
		err = run(md)

	case "DUMP":
		err = dump(md)

	case "VERSION":
		err = showVersion(md)
	}

	if err != nil {
		fmt.Printf("* error in %s mode: %s\n", md.String(), err)
		os.Exit(20)
	}
}

func run(md *modalflag.Modes) error {
	md.NewMode()

	baud := md.AddInt("baud", link.DefaultBaud, "baud rate for the serial device")
	dumpDir := md.AddString("dump", "", "directory for rotating hexdump log files")
	wav := md.AddString("wav", "", "record one emitter's telemetry samples to wav file")
	wavSource := md.AddInt("wavsource", 0, "emitter to record with the wav argument")
	log := md.AddBool("log", false, "echo debugging log to stdout")
	stats := md.AddBool("stats", false, "launch statistics server (statsview build tag required)")
	viz := md.AddString("viz", "", "write session object graph (graphviz dot) to file on exit")

	p, err := md.Parse()
	if err != nil || p != modalflag.ParseContinue {
		return err
	}

	// set debugging log echo
	if *log {
		logger.SetEcho(os.Stdout)
	} else {
		logger.SetEcho(nil)
	}

	if *stats {
		if statsview.Available() {
			statsview.Launch(os.Stdout)
		} else {
			fmt.Println("! statistics server not available in this build")
		}
	}

	if len(md.RemainingArgs()) != 1 {
		return fmt.Errorf("serial device required for %s mode", md)
	}

	lk, err := link.NewSerial(md.GetArg(0), *baud)
	if err != nil {
		return err
	}

	s, err := session.NewSession(session.Spec{})
	if err != nil {
		return err
	}

	// text output from the device goes straight to the user
	s.Router().RegisterDestination(stream.KindTextLine, router.Destination{
		Name: "stdout",
		Handle: func(msg *stream.ExtractedMessage) error {
			fmt.Println(string(msg.Payload))
			return nil
		},
	})
	s.Router().RegisterDestination(stream.KindSystemInit, router.Destination{
		Name: "stdout",
		Handle: func(msg *stream.ExtractedMessage) error {
			fmt.Printf("! system init: %s\n", string(msg.Payload))
			return nil
		},
	})

	// control frames may answer an outstanding request
	dl := reqresp.NewDialogue(lk)
	s.Router().RegisterDestination(stream.KindControlFrame, router.Destination{
		Name:   "dialogue",
		Handle: dl.HandleReply,
	})

	if *wav != "" {
		ww, err := wavwriter.New(*wav, *wavSource, 0)
		if err != nil {
			return err
		}
		s.Router().RegisterDestination(stream.KindTelemetryFrame, router.Destination{
			Name:   "wavwriter",
			Handle: ww.Record,
		})
		defer func() {
			if err := ww.End(); err != nil {
				fmt.Printf("! %v\n", err)
			}
		}()
	}

	if *dumpDir != "" {
		df, err := session.NewDumpFile(*dumpDir, s.Coordinator())
		if err != nil {
			return err
		}
		defer df.Close()
		s.SetDumpWriter(df)
	}

	s.Coordinator().On(resync.EventResetDetected, func(ev resync.Event) {
		fmt.Printf("! reset detected (%s, boundary %d)\n", ev.Marker.Signal, ev.Marker.Sequence)
	})
	s.Coordinator().On(resync.EventCommunicationLost, func(ev resync.Event) {
		fmt.Println("! communication lost")
	})

	// ctrl-c stops the run loop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	intChan := make(chan os.Signal, 1)
	signal.Notify(intChan, os.Interrupt)
	go func() {
		<-intChan
		fmt.Println("\r")
		cancel()
	}()

	err = s.Run(ctx, lk)

	if *viz != "" {
		f, ferr := os.Create(*viz)
		if ferr != nil {
			fmt.Printf("! %v\n", ferr)
		} else {
			s.Diagnostics(f)
			f.Close()
		}
	}

	if err == context.Canceled {
		return nil
	}
	return err
}

// dump replays a captured byte stream through the framing core, printing
// the extracted messages and the hexdump rendering of every chunk. Useful
// for inspecting a recording without the device attached.
func dump(md *modalflag.Modes) error {
	md.NewMode()

	chunk := md.AddInt("chunk", 512, "chunk size for replaying the capture")

	p, err := md.Parse()
	if err != nil || p != modalflag.ParseContinue {
		return err
	}

	if *chunk <= 0 {
		*chunk = 512
	}

	if len(md.RemainingArgs()) != 1 {
		return fmt.Errorf("capture file required for %s mode", md)
	}

	capture, err := os.ReadFile(md.GetArg(0))
	if err != nil {
		return err
	}

	s, err := session.NewSession(session.Spec{})
	if err != nil {
		return err
	}
	s.SetDumpWriter(os.Stdout)

	for _, kind := range []stream.MessageKind{
		stream.KindTextLine,
		stream.KindSystemInit,
		stream.KindTelemetryFrame,
		stream.KindControlFrame,
		stream.KindWindowCommand,
	} {
		s.Router().RegisterDestination(kind, router.Destination{
			Name: "summary",
			Handle: func(msg *stream.ExtractedMessage) error {
				fmt.Printf("%s: %d bytes\n", msg.Kind, len(msg.Payload))
				return nil
			},
		})
	}

	for i := 0; i < len(capture); i += *chunk {
		end := i + *chunk
		if end > len(capture) {
			end = len(capture)
		}
		s.ReceiveBytes(capture[i:end])
		s.Service()
	}

	st := s.CopyStatistics()
	fmt.Printf("%d bytes, %s\n", len(capture), st.Router)

	return nil
}

func showVersion(md *modalflag.Modes) error {
	md.NewMode()

	revision := md.AddBool("v", false, "display revision information")

	p, err := md.Parse()
	if err != nil || p != modalflag.ParseContinue {
		return err
	}

	ver, rev, _ := version.Version()
	fmt.Printf("%s (%s)\n", version.ApplicationName, ver)
	if *revision {
		fmt.Println(rev)
	}

	return nil
}
