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

// Package reqresp implements the command side of the debug link: requests
// written to the device and their replies, matched by correlation id.
//
// The package does not read the link itself. Replies arrive through the
// stream extractor as control frames; register HandleReply() with the router
// for that message kind and the dialogue picks out the frames that answer
// one of its pending requests.
package reqresp

import (
	"encoding/binary"
	"io"
	"sync"
	"time"

	"github.com/p2tools/coglink/curated"
	"github.com/p2tools/coglink/logger"
	"github.com/p2tools/coglink/queue"
	"github.com/p2tools/coglink/stream"
)

// sentinel errors for the reqresp package.
const (
	NotAControlFrame = "reqresp: not a control frame: %v"
	MalformedReply   = "reqresp: malformed reply: %v"
	UnmatchedReply   = "reqresp: no pending request for correlation id %d"
)

// ReplyType distinguishes the three reply forms.
type ReplyType byte

// List of valid ReplyType values. The values are the bytes used on the wire.
const (
	ReplyACK  ReplyType = 0x06
	ReplyNAK  ReplyType = 0x15
	ReplyDATA ReplyType = 0x02
)

func (r ReplyType) String() string {
	switch r {
	case ReplyACK:
		return "ACK"
	case ReplyNAK:
		return "NAK"
	case ReplyDATA:
		return "DATA"
	}
	return "unknown"
}

// Reply is one answered request.
type Reply struct {
	Type          ReplyType
	CorrelationID uint32

	// payload of a DATA reply. empty for ACK and NAK
	Data []byte
}

// bytes on the wire for one request, excluding the frame lead and
// terminator: command, correlation id, address, length.
const requestBodyLength = 1 + 4 + 4 + 2

// the shortest valid reply payload: type and correlation id.
const replyHeaderLength = 1 + 4

// Defaults for the configurable values.
const (
	DefaultRequestTimeout = time.Second
	DefaultReplyBuffer    = 16
	MaxReplyBuffer        = 256
)

// Dialogue issues requests over a link and matches replies to them by
// correlation id. The zero value is not usable; use NewDialogue().
type Dialogue struct {
	crit sync.Mutex

	out io.Writer

	timeout time.Duration
	clock   func() time.Time

	nextID  uint32
	pending map[uint32]time.Time

	replies *queue.BoundedQueue[Reply]

	expired   uint64
	unmatched uint64
}

// NewDialogue is the preferred method of initialisation for the Dialogue
// type. Requests are written to out; replies are fed in through
// HandleReply().
func NewDialogue(out io.Writer) *Dialogue {
	return &Dialogue{
		out:     out,
		timeout: DefaultRequestTimeout,
		clock:   time.Now,
		pending: make(map[uint32]time.Time),
		replies: queue.NewBoundedQueue[Reply](DefaultReplyBuffer, MaxReplyBuffer),
	}
}

// SetTimeout sets how long a request waits for its reply before being
// expired by ExpireRequests().
func (dl *Dialogue) SetTimeout(d time.Duration) {
	dl.crit.Lock()
	defer dl.crit.Unlock()
	dl.timeout = d
}

// SetClock replaces the time source. For testing.
func (dl *Dialogue) SetClock(clock func() time.Time) {
	dl.crit.Lock()
	defer dl.crit.Unlock()
	dl.clock = clock
}

// Request writes a command frame to the link and returns the correlation id
// its reply will carry.
func (dl *Dialogue) Request(cmd byte, addr uint32, n uint16) (uint32, error) {
	dl.crit.Lock()
	dl.nextID++
	id := dl.nextID
	deadline := dl.clock().Add(dl.timeout)
	dl.crit.Unlock()

	frame := make([]byte, 0, requestBodyLength+2)
	frame = append(frame, 0xfe)
	frame = append(frame, cmd)
	frame = binary.BigEndian.AppendUint32(frame, id)
	frame = binary.BigEndian.AppendUint32(frame, addr)
	frame = binary.BigEndian.AppendUint16(frame, n)
	frame = append(frame, 0xff)

	if _, err := dl.out.Write(frame); err != nil {
		return 0, curated.Errorf("reqresp: %v", err)
	}

	dl.crit.Lock()
	dl.pending[id] = deadline
	dl.crit.Unlock()

	return id, nil
}

// HandleReply matches a control frame against the pending request table.
// Register it with the router for the control frame kind. Frames that do
// not answer a pending request are an error but are otherwise harmless; the
// control channel may carry traffic for other consumers.
func (dl *Dialogue) HandleReply(msg *stream.ExtractedMessage) error {
	if msg.Kind != stream.KindControlFrame {
		return curated.Errorf(NotAControlFrame, msg.Kind)
	}
	if len(msg.Payload) < replyHeaderLength {
		return curated.Errorf(MalformedReply, "too short")
	}

	typ := ReplyType(msg.Payload[0])
	switch typ {
	case ReplyACK, ReplyNAK, ReplyDATA:
	default:
		return curated.Errorf(MalformedReply, "unknown reply type")
	}

	id := binary.BigEndian.Uint32(msg.Payload[1:5])

	dl.crit.Lock()
	_, ok := dl.pending[id]
	if !ok {
		dl.unmatched++
		dl.crit.Unlock()
		return curated.Errorf(UnmatchedReply, id)
	}
	delete(dl.pending, id)
	dl.crit.Unlock()

	reply := Reply{Type: typ, CorrelationID: id}
	if typ == ReplyDATA {
		reply.Data = append([]byte{}, msg.Payload[replyHeaderLength:]...)
	}

	if !dl.replies.Enqueue(reply) {
		return curated.Errorf("reqresp: %v", "reply buffer full")
	}
	return nil
}

// NextReply returns the oldest buffered reply. The second return value is
// false if no reply is waiting.
func (dl *Dialogue) NextReply() (Reply, bool) {
	return dl.replies.Dequeue()
}

// ExpireRequests removes pending requests whose deadline has passed,
// returning the number removed. Call it periodically; an expired request
// simply never produces a reply.
func (dl *Dialogue) ExpireRequests(now time.Time) int {
	dl.crit.Lock()
	defer dl.crit.Unlock()

	n := 0
	for id, deadline := range dl.pending {
		if now.Before(deadline) {
			continue
		}
		delete(dl.pending, id)
		dl.expired++
		n++
		logger.Logf("reqresp", "request %d expired", id)
	}
	return n
}

// Pending returns the number of requests still awaiting a reply.
func (dl *Dialogue) Pending() int {
	dl.crit.Lock()
	defer dl.crit.Unlock()
	return len(dl.pending)
}

// Expired returns the total number of requests removed by
// ExpireRequests().
func (dl *Dialogue) Expired() uint64 {
	dl.crit.Lock()
	defer dl.crit.Unlock()
	return dl.expired
}
