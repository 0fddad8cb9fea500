/*
   SparcPC - SunPCi co-processor card bridge
   Copyright (c) 2022, Alexander Vollschwitz

   This file is part of SparcPC.

   SparcPC is free software: you can redistribute it and/or modify
   it under the terms of the GNU General Public License as published by
   the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   SparcPC is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
   GNU General Public License for more details.

   You should have received a copy of the GNU General Public License
   along with SparcPC. If not, see <http://www.gnu.org/licenses/>.
*/

package ipc

import (
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
)

//
var ErrRingFull = fmt.Errorf("ring full")
var ErrTimeout = fmt.Errorf("timed out waiting for response")

// poll interval while waiting for a response to become available
const recvPollInterval = 100 * time.Microsecond

/*
	NewMessenger creates a message framer over an outbound and an inbound
	ring. The two rings may be the same instance, which gives a loopback
	messenger, handy for tests and for the emulated substrate's self checks.

	bell is invoked after every successfully enqueued outbound frame to
	raise the peer's doorbell; it may be nil.
*/
func NewMessenger(out, in *Ring, bell func()) *Messenger {
	return &Messenger{out: out, in: in, bell: bell}
}

//
type Messenger struct {
	out  *Ring
	in   *Ring
	bell func()
	seq  uint32

	// OnStray is handed any complete frame that Recv consumed while it was
	// waiting for a specific sequence number. This is how guest-originated
	// requests that arrive interleaved with an awaited response survive a
	// synchronous wait: they are deferred to the owner's drain pass rather
	// than dropped.
	OnStray func(*Frame)
}

//
func (m *Messenger) nextSeq() uint32 {
	return atomic.AddUint32(&m.seq, 1)
}

/*
	Send frames payload and enqueues it on the outbound ring, returning the
	sequence number assigned to the frame. The whole frame is checked
	against the ring's free space before any byte is written, so a full
	ring never leaves a partial frame behind.
*/
func (m *Messenger) Send(dispatcher, command uint16, payload []byte) (uint32, error) {

	if len(payload) > MaxPayload {
		return 0, ErrPayloadTooLarge
	}

	hdr := Header{
		Dispatcher: dispatcher,
		Command:    command,
		Sequence:   m.nextSeq(),
		Length:     uint32(len(payload)),
	}

	if err := m.enqueue(func(p []byte) { hdr.encode(p) }, payload); err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"dispatcher": dispatcher,
		"command":    fmt.Sprintf("0x%04x", command),
		"seq":        hdr.Sequence,
		"len":        hdr.Length}).Trace("frame sent")

	return hdr.Sequence, nil
}

// SendResponse frames a response to a previously received request, echoing
// its sequence number.
func (m *Messenger) SendResponse(seq uint32, status uint16, payload []byte) error {

	if len(payload) > MaxPayload {
		return ErrPayloadTooLarge
	}

	hdr := responseHeader{
		Status:   status,
		Sequence: seq,
		Length:   uint32(len(payload)),
	}

	return m.enqueue(func(p []byte) { hdr.encode(p) }, payload)
}

//
func (m *Messenger) enqueue(encode func([]byte), payload []byte) error {

	total := HeaderSize + len(payload)
	if m.out.Space() < uint32(total) {
		return ErrRingFull
	}

	frame := make([]byte, total)
	encode(frame[:HeaderSize])
	copy(frame[HeaderSize:], payload)

	if err := m.out.Write(frame); err != nil {
		return ErrRingFull
	}

	if m.bell != nil {
		m.bell()
	}
	return nil
}

/*
	Recv waits for the response with the given sequence number on the
	inbound ring, up to timeout. Frames with a broken magic are recovered
	from by discarding a single byte and retrying; complete frames with a
	different sequence number are consumed and passed to OnStray. Recv does
	not retry after a timeout, that policy belongs to the caller.
*/
func (m *Messenger) Recv(seq uint32, timeout time.Duration) (*Response, error) {

	deadline := time.Now().Add(timeout)

	for {
		rsp, progress, err := m.poll(seq)
		if err != nil {
			return nil, err
		}
		if rsp != nil {
			return rsp, nil
		}

		// a steady stream of unrelated frames must not stall the caller
		// past its deadline either
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		if !progress {
			time.Sleep(recvPollInterval)
		}
	}
}

// poll makes one attempt at extracting the response for seq. It reports
// whether it consumed anything from the ring, so the caller only backs off
// when the ring is truly idle.
func (m *Messenger) poll(seq uint32) (*Response, bool, error) {

	var hdrBuf [HeaderSize]byte

	if m.in.Used() < HeaderSize {
		return nil, false, nil
	}
	if m.in.Peek(hdrBuf[:]) < HeaderSize {
		return nil, false, nil
	}

	hdr, ok := decodeHeader(hdrBuf[:])
	if !ok {
		// out of sync; discard one byte and try again from the next
		log.Warnf("bad frame magic 0x%08x, resynchronizing",
			uint32(hdrBuf[3])<<24|uint32(hdrBuf[2])<<16|
				uint32(hdrBuf[1])<<8|uint32(hdrBuf[0]))
		m.in.Skip(1)
		return nil, true, nil
	}

	if hdr.Length > MaxPayload {
		log.Errorf("frame payload length %d exceeds maximum, resynchronizing",
			hdr.Length)
		m.in.Skip(1)
		return nil, true, nil
	}

	// wait for the full frame before touching it
	if m.in.Used() < HeaderSize+hdr.Length {
		return nil, false, nil
	}

	frame, err := m.consume(hdr)
	if err != nil {
		return nil, false, err
	}

	if hdr.Sequence != seq {
		if m.OnStray != nil {
			m.OnStray(frame)
		} else {
			log.WithFields(log.Fields{
				"seq":  hdr.Sequence,
				"want": seq}).Debug("skipping unrelated frame")
		}
		return nil, true, nil
	}

	// bytes 4-5 of a response frame hold the status code
	status := uint16(hdrBuf[4]) | uint16(hdrBuf[5])<<8
	return &Response{Status: status, Payload: frame.Payload}, true, nil
}

/*
	Next drains the next complete inbound frame, if any. It never blocks:
	when the ring holds no complete frame, it returns nil. Like Recv, it
	recovers from a corrupted stream one byte at a time.
*/
func (m *Messenger) Next() *Frame {

	var hdrBuf [HeaderSize]byte

	for {
		if m.in.Used() < HeaderSize {
			return nil
		}
		if m.in.Peek(hdrBuf[:]) < HeaderSize {
			return nil
		}

		hdr, ok := decodeHeader(hdrBuf[:])
		if !ok || hdr.Length > MaxPayload {
			m.in.Skip(1)
			continue
		}

		if m.in.Used() < HeaderSize+hdr.Length {
			return nil
		}

		frame, err := m.consume(hdr)
		if err != nil {
			log.Errorf("dropping inbound frame: %v", err)
			return nil
		}
		return frame
	}
}

// consume removes a fully available frame from the inbound ring.
func (m *Messenger) consume(hdr Header) (*Frame, error) {

	if err := m.in.Skip(HeaderSize); err != nil {
		return nil, err
	}

	payload := make([]byte, hdr.Length)
	if n := m.in.Read(payload); n != int(hdr.Length) {
		return nil, fmt.Errorf(
			"short frame payload: want %d, got %d", hdr.Length, n)
	}

	return &Frame{Header: hdr, Payload: payload}, nil
}

/*
	Transact sends a request and waits for the matching response, bounded
	by timeout. There is no automatic retry: reads are safe for the caller
	to resend, writes are not, so the choice stays with the caller.
*/
func (m *Messenger) Transact(dispatcher, command uint16, payload []byte,
	timeout time.Duration) (*Response, error) {

	seq, err := m.Send(dispatcher, command, payload)
	if err != nil {
		return nil, err
	}

	return m.Recv(seq, timeout)
}
