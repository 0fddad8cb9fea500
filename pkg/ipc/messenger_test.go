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
	"bytes"
	"testing"
	"time"
)

// loopback returns a messenger whose outbound and inbound ring are the same.
func loopback(t *testing.T, size int) *Messenger {
	t.Helper()
	r, err := NewRing(make([]byte, size))
	if err != nil {
		t.Fatal(err)
	}
	return NewMessenger(r, r, nil)
}

//
func TestSendRecvRoundTrip(t *testing.T) {

	m := loopback(t, 4096)

	payload := []byte("sector data goes here")
	seq, err := m.Send(8, 0x0001, payload)
	if err != nil {
		t.Fatal(err)
	}

	// a request frame awaited by its own sequence comes back byte for byte
	rsp, err := m.Recv(seq, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rsp.Payload, payload) {
		t.Errorf("payload mismatch: got %q, want %q", rsp.Payload, payload)
	}
}

//
func TestSendAssignsIncreasingSequences(t *testing.T) {

	m := loopback(t, 4096)

	var last uint32
	for i := 0; i < 10; i++ {
		seq, err := m.Send(0, 0x0003, nil)
		if err != nil {
			t.Fatal(err)
		}
		if seq <= last {
			t.Fatalf("sequence did not increase: %d after %d", seq, last)
		}
		last = seq
		m.Next() // drain
	}
}

//
func TestSendPayloadTooLarge(t *testing.T) {

	m := loopback(t, 4096)
	if _, err := m.Send(0, 1, make([]byte, MaxPayload+1)); err != ErrPayloadTooLarge {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

//
func TestSendRingFull(t *testing.T) {

	m := loopback(t, 128)

	if _, err := m.Send(0, 1, make([]byte, 80)); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Send(0, 1, make([]byte, 80)); err != ErrRingFull {
		t.Errorf("expected ErrRingFull, got %v", err)
	}

	// the failed send must not have emitted a partial frame
	f := m.Next()
	if f == nil || len(f.Payload) != 80 {
		t.Fatal("first frame corrupted by failed send")
	}
	if f = m.Next(); f != nil {
		t.Errorf("unexpected extra frame: %+v", f.Header)
	}
}

//
func TestRecvSkipsUnrelatedFrames(t *testing.T) {

	m := loopback(t, 8192)

	var strays []*Frame
	m.OnStray = func(f *Frame) { strays = append(strays, f) }

	s1, _ := m.Send(8, 0x0001, []byte("first"))
	s2, _ := m.Send(8, 0x0002, []byte("second"))
	s3, _ := m.Send(8, 0x0003, []byte("third"))

	rsp, err := m.Recv(s3, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rsp.Payload, []byte("third")) {
		t.Errorf("got %q, want %q", rsp.Payload, "third")
	}

	if len(strays) != 2 {
		t.Fatalf("expected 2 stray frames, got %d", len(strays))
	}
	if strays[0].Header.Sequence != s1 || strays[1].Header.Sequence != s2 {
		t.Errorf("stray sequences %d, %d; want %d, %d",
			strays[0].Header.Sequence, strays[1].Header.Sequence, s1, s2)
	}
}

//
func TestRecvResynchronizesOnBadMagic(t *testing.T) {

	r, err := NewRing(make([]byte, 4096))
	if err != nil {
		t.Fatal(err)
	}
	m := NewMessenger(r, r, nil)

	// garbage ahead of a valid frame
	garbage := []byte{0xde, 0xad, 0xbe, 0xef, 0x00, 0x11, 0x22}
	if err := r.Write(garbage); err != nil {
		t.Fatal(err)
	}

	seq, err := m.Send(8, 0x0001, []byte("valid"))
	if err != nil {
		t.Fatal(err)
	}

	before := r.Used()
	rsp, err := m.Recv(seq, time.Second)
	if err != nil {
		t.Fatalf("recv did not recover from bad magic: %v", err)
	}
	if !bytes.Equal(rsp.Payload, []byte("valid")) {
		t.Errorf("got %q, want %q", rsp.Payload, "valid")
	}
	if r.Used() >= before {
		t.Error("recv made no progress through garbage")
	}
}

//
func TestRecvTimeout(t *testing.T) {

	m := loopback(t, 4096)

	start := time.Now()
	_, err := m.Recv(42, 20*time.Millisecond)
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("recv returned before the deadline")
	}
}

//
func TestRecvTimeoutUnderTraffic(t *testing.T) {

	r, err := NewRing(make([]byte, 4096))
	if err != nil {
		t.Fatal(err)
	}
	producer := NewMessenger(r, r, nil)
	consumer := NewMessenger(r, r, nil)
	consumer.OnStray = func(*Frame) {}

	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				producer.Send(8, 1, []byte("noise")) // full ring is fine
			}
		}
	}()

	// a steady stream of unrelated frames must not hold Recv open past
	// its deadline
	start := time.Now()
	if _, err = consumer.Recv(1<<31, 50*time.Millisecond); err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("recv held open for %v", elapsed)
	}
}

//
func TestSendResponseCorrelation(t *testing.T) {

	m := loopback(t, 4096)

	if err := m.SendResponse(77, StatusSuccess, []byte("result")); err != nil {
		t.Fatal(err)
	}

	rsp, err := m.Recv(77, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if rsp.Status != StatusSuccess {
		t.Errorf("status = 0x%04x, want success", rsp.Status)
	}
	if !bytes.Equal(rsp.Payload, []byte("result")) {
		t.Errorf("payload = %q, want %q", rsp.Payload, "result")
	}

	if err := m.SendResponse(78, StatusInvalidCmd, nil); err != nil {
		t.Fatal(err)
	}
	if rsp, err = m.Recv(78, time.Second); err != nil {
		t.Fatal(err)
	}
	if rsp.Status != StatusInvalidCmd {
		t.Errorf("status = 0x%04x, want invalid command", rsp.Status)
	}
}

//
func TestNextDrainsInOrder(t *testing.T) {

	m := loopback(t, 8192)

	var seqs []uint32
	for i := 0; i < 5; i++ {
		seq, err := m.Send(8, uint16(i), []byte{byte(i)})
		if err != nil {
			t.Fatal(err)
		}
		seqs = append(seqs, seq)
	}

	for i := 0; i < 5; i++ {
		f := m.Next()
		if f == nil {
			t.Fatalf("frame %d missing", i)
		}
		if f.Header.Sequence != seqs[i] {
			t.Errorf("frame %d out of order: seq %d, want %d",
				i, f.Header.Sequence, seqs[i])
		}
		if f.Header.Command != uint16(i) {
			t.Errorf("frame %d command %d, want %d", i, f.Header.Command, i)
		}
	}

	if f := m.Next(); f != nil {
		t.Errorf("unexpected trailing frame: %+v", f.Header)
	}
}

//
func TestNextOnPartialFrame(t *testing.T) {

	r, err := NewRing(make([]byte, 4096))
	if err != nil {
		t.Fatal(err)
	}
	m := NewMessenger(r, r, nil)

	// header promising more payload than is in the ring
	hdr := Header{Dispatcher: 8, Command: 1, Sequence: 9, Length: 100}
	buf := make([]byte, HeaderSize)
	hdr.encode(buf)
	if err := r.Write(buf); err != nil {
		t.Fatal(err)
	}

	if f := m.Next(); f != nil {
		t.Fatal("Next returned an incomplete frame")
	}

	// completing the payload makes the frame available
	if err := r.Write(make([]byte, 100)); err != nil {
		t.Fatal(err)
	}
	f := m.Next()
	if f == nil || len(f.Payload) != 100 {
		t.Fatal("completed frame not delivered")
	}
}

//
func TestTransactTimeoutDoesNotRetry(t *testing.T) {

	r1, _ := NewRing(make([]byte, 4096))
	r2, _ := NewRing(make([]byte, 4096))
	m := NewMessenger(r1, r2, nil) // peer never answers on r2

	if _, err := m.Transact(8, 1, []byte("req"), 20*time.Millisecond); err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// exactly one request frame was emitted
	peer := NewMessenger(r2, r1, nil)
	if f := peer.Next(); f == nil {
		t.Fatal("request frame missing")
	}
	if f := peer.Next(); f != nil {
		t.Error("transact retried after timeout")
	}
}
