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
)

//
func TestNewRingRejectsBadSizes(t *testing.T) {

	for _, size := range []int{0, 1, 32, 63, 65, 100, 1000} {
		if _, err := NewRing(make([]byte, size)); err == nil {
			t.Errorf("size %d: expected error, got none", size)
		}
	}

	for _, size := range []int{64, 128, 256, 1024, 65536} {
		if _, err := NewRing(make([]byte, size)); err != nil {
			t.Errorf("size %d: unexpected error: %v", size, err)
		}
	}
}

//
func TestRingSpaceUsedInvariant(t *testing.T) {

	for _, size := range []uint32{64, 128, 512, 4096} {

		r, err := NewRing(make([]byte, size))
		if err != nil {
			t.Fatal(err)
		}

		check := func() {
			if r.Used()+r.Space() != size-1 {
				t.Fatalf("size %d: used %d + space %d != %d",
					size, r.Used(), r.Space(), size-1)
			}
		}

		check()

		chunk := make([]byte, 7)
		out := make([]byte, 7)

		// drive the indices around the ring several times
		for i := 0; i < int(size); i++ {
			if err := r.Write(chunk); err != nil {
				t.Fatal(err)
			}
			check()
			if n := r.Read(out); n != len(chunk) {
				t.Fatalf("read %d, want %d", n, len(chunk))
			}
			check()
		}
	}
}

//
func TestRingRoundTripAcrossWrap(t *testing.T) {

	r, err := NewRing(make([]byte, 64))
	if err != nil {
		t.Fatal(err)
	}

	// move the indices close to the end so the next write wraps
	pad := make([]byte, 60)
	if err := r.Write(pad); err != nil {
		t.Fatal(err)
	}
	r.Read(make([]byte, 60))

	data := []byte("wrap-around payload")
	if err := r.Write(data); err != nil {
		t.Fatal(err)
	}

	got := make([]byte, len(data))
	if n := r.Read(got); n != len(data) {
		t.Fatalf("read %d bytes, want %d", n, len(data))
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip mismatch: got %q, want %q", got, data)
	}
}

//
func TestRingWriteInsufficientSpace(t *testing.T) {

	r, err := NewRing(make([]byte, 64))
	if err != nil {
		t.Fatal(err)
	}

	// capacity is size-1
	if err := r.Write(make([]byte, 64)); err != ErrInsufficientSpace {
		t.Errorf("expected ErrInsufficientSpace, got %v", err)
	}

	if err := r.Write(make([]byte, 63)); err != nil {
		t.Fatalf("full write failed: %v", err)
	}
	if err := r.Write([]byte{1}); err != ErrInsufficientSpace {
		t.Errorf("expected ErrInsufficientSpace on full ring, got %v", err)
	}

	// a failed write must not have consumed any space
	if r.Used() != 63 {
		t.Errorf("used = %d after failed write, want 63", r.Used())
	}
}

//
func TestRingPeekDoesNotConsume(t *testing.T) {

	r, _ := NewRing(make([]byte, 128))
	data := []byte{1, 2, 3, 4, 5}
	if err := r.Write(data); err != nil {
		t.Fatal(err)
	}

	p := make([]byte, 5)
	for i := 0; i < 3; i++ {
		if n := r.Peek(p); n != 5 || !bytes.Equal(p, data) {
			t.Fatalf("peek %d: got %v (%d bytes)", i, p, n)
		}
	}
	if r.Used() != 5 {
		t.Errorf("peek consumed bytes: used = %d", r.Used())
	}
}

//
func TestRingSkip(t *testing.T) {

	r, _ := NewRing(make([]byte, 128))
	r.Write([]byte{1, 2, 3, 4, 5})

	if err := r.Skip(2); err != nil {
		t.Fatal(err)
	}

	p := make([]byte, 3)
	r.Read(p)
	if !bytes.Equal(p, []byte{3, 4, 5}) {
		t.Errorf("after skip got %v, want [3 4 5]", p)
	}

	if err := r.Skip(1); err == nil {
		t.Error("expected error skipping in empty ring")
	}
}

//
func TestRingRegisterMirror(t *testing.T) {

	var headReg, tailReg uint32

	r, _ := NewRing(make([]byte, 64))
	r.Bind(&IndexRegisters{
		StoreHead: func(v uint32) { headReg = v },
		StoreTail: func(v uint32) { tailReg = v },
	})

	r.Write(make([]byte, 10))
	if headReg != 10 {
		t.Errorf("head register not published: %d", headReg)
	}

	r.Read(make([]byte, 4))
	if tailReg != 4 {
		t.Errorf("tail register not published: %d", tailReg)
	}

	// consumer side: head owned by the peer, picked up before computing used
	peerHead := uint32(20)
	c, _ := NewRing(r.buf)
	c.Bind(&IndexRegisters{
		LoadHead: func() uint32 { return peerHead },
	})
	if c.Used() != 20 {
		t.Errorf("used = %d, want 20 from mirrored head", c.Used())
	}

	peerHead = 30
	if c.Used() != 30 {
		t.Errorf("used = %d, want 30 after head register moved", c.Used())
	}
}
