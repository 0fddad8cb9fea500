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
	"sync"
)

//
const MinRingSize = 64

//
var ErrInsufficientSpace = fmt.Errorf("insufficient ring space")

/*
	IndexRegisters couples a ring to the pair of hardware-visible registers
	mirroring its head and tail. On a shared ring, each side owns exactly one
	index: the owner publishes through the store function, the peer's index
	is picked up through the load function. Only the functions for the role
	the host has on a given ring are set, the others stay nil.
*/
type IndexRegisters struct {
	LoadHead  func() uint32
	StoreHead func(uint32)
	LoadTail  func() uint32
	StoreTail func(uint32)
}

/*
	NewRing creates a ring buffer over the given backing slice, which is
	typically a window into the card's shared memory region, but can be any
	local buffer. The backing length must be a power of two, at least
	MinRingSize. One slot is always kept empty, so a ring of size N holds at
	most N-1 bytes.
*/
func NewRing(backing []byte) (*Ring, error) {

	size := uint32(len(backing))
	if size < MinRingSize || size&(size-1) != 0 {
		return nil, fmt.Errorf(
			"ring size must be a power of two >= %d, got %d",
			MinRingSize, size)
	}

	return &Ring{buf: backing, size: size}, nil
}

//
type Ring struct {
	lock sync.Mutex
	//
	buf  []byte
	size uint32
	head uint32
	tail uint32
	//
	regs *IndexRegisters
}

// Bind attaches the hardware-visible index registers to this ring. Until
// bound, the ring operates purely on its local indices.
func (r *Ring) Bind(regs *IndexRegisters) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.regs = regs
}

//
func (r *Ring) Size() uint32 {
	return r.size
}

//
func (r *Ring) Reset() {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.head = 0
	r.tail = 0
	r.publishHead()
	r.publishTail()
}

// Space returns the number of bytes that can currently be written.
func (r *Ring) Space() uint32 {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.refreshTail()
	return r.space()
}

// Used returns the number of bytes available for reading.
func (r *Ring) Used() uint32 {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.refreshHead()
	return r.used()
}

/*
	Write copies data into the ring. It fails with ErrInsufficientSpace when
	data does not fit in one piece; the ring is left untouched in that case,
	so callers can safely check a whole frame against Space before emitting
	any part of it.
*/
func (r *Ring) Write(data []byte) error {

	r.lock.Lock()
	defer r.lock.Unlock()

	r.refreshTail()

	l := uint32(len(data))
	if l > r.space() {
		return ErrInsufficientSpace
	}

	if r.head+l <= r.size {
		copy(r.buf[r.head:], data)
	} else {
		chunk := r.size - r.head
		copy(r.buf[r.head:], data[:chunk])
		copy(r.buf, data[chunk:])
	}

	r.head = (r.head + l) % r.size
	r.publishHead()
	return nil
}

// Read consumes up to len(p) bytes from the ring, returning the number of
// bytes actually copied.
func (r *Ring) Read(p []byte) int {

	r.lock.Lock()
	defer r.lock.Unlock()

	r.refreshHead()
	n := r.copyOut(p)
	if n > 0 {
		r.tail = (r.tail + uint32(n)) % r.size
		r.publishTail()
	}
	return n
}

// Peek copies up to len(p) bytes from the ring without consuming them.
func (r *Ring) Peek(p []byte) int {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.refreshHead()
	return r.copyOut(p)
}

// Skip discards n bytes from the ring. It fails when fewer than n bytes are
// available.
func (r *Ring) Skip(n uint32) error {

	r.lock.Lock()
	defer r.lock.Unlock()

	r.refreshHead()
	if n > r.used() {
		return fmt.Errorf("cannot skip %d bytes, only %d used", n, r.used())
	}

	r.tail = (r.tail + n) % r.size
	r.publishTail()
	return nil
}

// lock must be held
func (r *Ring) copyOut(p []byte) int {

	l := uint32(len(p))
	if used := r.used(); l > used {
		l = used
	}
	if l == 0 {
		return 0
	}

	if r.tail+l <= r.size {
		copy(p, r.buf[r.tail:r.tail+l])
	} else {
		chunk := r.size - r.tail
		copy(p, r.buf[r.tail:])
		copy(p[chunk:], r.buf[:l-chunk])
	}

	return int(l)
}

// lock must be held; one slot stays empty to tell full from empty
func (r *Ring) space() uint32 {
	if r.head >= r.tail {
		return r.size - (r.head - r.tail) - 1
	}
	return r.tail - r.head - 1
}

// lock must be held
func (r *Ring) used() uint32 {
	if r.head >= r.tail {
		return r.head - r.tail
	}
	return r.size - (r.tail - r.head)
}

//
func (r *Ring) refreshHead() {
	if r.regs != nil && r.regs.LoadHead != nil {
		r.head = r.regs.LoadHead() % r.size
	}
}

//
func (r *Ring) refreshTail() {
	if r.regs != nil && r.regs.LoadTail != nil {
		r.tail = r.regs.LoadTail() % r.size
	}
}

//
func (r *Ring) publishHead() {
	if r.regs != nil && r.regs.StoreHead != nil {
		r.regs.StoreHead(r.head)
	}
}

//
func (r *Ring) publishTail() {
	if r.regs != nil && r.regs.StoreTail != nil {
		r.regs.StoreTail(r.tail)
	}
}
