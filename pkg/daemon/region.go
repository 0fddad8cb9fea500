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

package daemon

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// layout of the card's shared memory window
const (
	CmdRingOffset = 0x0
	CmdRingSize   = 0x10000
	RspRingOffset = 0x10000
	RspRingSize   = 0x10000
	BulkOffset    = 0x20000
	BulkSize      = 0x20000
	SharedSize    = 0x40000
)

// register offsets within the card's control window
const (
	RegPriDoorbell     = 0x58
	RegPriDoorbellClr  = 0x5C
	RegPriDoorbellMask = 0x60
	RegSecDoorbell     = 0x64
	RegSecDoorbellClr  = 0x68
	RegSecDoorbellMask = 0x6C
	//
	RegScratch0 = 0x80
	RegScratch1 = 0x84
	RegCmdHead  = 0x88
	RegCmdTail  = 0x8C
	RegRspHead  = 0x90
	RegRspTail  = 0x94
	RegScratch6 = 0x98
	RegScratch7 = 0x9C
	//
	RegWindowSize = 0x100
)

// doorbell bits; the guest rings the primary doorbell to reach the host,
// the host rings the secondary doorbell to reach the guest
const (
	BellCmdReady  = 1 << 0
	BellRspReady  = 1 << 1
	BellVGAUpdate = 1 << 2
	BellReset     = 1 << 7
)

// control window page followed by the shared memory window
const sharedFileOffset = 0x1000

/*
	Region is the daemon's view of the card: a word-addressed control
	window holding doorbells and scratchpad registers, and the shared
	memory window holding the message rings and the bulk buffer.

	Doorbell registers have set/clear semantics: writing the doorbell
	register ORs bits in, writing the matching clear register clears them.
	All other registers are plain storage.
*/
type Region interface {
	// Shared returns the full shared memory window.
	Shared() []byte
	//
	ReadRegister(off uint32) uint32
	WriteRegister(off, val uint32)
	//
	Close() error
}

// register file with doorbell set/clear behavior, shared by both region
// implementations; regs is a view into the mapped control window
type registerFile struct {
	lock sync.Mutex
	regs []byte
}

//
func (r *registerFile) ReadRegister(off uint32) uint32 {
	r.lock.Lock()
	defer r.lock.Unlock()
	return binary.LittleEndian.Uint32(r.regs[off:])
}

//
func (r *registerFile) WriteRegister(off, val uint32) {

	r.lock.Lock()
	defer r.lock.Unlock()

	switch off {

	case RegPriDoorbell, RegSecDoorbell:
		val |= binary.LittleEndian.Uint32(r.regs[off:])

	case RegPriDoorbellClr:
		val = binary.LittleEndian.Uint32(r.regs[RegPriDoorbell:]) &^ val
		off = RegPriDoorbell

	case RegSecDoorbellClr:
		val = binary.LittleEndian.Uint32(r.regs[RegSecDoorbell:]) &^ val
		off = RegSecDoorbell
	}

	binary.LittleEndian.PutUint32(r.regs[off:], val)
}

/*
	MemRegion is an in-process region. It backs loopback setups where host
	and guest side live in the same process, and the unit tests.
*/
type MemRegion struct {
	registerFile
	shared []byte
}

//
func NewMemRegion() *MemRegion {
	r := &MemRegion{shared: make([]byte, SharedSize)}
	r.regs = make([]byte, RegWindowSize)
	return r
}

//
func (r *MemRegion) Shared() []byte {
	return r.shared
}

//
func (r *MemRegion) Close() error {
	return nil
}

/*
	FileRegion maps the card windows from the bridge device file: the
	control window at offset 0, the shared memory window behind it. This
	is how the daemon attaches to the actual card, via the kernel driver's
	mmap interface.
*/
type FileRegion struct {
	registerFile
	file   *os.File
	mapped []byte
}

//
func OpenFileRegion(path string) (*FileRegion, error) {

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("cannot open bridge device '%s': %w", path, err)
	}

	m, err := unix.Mmap(int(f.Fd()), 0, sharedFileOffset+SharedSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("cannot map bridge device '%s': %w", path, err)
	}

	r := &FileRegion{file: f, mapped: m}
	r.regs = m[:RegWindowSize]
	return r, nil
}

//
func (r *FileRegion) Shared() []byte {
	return r.mapped[sharedFileOffset : sharedFileOffset+SharedSize]
}

//
func (r *FileRegion) Close() error {
	err := unix.Munmap(r.mapped)
	if e := r.file.Close(); err == nil {
		err = e
	}
	return err
}
