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

package storage

import (
	"encoding/binary"
	"fmt"
)

/*
	Canonical storage protocol, the BIOS disk service style wire format the
	DOS/Win9x guest drivers speak. Drive numbering follows INT 13h: floppies
	at 0x00/0x01, hard disks at 0x80/0x81, the CD-ROM at 0xE0.
*/

// drive numbers
const (
	DriveFloppyA = 0x00
	DriveFloppyB = 0x01
	DriveHD0     = 0x80
	DriveHD1     = 0x81
	DriveCDROM   = 0xE0
)

// storage commands
const (
	CmdRead      = 0x0001
	CmdWrite     = 0x0002
	CmdVerify    = 0x0003
	CmdFormat    = 0x0004
	CmdGetParams = 0x0005
	CmdGetType   = 0x0006
	CmdReset     = 0x0007
	CmdRecal     = 0x0008
	CmdSeek      = 0x0009
	CmdEject     = 0x000A
	CmdMount     = 0x000B
	CmdUnmount   = 0x000C
	CmdScsi      = 0x000D
)

// response status codes, INT 13h AH return values
const (
	StatusOK          = 0x00
	StatusBadCommand  = 0x01
	StatusNotFound    = 0x02
	StatusWriteProt   = 0x03
	StatusSectorNF    = 0x04
	StatusResetFail   = 0x05
	StatusMediaChange = 0x06
	StatusDriveParam  = 0x07
	StatusNoMedia     = 0xAA
	StatusUndefined   = 0xBB
)

// drive types as reported by GET_TYPE / GET_PARAMS
const (
	TypeNone      = 0
	TypeHardDisk  = 3
	TypeRemovable = 4
	TypeCDROM     = 5
)

//
const (
	requestSize  = 32
	responseSize = 8
	paramsSize   = 28
	scsiReqSize  = 28
	scsiRspSize  = 26
)

//
var ErrShortRequest = fmt.Errorf("truncated storage request")

/*
	Request is a canonical storage request. A zero LBA means the CHS fields
	are authoritative; a non-zero LBA takes precedence (extended
	addressing). Sector numbers are 1-based.
*/
type Request struct {
	Drive    uint32
	Command  uint32
	Cylinder uint32
	Head     uint32
	Sector   uint32
	Count    uint32
	LBA      uint64
	Data     []byte // sector data for writes
}

//
func ParseRequest(p []byte) (*Request, error) {

	if len(p) < requestSize {
		return nil, ErrShortRequest
	}

	r := &Request{
		Drive:    binary.LittleEndian.Uint32(p[0:]),
		Command:  binary.LittleEndian.Uint32(p[4:]),
		Cylinder: binary.LittleEndian.Uint32(p[8:]),
		Head:     binary.LittleEndian.Uint32(p[12:]),
		Sector:   binary.LittleEndian.Uint32(p[16:]),
		Count:    binary.LittleEndian.Uint32(p[20:]),
		LBA: uint64(binary.LittleEndian.Uint32(p[24:])) |
			uint64(binary.LittleEndian.Uint32(p[28:]))<<32,
	}

	if len(p) > requestSize {
		r.Data = p[requestSize:]
	}

	return r, nil
}

//
func (r *Request) Encode() []byte {

	p := make([]byte, requestSize+len(r.Data))
	binary.LittleEndian.PutUint32(p[0:], r.Drive)
	binary.LittleEndian.PutUint32(p[4:], r.Command)
	binary.LittleEndian.PutUint32(p[8:], r.Cylinder)
	binary.LittleEndian.PutUint32(p[12:], r.Head)
	binary.LittleEndian.PutUint32(p[16:], r.Sector)
	binary.LittleEndian.PutUint32(p[20:], r.Count)
	binary.LittleEndian.PutUint32(p[24:], uint32(r.LBA))
	binary.LittleEndian.PutUint32(p[28:], uint32(r.LBA>>32))
	copy(p[requestSize:], r.Data)
	return p
}

// Response is a canonical storage response: status, sectors transferred,
// and sector data for reads.
type Response struct {
	Status uint32
	Count  uint32
	Data   []byte
}

//
func (r *Response) Encode() []byte {
	p := make([]byte, responseSize+len(r.Data))
	binary.LittleEndian.PutUint32(p[0:], r.Status)
	binary.LittleEndian.PutUint32(p[4:], r.Count)
	copy(p[responseSize:], r.Data)
	return p
}

//
func ParseResponse(p []byte) (*Response, error) {

	if len(p) < responseSize {
		return nil, fmt.Errorf("truncated storage response")
	}

	r := &Response{
		Status: binary.LittleEndian.Uint32(p[0:]),
		Count:  binary.LittleEndian.Uint32(p[4:]),
	}
	if len(p) > responseSize {
		r.Data = p[responseSize:]
	}
	return r, nil
}

// Params is the GET_PARAMS payload: drive type, CHS geometry, 64 bit total
// sector count, sector size.
type Params struct {
	DriveType    uint32
	Cylinders    uint32
	Heads        uint32
	Sectors      uint32
	TotalSectors uint64
	SectorSize   uint32
}

//
func (p *Params) Encode() []byte {
	b := make([]byte, paramsSize)
	binary.LittleEndian.PutUint32(b[0:], p.DriveType)
	binary.LittleEndian.PutUint32(b[4:], p.Cylinders)
	binary.LittleEndian.PutUint32(b[8:], p.Heads)
	binary.LittleEndian.PutUint32(b[12:], p.Sectors)
	binary.LittleEndian.PutUint32(b[16:], uint32(p.TotalSectors))
	binary.LittleEndian.PutUint32(b[20:], uint32(p.TotalSectors>>32))
	binary.LittleEndian.PutUint32(b[24:], p.SectorSize)
	return b
}

//
func ParseParams(p []byte) (*Params, error) {

	if len(p) < paramsSize {
		return nil, fmt.Errorf("truncated drive parameters")
	}

	return &Params{
		DriveType: binary.LittleEndian.Uint32(p[0:]),
		Cylinders: binary.LittleEndian.Uint32(p[4:]),
		Heads:     binary.LittleEndian.Uint32(p[8:]),
		Sectors:   binary.LittleEndian.Uint32(p[12:]),
		TotalSectors: uint64(binary.LittleEndian.Uint32(p[16:])) |
			uint64(binary.LittleEndian.Uint32(p[20:]))<<32,
		SectorSize: binary.LittleEndian.Uint32(p[24:]),
	}, nil
}
