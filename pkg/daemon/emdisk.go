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

	"github.com/xelalexv/sparcpc/pkg/storage"
)

/*
	The NT emdisk protocol is what the guest's Windows block driver speaks
	over its storage channel. It predates the canonical request format and
	uses its own compact framing; the daemon translates between the two so
	the storage engine only ever sees canonical requests.
*/

// emdisk commands
const (
	emdiskRead      = 0x0A
	emdiskWrite     = 0x0B
	emdiskGetParams = 0x0C
	emdiskScsi      = 0x0F
	emdiskExtInfo   = 0x10
	emdiskMediaInfo = 0x11
)

// emdisk response types
const (
	emdiskRspTransfer  = 0x97
	emdiskRspParams    = 0x99
	emdiskRspScsi      = 0x9C
	emdiskRspExtInfo   = 0x9D
	emdiskRspMediaInfo = 0x9E
	emdiskRspError     = 0x9F
)

//
const (
	emdiskReqHeader = 5
	emdiskRspHeader = 8
	emdiskScsiTail  = 27
)

// emdisk drive numbers are small indices, not BIOS drive numbers
var emdiskDrives = map[byte]uint32{
	0: storage.DriveFloppyA,
	1: storage.DriveFloppyB,
	2: storage.DriveHD0,
	3: storage.DriveHD1,
	4: storage.DriveCDROM,
}

//
var ErrBadDiskRequest = fmt.Errorf("malformed emdisk request")

// DiskRequest is a translated emdisk request: the canonical request the
// engine runs, plus what is needed to phrase the reply in emdisk terms.
type DiskRequest struct {
	NTCommand byte
	DriveType byte
	Request   *storage.Request
}

/*
	TranslateDiskRequest parses an emdisk frame into a canonical storage
	request. The emdisk header is five bytes: drive type, command, payload
	size (big endian, in 32 bit words), drive number; the command-specific
	tail follows.
*/
func TranslateDiskRequest(p []byte) (*DiskRequest, error) {

	if len(p) < emdiskReqHeader {
		return nil, ErrBadDiskRequest
	}

	drive, ok := emdiskDrives[p[4]]
	if !ok {
		return nil, fmt.Errorf("%w: drive %d", ErrBadDiskRequest, p[4])
	}

	ret := &DiskRequest{
		NTCommand: p[1],
		DriveType: p[0],
		Request:   &storage.Request{Drive: drive},
	}

	tail := p[emdiskReqHeader:]

	switch ret.NTCommand {

	case emdiskRead, emdiskWrite:
		// the tail is lba:4, count:2, two bytes padding, then write data
		if len(tail) < 8 {
			return nil, ErrBadDiskRequest
		}
		ret.Request.LBA = uint64(binary.LittleEndian.Uint32(tail))
		ret.Request.Count = uint32(binary.LittleEndian.Uint16(tail[4:]))
		if ret.NTCommand == emdiskRead {
			ret.Request.Command = storage.CmdRead
		} else {
			ret.Request.Command = storage.CmdWrite
			want := int(ret.Request.Count) * storage.SectorSizeHD
			if len(tail) < 8+want {
				return nil, fmt.Errorf(
					"%w: write data truncated", ErrBadDiskRequest)
			}
			ret.Request.Data = tail[8 : 8+want]
		}

	case emdiskGetParams, emdiskExtInfo, emdiskMediaInfo:
		ret.Request.Command = storage.CmdGetParams

	case emdiskScsi:
		if len(tail) < emdiskScsiTail {
			return nil, ErrBadDiskRequest
		}
		sreq := &storage.ScsiRequest{
			CDBLength: uint32(tail[0]),
		}
		xferIn := binary.LittleEndian.Uint32(tail[3:])
		xferOut := binary.LittleEndian.Uint32(tail[7:])
		copy(sreq.CDB[:], tail[11:11+16])
		switch {
		case xferOut > 0:
			sreq.Direction = storage.ScsiDirWrite
			sreq.DataLen = xferOut
			if uint32(len(tail)-emdiskScsiTail) < xferOut {
				return nil, fmt.Errorf(
					"%w: scsi data truncated", ErrBadDiskRequest)
			}
			sreq.Data = tail[emdiskScsiTail : emdiskScsiTail+int(xferOut)]
		case xferIn > 0:
			sreq.Direction = storage.ScsiDirRead
			sreq.DataLen = xferIn
		}
		ret.Request.Command = storage.CmdScsi
		ret.Request.Data = sreq.Encode()

	default:
		return nil, fmt.Errorf(
			"%w: command 0x%02x", ErrBadDiskRequest, ret.NTCommand)
	}

	return ret, nil
}

/*
	BuildDiskResponse phrases an engine response in emdisk terms. The
	response header is eight bytes: original command, response type,
	payload size (big endian, in 32 bit words), error code, error detail,
	sector count, reserved. The canonical status code doubles as the
	emdisk error code, with unmapped failures reported as 0xBB.
*/
func BuildDiskResponse(req *DiskRequest, rsp *storage.Response) []byte {

	var kind byte
	var payload []byte

	if rsp.Status != storage.StatusOK {
		code := byte(rsp.Status)
		if rsp.Status > 0x07 && rsp.Status != storage.StatusNoMedia {
			code = storage.StatusUndefined
		}
		return encodeDiskResponse(req.NTCommand, emdiskRspError, code, 0, nil)
	}

	switch req.NTCommand {

	case emdiskRead, emdiskWrite:
		kind = emdiskRspTransfer
		payload = rsp.Data

	case emdiskGetParams:
		kind = emdiskRspParams
		payload = rsp.Data

	case emdiskExtInfo:
		kind = emdiskRspExtInfo
		payload = extInfoPayload(rsp.Data)

	case emdiskMediaInfo:
		kind = emdiskRspMediaInfo
		payload = mediaInfoPayload(rsp.Data)

	case emdiskScsi:
		// the NT layer only ever sees the raw transfer data; a failed
		// command degrades to the undefined error, the details stay in
		// the emulator's sense state
		srsp, err := storage.ParseScsiResponse(rsp.Data)
		if err != nil || srsp.Status != storage.ScsiGood {
			return encodeDiskResponse(req.NTCommand, emdiskRspScsi,
				storage.StatusUndefined, 0, nil)
		}
		return encodeDiskResponse(req.NTCommand, emdiskRspScsi, 0,
			byte(len(srsp.Data)/storage.SectorSizeHD), srsp.Data)
	}

	return encodeDiskResponse(req.NTCommand, kind, 0,
		byte(rsp.Count&0xFF), payload)
}

//
func encodeDiskResponse(
	cmd, kind, errCode, count byte, payload []byte) []byte {

	words := (len(payload) + 3) / 4
	p := make([]byte, emdiskRspHeader, emdiskRspHeader+len(payload))
	p[0] = cmd
	p[1] = kind
	p[2] = byte(words >> 8)
	p[3] = byte(words)
	p[4] = errCode
	if errCode != 0 {
		p[5] = errCode // detail mirrors the code
	}
	p[6] = count
	return append(p, payload...)
}

// EDD style extended drive info, derived from the canonical parameter
// block: flags, CHS geometry, 64 bit total sectors, sector size
func extInfoPayload(params []byte) []byte {

	pr, err := storage.ParseParams(params)
	if err != nil {
		return nil
	}

	p := make([]byte, 28)
	binary.LittleEndian.PutUint16(p, 26) // structure size
	binary.LittleEndian.PutUint16(p[2:], 0x0002)
	binary.LittleEndian.PutUint32(p[4:], pr.Cylinders)
	binary.LittleEndian.PutUint32(p[8:], pr.Heads)
	binary.LittleEndian.PutUint32(p[12:], pr.Sectors)
	binary.LittleEndian.PutUint64(p[16:], pr.TotalSectors)
	binary.LittleEndian.PutUint16(p[24:], uint16(pr.SectorSize))
	return p
}

// media type and presence flags, derived from the canonical parameter
// block; reaching this point at all means media is present
func mediaInfoPayload(params []byte) []byte {

	pr, err := storage.ParseParams(params)
	if err != nil {
		return nil
	}

	p := make([]byte, 8)
	binary.LittleEndian.PutUint32(p, pr.DriveType)
	binary.LittleEndian.PutUint32(p[4:], 1) // present
	return p
}
