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

	log "github.com/sirupsen/logrus"
)

// SCSI opcodes understood by the CD-ROM emulation
const (
	ScsiTestUnitReady   = 0x00
	ScsiRequestSense    = 0x03
	ScsiInquiry         = 0x12
	ScsiModeSense6      = 0x1A
	ScsiPreventAllow    = 0x1E
	ScsiReadCapacity    = 0x25
	ScsiRead10          = 0x28
	ScsiSeek10          = 0x2B
	ScsiReadTOC         = 0x43
	ScsiGetConfig       = 0x46
	ScsiGetEventStatus  = 0x4A
	ScsiReadDiscInfo    = 0x51
	ScsiModeSense10     = 0x5A
	ScsiRead12          = 0xA8
	ScsiReadCD          = 0xBE
)

// SCSI status bytes
const (
	ScsiGood           = 0x00
	ScsiCheckCondition = 0x02
)

// sense keys
const (
	SenseNotReady       = 0x02
	SenseMediumError    = 0x03
	SenseIllegalRequest = 0x05
)

// additional sense codes
const (
	AscInvalidCommand    = 0x20
	AscLBAOutOfRange     = 0x21
	AscInvalidFieldInCDB = 0x24
	AscMediumNotPresent  = 0x3A
)

// data transfer directions on the SCSI pass-through
const (
	ScsiDirNone  = 0
	ScsiDirRead  = 1
	ScsiDirWrite = 2
)

const (
	senseLen = 18
	cdbLen   = 16
)

// ScsiRequest is a pass-through CDB plus transfer expectations.
type ScsiRequest struct {
	CDB       [cdbLen]byte
	CDBLength uint32
	Direction uint32
	DataLen   uint32
	Data      []byte // outbound data for write-direction commands
}

//
func ParseScsiRequest(p []byte) (*ScsiRequest, error) {
	if len(p) < scsiReqSize {
		return nil, ErrShortRequest
	}
	req := &ScsiRequest{}
	copy(req.CDB[:], p[:cdbLen])
	req.CDBLength = binary.LittleEndian.Uint32(p[16:])
	req.Direction = binary.LittleEndian.Uint32(p[20:])
	req.DataLen = binary.LittleEndian.Uint32(p[24:])
	if req.Direction == ScsiDirWrite {
		req.Data = p[scsiReqSize:]
	}
	return req, nil
}

//
func (r *ScsiRequest) Encode() []byte {
	p := make([]byte, scsiReqSize, scsiReqSize+len(r.Data))
	copy(p, r.CDB[:])
	binary.LittleEndian.PutUint32(p[16:], r.CDBLength)
	binary.LittleEndian.PutUint32(p[20:], r.Direction)
	binary.LittleEndian.PutUint32(p[24:], r.DataLen)
	return append(p, r.Data...)
}

// ScsiResponse carries completion status, sense, and inbound data.
type ScsiResponse struct {
	Status   uint8
	SenseLen uint8
	DataLen  uint32
	Sense    [senseLen]byte
	Data     []byte
}

//
func (r *ScsiResponse) Encode() []byte {
	p := make([]byte, scsiRspSize, scsiRspSize+len(r.Data))
	p[0] = r.Status
	p[1] = r.SenseLen
	binary.LittleEndian.PutUint32(p[4:], uint32(len(r.Data)))
	copy(p[8:], r.Sense[:])
	return append(p, r.Data...)
}

//
func ParseScsiResponse(p []byte) (*ScsiResponse, error) {
	if len(p) < scsiRspSize {
		return nil, ErrShortRequest
	}
	rsp := &ScsiResponse{
		Status:   p[0],
		SenseLen: p[1],
		DataLen:  binary.LittleEndian.Uint32(p[4:]),
	}
	copy(rsp.Sense[:], p[8:8+senseLen])
	rsp.Data = p[scsiRspSize:]
	return rsp, nil
}

// senseState remembers the sense data of the last failed command until
// REQUEST SENSE collects it.
type senseState struct {
	valid bool
	key   uint8
	asc   uint8
	ascq  uint8
}

// buildSense produces fixed-format sense data, descriptor format is not
// used by any guest driver we serve.
func buildSense(key, asc, ascq uint8) [senseLen]byte {
	var s [senseLen]byte
	s[0] = 0x70 // current error, fixed format
	s[2] = key
	s[7] = 10 // additional length
	s[12] = asc
	s[13] = ascq
	return s
}

//
func (e *Engine) failSCSI(key, asc, ascq uint8) *ScsiResponse {
	e.lock.Lock()
	e.sense = senseState{valid: true, key: key, asc: asc, ascq: ascq}
	e.lock.Unlock()
	return &ScsiResponse{
		Status:   ScsiCheckCondition,
		SenseLen: senseLen,
		Sense:    buildSense(key, asc, ascq),
	}
}

//
func (e *Engine) clearSense() {
	e.lock.Lock()
	e.sense = senseState{}
	e.lock.Unlock()
}

//
func scsiOK(data []byte) *ScsiResponse {
	return &ScsiResponse{Status: ScsiGood, Data: data}
}

/*
	HandleSCSI emulates a SCSI CD-ROM against the mounted ISO image. Only
	the command set the guest's CD driver actually issues is implemented;
	everything else fails with ILLEGAL REQUEST / INVALID COMMAND. Commands
	other than REQUEST SENSE clear any pending sense before executing.
*/
func (e *Engine) HandleSCSI(req *ScsiRequest) *ScsiResponse {

	cdb := req.CDB
	op := cdb[0]

	log.WithFields(log.Fields{
		"opcode": fmt.Sprintf("0x%02x", op),
		"length": req.CDBLength,
	}).Trace("scsi command")

	if op == ScsiRequestSense {
		return e.requestSense(req)
	}
	e.clearSense()

	d := e.Device(DriveCDROM)
	ready := d != nil && d.Mounted()

	// commands that work with no medium present
	switch op {
	case ScsiTestUnitReady:
		if !ready {
			return e.failSCSI(SenseNotReady, AscMediumNotPresent, 0x01)
		}
		return scsiOK(nil)
	case ScsiInquiry:
		return scsiOK(trim(inquiryData(), req.DataLen))
	case ScsiPreventAllow, ScsiSeek10:
		if !ready {
			return e.failSCSI(SenseNotReady, AscMediumNotPresent, 0x01)
		}
		if op == ScsiSeek10 {
			lba := binary.BigEndian.Uint32(cdb[2:])
			if uint64(lba) >= d.TotalSectors() {
				return e.failSCSI(SenseIllegalRequest, AscLBAOutOfRange, 0)
			}
		}
		return scsiOK(nil)
	case ScsiGetEventStatus:
		// no event notification support, report an empty event header
		hdr := []byte{0x00, 0x02, 0x00, cdb[4] & 0x7F}
		return scsiOK(trim(hdr, req.DataLen))
	}

	if !ready {
		return e.failSCSI(SenseNotReady, AscMediumNotPresent, 0x01)
	}

	switch op {

	case ScsiReadCapacity:
		p := make([]byte, 8)
		binary.BigEndian.PutUint32(p, uint32(d.TotalSectors()-1))
		binary.BigEndian.PutUint32(p[4:], SectorSizeCDROM)
		return scsiOK(p)

	case ScsiRead10:
		lba := uint64(binary.BigEndian.Uint32(cdb[2:]))
		count := uint32(binary.BigEndian.Uint16(cdb[7:]))
		return e.readCD(d, lba, count, req.DataLen)

	case ScsiRead12:
		lba := uint64(binary.BigEndian.Uint32(cdb[2:]))
		count := binary.BigEndian.Uint32(cdb[6:])
		return e.readCD(d, lba, count, req.DataLen)

	case ScsiReadCD:
		lba := uint64(binary.BigEndian.Uint32(cdb[2:]))
		count := uint32(cdb[6])<<16 | uint32(cdb[7])<<8 | uint32(cdb[8])
		// only cooked 2048-byte user data reads are supported
		return e.readCD(d, lba, count, req.DataLen)

	case ScsiReadTOC:
		format := cdb[2] & 0x0F
		if format != 0x00 && format != 0x02 {
			return e.failSCSI(SenseIllegalRequest, AscInvalidFieldInCDB, 0)
		}
		return scsiOK(trim(tocData(d.TotalSectors()), req.DataLen))

	case ScsiModeSense6:
		return e.modeSense(cdb[2]&0x3F, false, req.DataLen)

	case ScsiModeSense10:
		return e.modeSense(cdb[2]&0x3F, true, req.DataLen)

	case ScsiGetConfig:
		return scsiOK(trim(configData(), req.DataLen))

	case ScsiReadDiscInfo:
		return scsiOK(trim(discInfoData(d.TotalSectors()), req.DataLen))

	default:
		log.Debugf("unsupported scsi opcode 0x%02x", op)
		return e.failSCSI(SenseIllegalRequest, AscInvalidCommand, 0)
	}
}

//
func (e *Engine) requestSense(req *ScsiRequest) *ScsiResponse {

	e.lock.Lock()
	s := e.sense
	e.sense = senseState{}
	e.lock.Unlock()

	var data [senseLen]byte
	if s.valid {
		data = buildSense(s.key, s.asc, s.ascq)
	} else {
		data = buildSense(0, 0, 0) // NO SENSE
	}
	return scsiOK(trim(data[:], req.DataLen))
}

//
func (e *Engine) readCD(d *Device, lba uint64, count, alloc uint32) *ScsiResponse {
	if count == 0 {
		return scsiOK(nil)
	}
	if lba+uint64(count) > d.TotalSectors() {
		return e.failSCSI(SenseIllegalRequest, AscLBAOutOfRange, 0)
	}
	// the transfer never exceeds the caller's buffer; whole sectors only
	if alloc > 0 && count > alloc/SectorSizeCDROM {
		count = alloc / SectorSizeCDROM
		if count == 0 {
			return scsiOK(nil)
		}
	}
	data, err := d.ReadSectors(lba, count)
	if err != nil {
		log.Errorf("cdrom read failed: %v", err)
		return e.failSCSI(SenseMediumError, 0, 0)
	}
	return scsiOK(data)
}

//
func (e *Engine) modeSense(page uint8, ten bool, alloc uint32) *ScsiResponse {

	if page != 0x2A && page != 0x3F {
		return e.failSCSI(SenseIllegalRequest, AscInvalidFieldInCDB, 0)
	}

	body := capabilitiesPage()

	var p []byte
	if ten {
		p = make([]byte, 8, 8+len(body))
		binary.BigEndian.PutUint16(p, uint16(6+len(body)))
		p[2] = 0x05 // CD-ROM medium
		p[3] = 0x80 // write protected
	} else {
		p = make([]byte, 4, 4+len(body))
		p[0] = uint8(3 + len(body))
		p[1] = 0x05
		p[2] = 0x80
	}
	return scsiOK(trim(append(p, body...), alloc))
}

// CD/DVD capabilities and mechanical status page (0x2A)
func capabilitiesPage() []byte {
	p := make([]byte, 20)
	p[0] = 0x2A
	p[1] = 18
	p[2] = 0x3B // reads CD-R/RW, DVD-ROM
	p[3] = 0x00
	p[4] = 0x7F
	p[5] = 0x03
	p[6] = 0x29 // tray loader, eject, lock
	p[7] = 0x00
	binary.BigEndian.PutUint16(p[8:], 0x1770)  // max speed, kB/s
	binary.BigEndian.PutUint16(p[10:], 0x0001) // volume levels
	binary.BigEndian.PutUint16(p[12:], 0x0080) // buffer size, KB
	binary.BigEndian.PutUint16(p[14:], 0x1770) // current speed
	return p
}

//
func inquiryData() []byte {
	p := make([]byte, 36)
	p[0] = 0x05 // CD-ROM device
	p[1] = 0x80 // removable
	p[2] = 0x02 // SCSI-2
	p[3] = 0x02 // response data format
	p[4] = 31   // additional length
	copy(p[8:], "SUN     ")
	copy(p[16:], "Virtual CDROM   ")
	copy(p[32:], "1.0 ")
	return p
}

// single-track single-session TOC, format 0 and 2 look alike for us
func tocData(totalSectors uint64) []byte {
	p := make([]byte, 20)
	binary.BigEndian.PutUint16(p, 18) // data length
	p[2] = 1                          // first track
	p[3] = 1                          // last track
	// track 1 descriptor
	p[5] = 0x14 // ADR/Control: data track
	p[6] = 1
	// lead-out descriptor
	p[13] = 0x14
	p[14] = 0xAA
	binary.BigEndian.PutUint32(p[16:], uint32(totalSectors))
	return p
}

// minimal GET CONFIGURATION reply: CD-ROM profile, current
func configData() []byte {
	p := make([]byte, 12)
	binary.BigEndian.PutUint32(p, 8)          // data length
	binary.BigEndian.PutUint16(p[6:], 0x0008) // current profile: CD-ROM
	binary.BigEndian.PutUint16(p[8:], 0x0008)
	p[10] = 0x01 // current
	return p
}

// READ DISC INFORMATION for a finalized single-session disc
func discInfoData(totalSectors uint64) []byte {
	p := make([]byte, 34)
	binary.BigEndian.PutUint16(p, 32)
	p[2] = 0x0E // complete disc, complete session, finalized
	p[3] = 1    // first track
	p[4] = 1    // sessions
	p[5] = 1
	p[6] = 1
	binary.BigEndian.PutUint32(p[16:], uint32(totalSectors))
	return p
}

// trim applies the CDB's allocation length to generated data.
func trim(p []byte, alloc uint32) []byte {
	if alloc > 0 && uint32(len(p)) > alloc {
		return p[:alloc]
	}
	return p
}
