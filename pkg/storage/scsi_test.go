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
	"bytes"
	"encoding/binary"
	"testing"
)

// newCDEngine mounts a 100 sector ISO image into the CD-ROM slot.
func newCDEngine(t *testing.T) *Engine {
	t.Helper()
	e := NewEngine()
	p := writeImage(t, 100*SectorSizeCDROM, map[int64][]byte{
		isoMagicOffset: []byte("CD001"),
	})
	if err := e.MountSlot(Slot{MediaCDROM, 0}, p, true, false); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(e.Shutdown)
	return e
}

func cdbReq(cdb ...byte) *ScsiRequest {
	req := &ScsiRequest{CDBLength: uint32(len(cdb))}
	copy(req.CDB[:], cdb)
	return req
}

func TestScsiTestUnitReady(t *testing.T) {

	e := newCDEngine(t)
	rsp := e.HandleSCSI(cdbReq(ScsiTestUnitReady))
	if rsp.Status != ScsiGood {
		t.Errorf("got status 0x%02x, want GOOD", rsp.Status)
	}

	// no medium
	e2 := NewEngine()
	rsp = e2.HandleSCSI(cdbReq(ScsiTestUnitReady))
	if rsp.Status != ScsiCheckCondition {
		t.Fatalf("got status 0x%02x, want CHECK CONDITION", rsp.Status)
	}
	if rsp.Sense[2] != SenseNotReady || rsp.Sense[12] != AscMediumNotPresent ||
		rsp.Sense[13] != 0x01 {
		t.Errorf("got sense %02x/%02x/%02x",
			rsp.Sense[2], rsp.Sense[12], rsp.Sense[13])
	}
}

func TestScsiInquiry(t *testing.T) {

	e := NewEngine() // INQUIRY works without medium
	rsp := e.HandleSCSI(cdbReq(ScsiInquiry))
	if rsp.Status != ScsiGood {
		t.Fatalf("got status 0x%02x", rsp.Status)
	}

	d := rsp.Data
	if len(d) != 36 {
		t.Fatalf("got %d bytes, want 36", len(d))
	}
	if d[0] != 0x05 {
		t.Errorf("got device type 0x%02x, want CD-ROM", d[0])
	}
	if d[1] != 0x80 {
		t.Error("removable bit not set")
	}
	if !bytes.Equal(d[8:16], []byte("SUN     ")) {
		t.Errorf("got vendor %q", d[8:16])
	}
	if !bytes.Equal(d[16:32], []byte("Virtual CDROM   ")) {
		t.Errorf("got product %q", d[16:32])
	}
}

func TestScsiReadCapacity(t *testing.T) {

	e := newCDEngine(t)
	rsp := e.HandleSCSI(cdbReq(ScsiReadCapacity))
	if rsp.Status != ScsiGood {
		t.Fatalf("got status 0x%02x", rsp.Status)
	}
	if len(rsp.Data) != 8 {
		t.Fatalf("got %d bytes, want 8", len(rsp.Data))
	}
	if got := binary.BigEndian.Uint32(rsp.Data); got != 99 {
		t.Errorf("got last LBA %d, want 99", got)
	}
	if got := binary.BigEndian.Uint32(rsp.Data[4:]); got != SectorSizeCDROM {
		t.Errorf("got block size %d, want %d", got, SectorSizeCDROM)
	}
}

func TestScsiRead10(t *testing.T) {

	e := newCDEngine(t)

	cdb := make([]byte, 10)
	cdb[0] = ScsiRead10
	binary.BigEndian.PutUint32(cdb[2:], 5) // LBA
	binary.BigEndian.PutUint16(cdb[7:], 3) // count

	rsp := e.HandleSCSI(cdbReq(cdb...))
	if rsp.Status != ScsiGood {
		t.Fatalf("got status 0x%02x", rsp.Status)
	}
	if len(rsp.Data) != 3*SectorSizeCDROM {
		t.Errorf("got %d bytes, want %d", len(rsp.Data), 3*SectorSizeCDROM)
	}
}

func TestScsiRead10OutOfRange(t *testing.T) {

	e := newCDEngine(t)

	cdb := make([]byte, 10)
	cdb[0] = ScsiRead10
	binary.BigEndian.PutUint32(cdb[2:], 99)
	binary.BigEndian.PutUint16(cdb[7:], 2) // crosses the end

	rsp := e.HandleSCSI(cdbReq(cdb...))
	if rsp.Status != ScsiCheckCondition {
		t.Fatalf("got status 0x%02x, want CHECK CONDITION", rsp.Status)
	}
	if rsp.Sense[2] != SenseIllegalRequest || rsp.Sense[12] != AscLBAOutOfRange {
		t.Errorf("got sense %02x/%02x", rsp.Sense[2], rsp.Sense[12])
	}

	// zero-length read at any LBA succeeds without touching the image
	cdb[7], cdb[8] = 0, 0
	if rsp = e.HandleSCSI(cdbReq(cdb...)); rsp.Status != ScsiGood {
		t.Errorf("zero-length read: got status 0x%02x", rsp.Status)
	}
}

func TestScsiRead10BufferCap(t *testing.T) {

	e := newCDEngine(t)

	// a two sector read into a one sector buffer transfers one sector
	cdb := make([]byte, 10)
	cdb[0] = ScsiRead10
	binary.BigEndian.PutUint16(cdb[7:], 2)

	req := cdbReq(cdb...)
	req.Direction = ScsiDirRead
	req.DataLen = SectorSizeCDROM

	rsp := e.HandleSCSI(req)
	if rsp.Status != ScsiGood {
		t.Fatalf("got status 0x%02x", rsp.Status)
	}
	if len(rsp.Data) != SectorSizeCDROM {
		t.Errorf("transfer = %d bytes, want %d", len(rsp.Data), SectorSizeCDROM)
	}

	// a buffer below one sector transfers nothing
	req.DataLen = 100
	rsp = e.HandleSCSI(req)
	if rsp.Status != ScsiGood || len(rsp.Data) != 0 {
		t.Errorf("got status 0x%02x, %d bytes", rsp.Status, len(rsp.Data))
	}
}

func TestScsiRequestSensePersistence(t *testing.T) {

	e := newCDEngine(t)

	// provoke an error
	cdb := make([]byte, 10)
	cdb[0] = ScsiRead10
	binary.BigEndian.PutUint32(cdb[2:], 200)
	binary.BigEndian.PutUint16(cdb[7:], 1)
	if rsp := e.HandleSCSI(cdbReq(cdb...)); rsp.Status != ScsiCheckCondition {
		t.Fatal("expected CHECK CONDITION")
	}

	// REQUEST SENSE returns the pending sense
	rsp := e.HandleSCSI(cdbReq(ScsiRequestSense))
	if rsp.Status != ScsiGood {
		t.Fatalf("got status 0x%02x", rsp.Status)
	}
	if rsp.Data[0] != 0x70 {
		t.Errorf("got response code 0x%02x, want 0x70", rsp.Data[0])
	}
	if rsp.Data[2] != SenseIllegalRequest || rsp.Data[12] != AscLBAOutOfRange {
		t.Errorf("got sense %02x/%02x", rsp.Data[2], rsp.Data[12])
	}

	// and clears it
	rsp = e.HandleSCSI(cdbReq(ScsiRequestSense))
	if rsp.Data[2] != 0 || rsp.Data[12] != 0 {
		t.Error("sense not cleared after REQUEST SENSE")
	}
}

func TestScsiSenseClearedByNextCommand(t *testing.T) {

	e := newCDEngine(t)

	cdb := make([]byte, 10)
	cdb[0] = ScsiRead10
	binary.BigEndian.PutUint32(cdb[2:], 200)
	binary.BigEndian.PutUint16(cdb[7:], 1)
	e.HandleSCSI(cdbReq(cdb...))

	// a successful command discards the pending sense
	e.HandleSCSI(cdbReq(ScsiTestUnitReady))

	rsp := e.HandleSCSI(cdbReq(ScsiRequestSense))
	if rsp.Data[2] != 0 {
		t.Errorf("got sense key 0x%02x, want NO SENSE", rsp.Data[2])
	}
}

func TestScsiReadTOC(t *testing.T) {

	e := newCDEngine(t)

	cdb := make([]byte, 10)
	cdb[0] = ScsiReadTOC
	rsp := e.HandleSCSI(cdbReq(cdb...))
	if rsp.Status != ScsiGood {
		t.Fatalf("got status 0x%02x", rsp.Status)
	}

	d := rsp.Data
	if len(d) != 20 {
		t.Fatalf("got %d bytes, want 20", len(d))
	}
	if binary.BigEndian.Uint16(d) != 18 {
		t.Errorf("got TOC data length %d, want 18", binary.BigEndian.Uint16(d))
	}
	if d[2] != 1 || d[3] != 1 {
		t.Errorf("got track range %d..%d, want 1..1", d[2], d[3])
	}
	if d[14] != 0xAA {
		t.Errorf("got lead-out track 0x%02x, want 0xAA", d[14])
	}
	if got := binary.BigEndian.Uint32(d[16:]); got != 100 {
		t.Errorf("got lead-out LBA %d, want 100", got)
	}

	// format 2 (full TOC) is served like format 0
	cdb[2] = 0x02
	if rsp = e.HandleSCSI(cdbReq(cdb...)); rsp.Status != ScsiGood {
		t.Errorf("format 2: got status 0x%02x", rsp.Status)
	}

	// any other format is an invalid field in the CDB
	cdb[2] = 0x05
	rsp = e.HandleSCSI(cdbReq(cdb...))
	if rsp.Status != ScsiCheckCondition {
		t.Fatalf("format 5: got status 0x%02x, want CHECK CONDITION",
			rsp.Status)
	}
	if rsp.Sense[2] != SenseIllegalRequest ||
		rsp.Sense[12] != AscInvalidFieldInCDB {
		t.Errorf("got sense %02x/%02x", rsp.Sense[2], rsp.Sense[12])
	}
}

func TestScsiModeSense(t *testing.T) {

	e := newCDEngine(t)

	// MODE SENSE(6), capabilities page
	rsp := e.HandleSCSI(cdbReq(ScsiModeSense6, 0, 0x2A))
	if rsp.Status != ScsiGood {
		t.Fatalf("got status 0x%02x", rsp.Status)
	}
	d := rsp.Data
	if len(d) != 24 {
		t.Fatalf("got %d bytes, want 24", len(d))
	}
	if d[2] != 0x80 {
		t.Error("write protect bit not set in mode header")
	}
	if d[4] != 0x2A || d[5] != 18 {
		t.Errorf("got page 0x%02x len %d", d[4], d[5])
	}
	if got := binary.BigEndian.Uint16(d[12:]); got != 0x1770 {
		t.Errorf("got max speed 0x%04x, want 0x1770", got)
	}

	// MODE SENSE(10) has the 8 byte header
	rsp = e.HandleSCSI(cdbReq(ScsiModeSense10, 0, 0x2A))
	if rsp.Status != ScsiGood {
		t.Fatalf("mode sense 10: got status 0x%02x", rsp.Status)
	}
	if len(rsp.Data) != 28 {
		t.Fatalf("mode sense 10: got %d bytes, want 28", len(rsp.Data))
	}
	if rsp.Data[8] != 0x2A {
		t.Errorf("mode sense 10: got page 0x%02x", rsp.Data[8])
	}

	// unsupported page
	rsp = e.HandleSCSI(cdbReq(ScsiModeSense6, 0, 0x01))
	if rsp.Status != ScsiCheckCondition ||
		rsp.Sense[12] != AscInvalidFieldInCDB {
		t.Error("unsupported page not rejected with INVALID FIELD IN CDB")
	}
}

func TestScsiUnsupportedOpcode(t *testing.T) {

	e := newCDEngine(t)
	rsp := e.HandleSCSI(cdbReq(0xFD))
	if rsp.Status != ScsiCheckCondition {
		t.Fatalf("got status 0x%02x", rsp.Status)
	}
	if rsp.Sense[2] != SenseIllegalRequest || rsp.Sense[12] != AscInvalidCommand {
		t.Errorf("got sense %02x/%02x", rsp.Sense[2], rsp.Sense[12])
	}
}

func TestScsiThroughStorageRequest(t *testing.T) {

	e := newCDEngine(t)

	sreq := cdbReq(ScsiTestUnitReady)
	rsp := e.Handle(&Request{
		Drive:   DriveCDROM,
		Command: CmdScsi,
		Data:    sreq.Encode(),
	})
	if rsp.Status != StatusOK {
		t.Fatalf("got storage status 0x%02x", rsp.Status)
	}

	srsp, err := ParseScsiResponse(rsp.Data)
	if err != nil {
		t.Fatal(err)
	}
	if srsp.Status != ScsiGood {
		t.Errorf("got scsi status 0x%02x", srsp.Status)
	}
}

func TestScsiRequestRoundTrip(t *testing.T) {

	orig := &ScsiRequest{
		CDBLength: 10,
		Direction: ScsiDirWrite,
		DataLen:   4,
		Data:      []byte{9, 8, 7, 6},
	}
	orig.CDB[0] = ScsiRead10

	got, err := ParseScsiRequest(orig.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if got.CDB != orig.CDB || got.CDBLength != orig.CDBLength ||
		got.Direction != orig.Direction || got.DataLen != orig.DataLen ||
		!bytes.Equal(got.Data, orig.Data) {
		t.Errorf("round trip mismatch: %+v != %+v", got, orig)
	}
}
