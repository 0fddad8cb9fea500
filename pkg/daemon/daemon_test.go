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
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xelalexv/sparcpc/pkg/ipc"
	"github.com/xelalexv/sparcpc/pkg/storage"
)

//
const testTimeout = 2 * time.Second

/*
	guestLink builds the guest's view of the rings over the same region the
	daemon serves: it writes the command ring and drains the response ring,
	with the index registers bound the opposite way around.
*/
func guestLink(t *testing.T, region Region) *ipc.Messenger {

	t.Helper()
	shared := region.Shared()

	cmdRing, err := ipc.NewRing(
		shared[CmdRingOffset : CmdRingOffset+CmdRingSize])
	if err != nil {
		t.Fatal(err)
	}
	cmdRing.Bind(&ipc.IndexRegisters{
		StoreHead: func(v uint32) {
			region.WriteRegister(RegCmdHead, v)
		},
		LoadTail: func() uint32 {
			return region.ReadRegister(RegCmdTail)
		},
	})

	rspRing, err := ipc.NewRing(
		shared[RspRingOffset : RspRingOffset+RspRingSize])
	if err != nil {
		t.Fatal(err)
	}
	rspRing.Bind(&ipc.IndexRegisters{
		LoadHead: func() uint32 {
			return region.ReadRegister(RegRspHead)
		},
		StoreTail: func(v uint32) {
			region.WriteRegister(RegRspTail, v)
		},
	})

	return ipc.NewMessenger(cmdRing, rspRing, func() {
		region.WriteRegister(RegPriDoorbell, BellCmdReady)
	})
}

// newTestDaemon starts a serving daemon over an in-memory region and
// returns the guest side link to it.
func newTestDaemon(t *testing.T) (*Daemon, *ipc.Messenger) {

	t.Helper()
	region := NewMemRegion()

	d, err := NewDaemon(region, storage.NewEngine(), "test")
	if err != nil {
		t.Fatal(err)
	}

	go d.Serve()
	t.Cleanup(d.Stop)
	t.Cleanup(d.engine.Shutdown)

	return d, guestLink(t, region)
}

// testImage creates an MBR-signed disk image.
func testImage(t *testing.T, size int64) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "disk.img")
	data := make([]byte, size)
	data[510], data[511] = 0x55, 0xAA
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCorePing(t *testing.T) {

	_, guest := newTestDaemon(t)

	probe := []byte{1, 2, 3, 4, 5}
	rsp, err := guest.Transact(ipc.DispCore, CorePing, probe, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if !rsp.Ok() {
		t.Fatalf("got status 0x%04x", rsp.Status)
	}
	if !bytes.Equal(rsp.Payload, probe) {
		t.Error("ping did not echo payload")
	}
}

func TestCoreGetVersion(t *testing.T) {

	_, guest := newTestDaemon(t)

	rsp, err := guest.Transact(ipc.DispCore, CoreGetVersion, nil, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if !rsp.Ok() || string(rsp.Payload) != "test" {
		t.Errorf("got status 0x%04x payload %q", rsp.Status, rsp.Payload)
	}
}

func TestCoreInit(t *testing.T) {

	_, guest := newTestDaemon(t)

	rsp, err := guest.Transact(ipc.DispCore, CoreInit, nil, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if !rsp.Ok() {
		t.Fatalf("got status 0x%04x", rsp.Status)
	}
	if binary.LittleEndian.Uint32(rsp.Payload) != protocolVersion {
		t.Error("init did not report protocol version")
	}
}

func TestCoreUnknownCommand(t *testing.T) {

	_, guest := newTestDaemon(t)

	rsp, err := guest.Transact(ipc.DispCore, 0x7777, nil, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if rsp.Status != ipc.StatusInvalidCmd {
		t.Errorf("got status 0x%04x, want INVALID_CMD", rsp.Status)
	}
}

func TestDispatcherRouting(t *testing.T) {

	_, guest := newTestDaemon(t)

	// in range but not serviced here
	rsp, err := guest.Transact(ipc.DispVGA, 1, nil, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if rsp.Status != ipc.StatusInvalidCmd {
		t.Errorf("VGA: got status 0x%04x, want INVALID_CMD", rsp.Status)
	}

	// out of range
	rsp, err = guest.Transact(ipc.DispMax+3, 1, nil, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if rsp.Status != ipc.StatusInvalidDisp {
		t.Errorf("got status 0x%04x, want INVALID_DISP", rsp.Status)
	}
}

func TestStorageRoundTrip(t *testing.T) {

	d, guest := newTestDaemon(t)

	if err := d.engine.MountSlot(
		storage.Slot{Media: storage.MediaHardDisk, Index: 0},
		testImage(t, 1024*1024), false, false); err != nil {
		t.Fatal(err)
	}

	want := bytes.Repeat([]byte{0x77}, storage.SectorSizeHD)
	wr := &storage.Request{
		Drive:   storage.DriveHD0,
		Command: storage.CmdWrite,
		Count:   1,
		LBA:     5,
		Data:    want,
	}
	rsp, err := guest.Transact(
		ipc.DispStorage, 0, wr.Encode(), testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if !rsp.Ok() {
		t.Fatalf("write: got ipc status 0x%04x", rsp.Status)
	}

	rd := &storage.Request{
		Drive:   storage.DriveHD0,
		Command: storage.CmdRead,
		Count:   1,
		LBA:     5,
	}
	rsp, err = guest.Transact(ipc.DispStorage, 0, rd.Encode(), testTimeout)
	if err != nil {
		t.Fatal(err)
	}

	srsp, err := storage.ParseResponse(rsp.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if srsp.Status != storage.StatusOK {
		t.Fatalf("read: got storage status 0x%02x", srsp.Status)
	}
	if !bytes.Equal(srsp.Data, want) {
		t.Error("read back data differs from written data")
	}
}

// channelCreatePayload builds a CHANNEL_CREATE payload.
func channelCreatePayload(name string, flags uint32) []byte {
	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, flags)
	return append(p, encodeServiceName(name)...)
}

func TestChannelLifecycleOverWire(t *testing.T) {

	d, guest := newTestDaemon(t)

	if err := d.engine.MountSlot(
		storage.Slot{Media: storage.MediaHardDisk, Index: 0},
		testImage(t, 1024*1024), false, false); err != nil {
		t.Fatal(err)
	}

	// open a storage channel
	rsp, err := guest.Transact(ipc.DispCore, CoreChannelCreate,
		channelCreatePayload("NewInt13Dispatcher", 0), testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if !rsp.Ok() {
		t.Fatalf("create: got status 0x%04x", rsp.Status)
	}
	id := uint16(binary.LittleEndian.Uint32(rsp.Payload))

	// issue an emdisk read through the channel
	tail := make([]byte, 8)
	binary.LittleEndian.PutUint32(tail, 0)
	binary.LittleEndian.PutUint16(tail[4:], 1)
	rsp, err = guest.Transact(
		id, 0, emdiskFrame(emdiskRead, 2, tail), testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if !rsp.Ok() {
		t.Fatalf("emdisk read: got status 0x%04x", rsp.Status)
	}
	if rsp.Payload[1] != emdiskRspTransfer {
		t.Errorf("got response type 0x%02x, want 0x97", rsp.Payload[1])
	}
	if len(rsp.Payload) != emdiskRspHeader+storage.SectorSizeHD {
		t.Errorf("got %d payload bytes", len(rsp.Payload))
	}

	// delete the channel, frames to it then bounce
	del := make([]byte, 4)
	binary.LittleEndian.PutUint32(del, uint32(id))
	rsp, err = guest.Transact(ipc.DispCore, CoreChannelDelete, del, testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if !rsp.Ok() {
		t.Fatalf("delete: got status 0x%04x", rsp.Status)
	}

	rsp, err = guest.Transact(
		id, 0, emdiskFrame(emdiskRead, 2, tail), testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	if rsp.Status != ipc.StatusInvalidDisp {
		t.Errorf("after delete: got status 0x%04x, want INVALID_DISP",
			rsp.Status)
	}
}

func TestGuestResetClearsChannels(t *testing.T) {

	d, guest := newTestDaemon(t)

	rsp, err := guest.Transact(ipc.DispCore, CoreChannelCreate,
		channelCreatePayload("NewInt13Dispatcher", 0), testTimeout)
	if err != nil {
		t.Fatal(err)
	}
	id := uint16(binary.LittleEndian.Uint32(rsp.Payload))

	d.region.WriteRegister(RegPriDoorbell, BellReset)

	// wait for the serve loop to pick up the reset
	deadline := time.Now().Add(testTimeout)
	for d.channels.lookup(id) != nil {
		if time.Now().After(deadline) {
			t.Fatal("channel not cleared by guest reset")
		}
		time.Sleep(time.Millisecond)
	}

	if d.region.ReadRegister(RegPriDoorbell)&BellReset != 0 {
		t.Error("reset doorbell not acknowledged")
	}
}

func TestMountNotifiesGuest(t *testing.T) {

	d, guest := newTestDaemon(t)

	slot := storage.Slot{Media: storage.MediaHardDisk, Index: 0}
	if err := d.MountSlot(slot, testImage(t, 1024*1024), false, false); err != nil {
		t.Fatal(err)
	}

	var f *ipc.Frame
	deadline := time.Now().Add(testTimeout)
	for f = guest.Next(); f == nil; f = guest.Next() {
		if time.Now().After(deadline) {
			t.Fatal("no mount notification received")
		}
		time.Sleep(time.Millisecond)
	}

	if f.Header.Dispatcher != ipc.DispStorage {
		t.Errorf("got dispatcher %d", f.Header.Dispatcher)
	}
	if f.Header.Command != storage.CmdMount {
		t.Errorf("got command 0x%04x, want MOUNT", f.Header.Command)
	}
	if binary.LittleEndian.Uint32(f.Payload) != storage.DriveHD0 {
		t.Errorf("got drive 0x%02x", binary.LittleEndian.Uint32(f.Payload))
	}

	if err := d.EjectSlot(slot); err == nil {
		t.Error("ejecting a hard disk slot did not fail")
	}
}
