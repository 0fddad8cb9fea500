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
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sparcpc/pkg/ipc"
	"github.com/xelalexv/sparcpc/pkg/storage"
)

//
const servePollInterval = time.Millisecond

/*
	Daemon is the host side of the bridge. It owns the card region, the
	message rings within it, the storage engine, and the channel registry,
	and runs the serve loop that answers guest requests.
*/
type Daemon struct {
	region   Region
	engine   *storage.Engine
	msgr     *ipc.Messenger
	channels *channelRegistry
	//
	version string
	stop    chan struct{}
	stopped chan struct{}
}

/*
	NewDaemon sets up a daemon over the given region. The command ring is
	written by the guest and drained here, the response ring the other way
	around; both mirror their indices through the scratchpad registers so
	either side can recover the ring state from the card alone.
*/
func NewDaemon(
	region Region, engine *storage.Engine, version string) (*Daemon, error) {

	shared := region.Shared()

	cmdRing, err := ipc.NewRing(
		shared[CmdRingOffset : CmdRingOffset+CmdRingSize])
	if err != nil {
		return nil, fmt.Errorf("cannot set up command ring: %w", err)
	}
	cmdRing.Bind(&ipc.IndexRegisters{
		LoadHead: func() uint32 {
			return region.ReadRegister(RegCmdHead)
		},
		StoreTail: func(v uint32) {
			region.WriteRegister(RegCmdTail, v)
		},
	})

	rspRing, err := ipc.NewRing(
		shared[RspRingOffset : RspRingOffset+RspRingSize])
	if err != nil {
		return nil, fmt.Errorf("cannot set up response ring: %w", err)
	}
	rspRing.Bind(&ipc.IndexRegisters{
		StoreHead: func(v uint32) {
			region.WriteRegister(RegRspHead, v)
		},
		LoadTail: func() uint32 {
			return region.ReadRegister(RegRspTail)
		},
	})

	d := &Daemon{
		region:   region,
		engine:   engine,
		channels: newChannelRegistry(),
		version:  version,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	d.msgr = ipc.NewMessenger(rspRing, cmdRing, func() {
		region.WriteRegister(RegSecDoorbell, BellRspReady)
	})

	return d, nil
}

//
func (d *Daemon) Engine() *storage.Engine {
	return d.engine
}

//
func (d *Daemon) Version() string {
	return d.version
}

/*
	Serve runs the daemon loop until Stop is called: acknowledge pending
	doorbells, service a guest reset if one is flagged, and drain and
	answer whatever frames have arrived on the command ring. Frames keep
	getting drained even without a doorbell, so a guest with broken
	interrupt delivery still makes progress.
*/
func (d *Daemon) Serve() {

	log.Info("daemon serving")
	defer close(d.stopped)

	for {
		select {
		case <-d.stop:
			log.Info("daemon stopping")
			return
		default:
		}

		if bells := d.pendingBells(); bells != 0 {
			d.region.WriteRegister(RegPriDoorbellClr, bells)
			if bells&BellReset != 0 {
				d.resetGuest()
			}
		}

		busy := false
		for f := d.msgr.Next(); f != nil; f = d.msgr.Next() {
			d.dispatch(f)
			busy = true
		}

		if !busy {
			time.Sleep(servePollInterval)
		}
	}
}

//
func (d *Daemon) Stop() {
	close(d.stop)
	<-d.stopped
}

//
func (d *Daemon) pendingBells() uint32 {
	return d.region.ReadRegister(RegPriDoorbell) &^
		d.region.ReadRegister(RegPriDoorbellMask)
}

// resetGuest services the reset doorbell: the guest rebooted, so its
// channels and any in-flight ring contents are void.
func (d *Daemon) resetGuest() {

	log.Warn("guest reset")

	d.channels.reset()

	// drop whatever is left on the rings
	for f := d.msgr.Next(); f != nil; f = d.msgr.Next() {
	}
}

/*
	notifyGuest pushes an unsolicited storage event at the guest, used when
	media is mounted, unmounted, or ejected from the host side, so the
	guest can revalidate the drive. Best effort: a full ring just drops
	the notification, the guest will notice the change on its next access.
*/
func (d *Daemon) notifyGuest(event uint32, drive uint32) {

	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, drive)

	if _, err := d.msgr.Send(ipc.DispStorage, uint16(event), p); err != nil {
		log.WithFields(log.Fields{
			"event": event, "drive": drive,
		}).Warnf("cannot notify guest: %v", err)
	}
}

// MountSlot mounts an image and tells the guest about it.
func (d *Daemon) MountSlot(
	s storage.Slot, path string, readonly, strict bool) error {

	if err := d.engine.MountSlot(s, path, readonly, strict); err != nil {
		return err
	}
	d.notifyGuest(storage.CmdMount, s.Drive())
	return nil
}

// UnmountSlot unmounts a slot and tells the guest about it.
func (d *Daemon) UnmountSlot(s storage.Slot) error {
	if err := d.engine.UnmountSlot(s); err != nil {
		return err
	}
	d.notifyGuest(storage.CmdUnmount, s.Drive())
	return nil
}

// EjectSlot is UnmountSlot with eject semantics towards the guest, only
// meaningful for removable media.
func (d *Daemon) EjectSlot(s storage.Slot) error {
	if s.Media == storage.MediaHardDisk {
		return fmt.Errorf("cannot eject hard disk slot %d", s.Index)
	}
	if err := d.engine.UnmountSlot(s); err != nil {
		return err
	}
	d.notifyGuest(storage.CmdEject, s.Drive())
	return nil
}
