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
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sparcpc/pkg/ipc"
)

// core dispatcher commands
const (
	CoreInit          = 0x0001
	CoreShutdown      = 0x0002
	CorePing          = 0x0003
	CoreGetVersion    = 0x0004
	CoreChannelCreate = 0x0010
	CoreChannelDelete = 0x0011
)

//
const protocolVersion = 1

/*
	The core dispatcher is the guest's session control surface: handshake,
	liveness, version discovery, and channel management.
*/
func (d *Daemon) core(f *ipc.Frame) (uint16, []byte) {

	switch f.Header.Command {

	case CoreInit:
		return d.coreInit()

	case CoreShutdown:
		return d.coreShutdown()

	case CorePing:
		// echoes the payload, the guest uses this as a latency probe
		return ipc.StatusSuccess, f.Payload

	case CoreGetVersion:
		return ipc.StatusSuccess, []byte(d.version)

	case CoreChannelCreate:
		return d.channelCreate(f.Payload)

	case CoreChannelDelete:
		return d.channelDelete(f.Payload)

	default:
		log.Debugf("unknown core command 0x%04x", f.Header.Command)
		return ipc.StatusInvalidCmd, nil
	}
}

//
func (d *Daemon) coreInit() (uint16, []byte) {

	log.Info("guest session initialized")

	p := make([]byte, 4)
	binary.LittleEndian.PutUint32(p, protocolVersion)
	return ipc.StatusSuccess, p
}

// the guest is shutting down in an orderly fashion, unlike a reset this
// also clears persistent channels
func (d *Daemon) coreShutdown() (uint16, []byte) {

	log.Info("guest session shut down")

	d.channels.lock.Lock()
	for id := range d.channels.channels {
		delete(d.channels.channels, id)
	}
	d.channels.lock.Unlock()

	return ipc.StatusSuccess, nil
}

// payload: flags (4 bytes LE), service name (UTF-16LE, NUL terminated)
func (d *Daemon) channelCreate(p []byte) (uint16, []byte) {

	if len(p) < 6 {
		return ipc.StatusError, nil
	}

	flags := binary.LittleEndian.Uint32(p)
	name := decodeServiceName(p[4:])

	c, err := d.channels.create(name, flags)
	if err != nil {
		log.Debugf("channel create failed: %v", err)
		switch {
		case errors.Is(err, ErrChannelExclusive), errors.Is(err, ErrChannelLimit):
			return ipc.StatusBusy, nil
		default:
			return ipc.StatusError, nil
		}
	}

	ret := make([]byte, 4)
	binary.LittleEndian.PutUint32(ret, uint32(c.id))
	return ipc.StatusSuccess, ret
}

// payload: channel id (4 bytes LE)
func (d *Daemon) channelDelete(p []byte) (uint16, []byte) {

	if len(p) < 4 {
		return ipc.StatusError, nil
	}

	id := uint16(binary.LittleEndian.Uint32(p))
	if err := d.channels.delete(id); err != nil {
		log.Debugf("channel delete failed: %v", err)
		return ipc.StatusError, nil
	}
	return ipc.StatusSuccess, nil
}
