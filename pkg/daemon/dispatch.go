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
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sparcpc/pkg/ipc"
)

/*
	dispatch routes one inbound frame and always answers it; a guest
	waiting on a sequence number must never be left hanging. Frames
	addressed to a channel id resolve through the registry to the
	channel's target dispatcher.
*/
func (d *Daemon) dispatch(f *ipc.Frame) {

	status, payload := d.route(f)

	if err := d.msgr.SendResponse(f.Header.Sequence, status, payload); err != nil {
		log.WithFields(log.Fields{
			"sequence": f.Header.Sequence,
			"status":   status,
		}).Errorf("cannot send response: %v", err)
	}
}

//
func (d *Daemon) route(f *ipc.Frame) (uint16, []byte) {

	disp := f.Header.Dispatcher

	if disp >= channelIDBase {
		c := d.channels.lookup(disp)
		if c == nil {
			log.Debugf("frame for unknown channel 0x%04x", disp)
			return ipc.StatusInvalidDisp, nil
		}
		return d.routeChannel(c, f)
	}

	switch disp {

	case ipc.DispCore:
		return d.core(f)

	case ipc.DispStorage:
		return d.storage(f.Payload)

	case ipc.DispVGA, ipc.DispVideo, ipc.DispAudio, ipc.DispNetwork,
		ipc.DispFSD, ipc.DispInput, ipc.DispClip:
		// addressable but not serviced by this daemon
		log.WithFields(log.Fields{
			"dispatcher": disp,
			"command":    fmt.Sprintf("0x%04x", f.Header.Command),
		}).Debug("command for unserviced dispatcher")
		return ipc.StatusInvalidCmd, nil

	default:
		return ipc.StatusInvalidDisp, nil
	}
}

// channel traffic arrives in the channel service's native protocol, for
// storage channels that is the NT emdisk format
func (d *Daemon) routeChannel(c *channel, f *ipc.Frame) (uint16, []byte) {

	switch c.dispatcher {

	case ipc.DispStorage:
		req, err := TranslateDiskRequest(f.Payload)
		if err != nil {
			log.Debugf("channel 0x%04x: %v", c.id, err)
			return ipc.StatusError, nil
		}
		return ipc.StatusSuccess, BuildDiskResponse(req, d.engine.Handle(req.Request))

	default:
		return ipc.StatusInvalidCmd, nil
	}
}
