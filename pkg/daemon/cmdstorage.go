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
	log "github.com/sirupsen/logrus"

	"github.com/xelalexv/sparcpc/pkg/ipc"
	"github.com/xelalexv/sparcpc/pkg/storage"
)

/*
	Frames sent directly to the storage dispatcher carry canonical storage
	requests: the engine does the work, its response travels back verbatim
	inside a successful IPC response. Drive level failures are expressed by
	the storage status inside the payload, not by the IPC status: the
	message made it to the engine, so the exchange itself succeeded.
*/
func (d *Daemon) storage(payload []byte) (uint16, []byte) {

	req, err := storage.ParseRequest(payload)
	if err != nil {
		log.Debugf("bad storage request: %v", err)
		return ipc.StatusError, nil
	}

	return ipc.StatusSuccess, d.engine.Handle(req).Encode()
}
