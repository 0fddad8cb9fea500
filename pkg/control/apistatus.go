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

package control

import (
	"fmt"
	"net/http"
	"strings"
)

//
func (a *APIServer) status(w http.ResponseWriter, req *http.Request) {

	slots := a.daemon.Engine().Slots()

	if wantsJSON(req) {
		sendJSONReply(slots, http.StatusOK, w)
		return
	}

	var sb strings.Builder
	sb.WriteString("\n")
	for _, s := range slots {
		if s.Mounted {
			flags := ""
			if s.ReadOnly {
				flags += " ro"
			}
			if s.Unverified {
				flags += " unverified"
			}
			sb.WriteString(fmt.Sprintf("%-10s %-40s %10d sectors  %s%s\n",
				s.Slot, s.Path, s.Sectors, s.Geometry, flags))
		} else {
			sb.WriteString(fmt.Sprintf("%-10s <empty>\n", s.Slot))
		}
	}
	sendReply([]byte(sb.String()), http.StatusOK, w)
}

// list is status restricted to the mounted slots, the 'ls' of the
// command line client.
func (a *APIServer) list(w http.ResponseWriter, req *http.Request) {

	var mounted []interface{}
	var sb strings.Builder

	for _, s := range a.daemon.Engine().Slots() {
		if !s.Mounted {
			continue
		}
		mounted = append(mounted, s)
		sb.WriteString(fmt.Sprintf("%-10s %s\n", s.Slot, s.Path))
	}

	if wantsJSON(req) {
		sendJSONReply(mounted, http.StatusOK, w)
		return
	}
	sendReply([]byte(sb.String()), http.StatusOK, w)
}
