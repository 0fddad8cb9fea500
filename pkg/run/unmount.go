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

package run

import (
	"fmt"
	"io"
	"os"
)

//
func NewUnmount() *Unmount {

	u := &Unmount{}
	u.Runner = *NewRunner(
		"unmount -m|--media {media} -s|--slot {slot}",
		"unmount the image from a drive slot",
		`
Use the unmount command to remove the image currently mounted in a drive
slot. Pending writes are flushed before the image is released.`,
		"", runnerHelpEpilogue, u.Run)

	u.AddBaseSettings()
	u.AddSetting(&u.Media, "media", "m", "", nil,
		"media type of the target slot: disk, floppy, or cdrom", true)
	u.AddSetting(&u.Slot, "slot", "s", "", 0,
		"slot index within the media type", false)

	return u
}

//
type Unmount struct {
	Runner
	//
	Media string
	Slot  int
}

//
func (u *Unmount) Run() error {

	if err := u.ParseSettings(); err != nil {
		return err
	}

	resp, err := u.apiCall("DELETE",
		fmt.Sprintf("/drive/%s/%d", u.Media, u.Slot), nil)
	if err != nil {
		return err
	}
	defer resp.Close()

	_, err = io.Copy(os.Stdout, resp)
	return err
}

//
func NewEject() *Eject {

	e := &Eject{}
	e.Runner = *NewRunner(
		"eject -m|--media {media} [-s|--slot {slot}]",
		"eject the medium from a removable drive",
		`
Use the eject command to eject the medium from a floppy or CD-ROM drive,
as if the eject button had been pressed. Hard disk slots cannot be ejected,
use unmount instead.`,
		"", runnerHelpEpilogue, e.Run)

	e.AddBaseSettings()
	e.AddSetting(&e.Media, "media", "m", "", nil,
		"media type of the target slot: floppy or cdrom", true)
	e.AddSetting(&e.Slot, "slot", "s", "", 0,
		"slot index within the media type", false)

	return e
}

//
type Eject struct {
	Runner
	//
	Media string
	Slot  int
}

//
func (e *Eject) Run() error {

	if err := e.ParseSettings(); err != nil {
		return err
	}

	resp, err := e.apiCall("PUT",
		fmt.Sprintf("/drive/%s/%d/eject", e.Media, e.Slot), nil)
	if err != nil {
		return err
	}
	defer resp.Close()

	_, err = io.Copy(os.Stdout, resp)
	return err
}
