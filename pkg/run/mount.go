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
	"net/url"
	"os"
)

//
func NewMount() *Mount {

	m := &Mount{}
	m.Runner = *NewRunner(
		"mount -m|--media {media} -s|--slot {slot} -f|--file {image file} [flags]",
		"mount a disk image into a drive slot",
		`
Use the mount command to place a disk image into one of the guest's drive
slots. media is one of 'disk', 'floppy', or 'cdrom'. The image reference may
be an absolute path on the daemon host, a path relative to the daemon's
repository, or an http(s) URL. Compressed images (gz, zip, 7z) are unpacked
into the daemon's cache before mounting.`,
		"", runnerHelpEpilogue, m.Run)

	m.AddBaseSettings()
	m.AddSetting(&m.Media, "media", "m", "", nil,
		"media type of the target slot: disk, floppy, or cdrom", true)
	m.AddSetting(&m.Slot, "slot", "s", "", 0,
		"slot index within the media type", false)
	m.AddSetting(&m.File, "file", "f", "", nil,
		"image file to mount; path or URL, resolved on the daemon host", true)
	m.AddSetting(&m.ReadOnly, "readonly", "o", "", false,
		"mount the image write protected", false)
	m.AddSetting(&m.Strict, "strict", "", "", false,
		"reject images whose format cannot be verified", false)

	return m
}

//
type Mount struct {
	Runner
	//
	Media    string
	Slot     int
	File     string
	ReadOnly bool
	Strict   bool
}

//
func (m *Mount) Run() error {

	if err := m.ParseSettings(); err != nil {
		return err
	}

	path := fmt.Sprintf("/drive/%s/%d?ref=%s", m.Media, m.Slot,
		url.QueryEscape(m.File))
	if m.ReadOnly {
		path += "&readonly=true"
	}
	if m.Strict {
		path += "&strict=true"
	}

	resp, err := m.apiCall("PUT", path, nil)
	if err != nil {
		return err
	}
	defer resp.Close()

	_, err = io.Copy(os.Stdout, resp)
	return err
}
