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
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// cap on sectors moved by a single READ/WRITE/VERIFY
const MaxSectorsPerIO = 128

/*
	Engine owns the drive slots of one device instance: two hard disks, two
	floppies, one CD-ROM. It services canonical storage requests and SCSI
	CDBs against whatever is mounted. Backing file errors never escape as
	such: they are mapped to the nearest legacy status code so the guest
	sees the failure semantics its drivers expect.
*/
type Engine struct {
	lock sync.Mutex
	//
	disks    [2]*Device
	floppies [2]*Device
	cdrom    *Device
	//
	sense senseState
}

//
func NewEngine() *Engine {
	return &Engine{}
}

// Slot identifies a drive slot for the mount/unmount control surface.
type Slot struct {
	Media Media
	Index int
}

//
func (s Slot) Drive() uint32 {
	switch s.Media {
	case MediaHardDisk:
		return DriveHD0 + uint32(s.Index)
	case MediaFloppy:
		return DriveFloppyA + uint32(s.Index)
	default:
		return DriveCDROM
	}
}

//
func (s Slot) String() string {
	if s.Media == MediaCDROM {
		return "cdrom"
	}
	return fmt.Sprintf("%s %d", s.Media, s.Index)
}

//
func (e *Engine) validSlot(s Slot) error {
	switch s.Media {
	case MediaHardDisk, MediaFloppy:
		if s.Index < 0 || s.Index > 1 {
			return fmt.Errorf("no %s slot %d", s.Media, s.Index)
		}
	case MediaCDROM:
		if s.Index != 0 {
			return fmt.Errorf("no cdrom slot %d", s.Index)
		}
	default:
		return fmt.Errorf("unknown media type %d", s.Media)
	}
	return nil
}

// MountSlot mounts an image into a drive slot, replacing whatever was
// mounted there before.
func (e *Engine) MountSlot(s Slot, path string, readonly, strict bool) error {

	if err := e.validSlot(s); err != nil {
		return err
	}

	d, err := Mount(path, s.Media, readonly, strict)
	if err != nil {
		return err
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	if old := e.slot(s); old != nil {
		old.Unmount()
	}
	e.setSlot(s, d)
	return nil
}

// UnmountSlot empties a drive slot. Unmounting an empty slot is an error.
func (e *Engine) UnmountSlot(s Slot) error {

	if err := e.validSlot(s); err != nil {
		return err
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	d := e.slot(s)
	if d == nil {
		return fmt.Errorf("nothing mounted in %s slot", s)
	}
	d.Unmount()
	e.setSlot(s, nil)
	return nil
}

// Shutdown unmounts everything.
func (e *Engine) Shutdown() {

	e.lock.Lock()
	defer e.lock.Unlock()

	for i, d := range e.disks {
		if d != nil {
			d.Unmount()
			e.disks[i] = nil
		}
	}
	for i, d := range e.floppies {
		if d != nil {
			d.Unmount()
			e.floppies[i] = nil
		}
	}
	if e.cdrom != nil {
		e.cdrom.Unmount()
		e.cdrom = nil
	}
}

// lock must be held
func (e *Engine) slot(s Slot) *Device {
	switch s.Media {
	case MediaHardDisk:
		return e.disks[s.Index]
	case MediaFloppy:
		return e.floppies[s.Index]
	default:
		return e.cdrom
	}
}

// lock must be held
func (e *Engine) setSlot(s Slot, d *Device) {
	switch s.Media {
	case MediaHardDisk:
		e.disks[s.Index] = d
	case MediaFloppy:
		e.floppies[s.Index] = d
	default:
		e.cdrom = d
	}
}

// Device resolves a drive number to its mounted device, nil when the slot
// is empty or the number is outside the known ranges.
func (e *Engine) Device(drive uint32) *Device {

	e.lock.Lock()
	defer e.lock.Unlock()

	switch {
	case drive <= DriveFloppyB:
		return e.floppies[drive]
	case drive >= DriveHD0 && drive <= DriveHD1:
		return e.disks[drive-DriveHD0]
	case drive == DriveCDROM:
		return e.cdrom
	}
	return nil
}

// SlotInfo describes one drive slot for the control surface.
type SlotInfo struct {
	Slot       string `json:"slot"`
	Drive      uint32 `json:"drive"`
	Path       string `json:"path,omitempty"`
	Mounted    bool   `json:"mounted"`
	ReadOnly   bool   `json:"readonly,omitempty"`
	Unverified bool   `json:"unverified,omitempty"`
	Sectors    uint64 `json:"sectors,omitempty"`
	Geometry   string `json:"geometry,omitempty"`
}

//
func (e *Engine) Slots() []SlotInfo {

	all := []Slot{
		{MediaFloppy, 0}, {MediaFloppy, 1},
		{MediaHardDisk, 0}, {MediaHardDisk, 1},
		{MediaCDROM, 0},
	}

	e.lock.Lock()
	defer e.lock.Unlock()

	ret := make([]SlotInfo, 0, len(all))
	for _, s := range all {
		info := SlotInfo{Slot: s.String(), Drive: s.Drive()}
		if d := e.slot(s); d != nil {
			c, h, sec := d.Geometry()
			info.Path = d.Path()
			info.Mounted = true
			info.ReadOnly = d.ReadOnly()
			info.Unverified = d.Unverified()
			info.Sectors = d.TotalSectors()
			info.Geometry = fmt.Sprintf("%d/%d/%d", c, h, sec)
		}
		ret = append(ret, info)
	}
	return ret
}

/*
	Handle services one canonical storage request. It always produces a
	response; failures are reported through the response status, never
	through an error, since anything the guest sends must be answered.
*/
func (e *Engine) Handle(req *Request) *Response {

	// SCSI pass-through reports missing media through sense data, so it
	// must run before the generic no-media check
	if req.Command == CmdScsi {
		sreq, err := ParseScsiRequest(req.Data)
		if err != nil {
			return &Response{Status: StatusBadCommand}
		}
		data := e.HandleSCSI(sreq).Encode()
		return &Response{Status: StatusOK, Count: uint32(len(data)), Data: data}
	}

	d := e.Device(req.Drive)
	if d == nil || !d.Mounted() {
		return &Response{Status: StatusNoMedia}
	}

	_, heads, spt := d.Geometry()

	lba := req.LBA
	if lba == 0 {
		lba = CHSToLBA(req.Cylinder, req.Head, req.Sector, heads, spt)
	}

	count := req.Count
	if count > MaxSectorsPerIO {
		count = MaxSectorsPerIO
	}

	switch req.Command {

	case CmdRead:
		data, err := d.ReadSectors(lba, count)
		if err != nil {
			return &Response{Status: ioStatus(err)}
		}
		return &Response{Status: StatusOK, Count: count, Data: data}

	case CmdWrite:
		if err := d.WriteSectors(lba, count, req.Data); err != nil {
			return &Response{Status: ioStatus(err)}
		}
		return &Response{Status: StatusOK, Count: count}

	case CmdVerify:
		if lba+uint64(count) > d.TotalSectors() {
			return &Response{Status: StatusSectorNF}
		}
		return &Response{Status: StatusOK, Count: count}

	case CmdSeek:
		if uint64(req.Cylinder) >= uint64(d.cylinders) {
			return &Response{Status: StatusSectorNF}
		}
		return &Response{Status: StatusOK}

	case CmdFormat, CmdReset, CmdRecal:
		// no-ops against image files
		return &Response{Status: StatusOK}

	case CmdEject:
		if req.Drive >= DriveHD0 && req.Drive <= DriveHD1 {
			return &Response{Status: StatusBadCommand}
		}
		s := Slot{Media: d.Media(), Index: int(req.Drive & 0x01)}
		if err := e.UnmountSlot(s); err != nil {
			return &Response{Status: StatusNoMedia}
		}
		return &Response{Status: StatusOK}

	case CmdGetParams:
		// the parameter block only distinguishes fixed from removable, the
		// finer grained type is GET_TYPE's business
		typ := uint32(TypeRemovable)
		if req.Drive >= DriveHD0 {
			typ = TypeHardDisk
		}
		params := Params{
			DriveType:    typ,
			Cylinders:    d.cylinders,
			Heads:        d.heads,
			Sectors:      d.sectors,
			TotalSectors: d.totalSectors,
			SectorSize:   d.sectorSize,
		}
		return &Response{
			Status: StatusOK,
			Count:  paramsSize,
			Data:   params.Encode(),
		}

	case CmdGetType:
		return &Response{Status: StatusOK, Count: driveType(req.Drive)}

	default:
		log.WithFields(log.Fields{
			"drive":   fmt.Sprintf("0x%02x", req.Drive),
			"command": fmt.Sprintf("0x%04x", req.Command),
		}).Debug("unknown storage command")
		return &Response{Status: StatusBadCommand}
	}
}

//
func driveType(drive uint32) uint32 {
	switch {
	case drive >= DriveCDROM:
		return TypeCDROM
	case drive >= DriveHD0:
		return TypeHardDisk
	default:
		return TypeRemovable
	}
}

// ioStatus maps a storage error onto the nearest legacy status code; raw
// host I/O errors degrade to "sector not found" rather than leaking
// through to the guest.
func ioStatus(err error) uint32 {
	switch err {
	case ErrNoMedia:
		return StatusNoMedia
	case ErrWriteProtected:
		return StatusWriteProt
	case ErrSectorNotFound:
		return StatusSectorNF
	default:
		log.Errorf("backing I/O error: %v", err)
		return StatusSectorNF
	}
}
