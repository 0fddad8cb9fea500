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
	"fmt"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

//
type Media int

//
const (
	MediaHardDisk Media = iota
	MediaFloppy
	MediaCDROM
)

//
func (m Media) String() string {
	switch m {
	case MediaHardDisk:
		return "hard disk"
	case MediaFloppy:
		return "floppy"
	case MediaCDROM:
		return "cdrom"
	}
	return "unknown"
}

//
const (
	SectorSizeHD     = 512
	SectorSizeFloppy = 512
	SectorSizeCDROM  = 2048
)

// native disk image magic, "SPCI" at offset 12
const (
	diskMagic       = 0x53504349
	diskMagicOffset = 12
)

// ISO 9660 volume descriptor signature, sector 16, offset 1
const (
	isoMagicOffset = 16*SectorSizeCDROM + 1
)

var isoMagic = []byte("CD001")

// standard raw floppy image sizes, 160 KB through 2.88 MB
var floppySizes = []int64{
	163840,  // 160 KB - 5.25" SS/DD
	184320,  // 180 KB - 5.25" SS/DD
	327680,  // 320 KB - 5.25" DS/DD
	368640,  // 360 KB - 5.25" DS/DD
	737280,  // 720 KB - 3.5" DD
	1228800, // 1.2 MB - 5.25" HD
	1474560, // 1.44 MB - 3.5" HD
	2949120, // 2.88 MB - 3.5" ED
}

//
var ErrInvalidFormat = fmt.Errorf("invalid image format")
var ErrNoMedia = fmt.Errorf("no media mounted")
var ErrSectorNotFound = fmt.Errorf("sector out of range")
var ErrWriteProtected = fmt.Errorf("media is write protected")

/*
	Device is one mounted media image. It is created by Mount, which
	validates the backing file according to the media type, and owns the
	backing file until Unmount. Reads and writes against the backing file
	are serialized per device.
*/
type Device struct {
	lock sync.Mutex
	//
	file *os.File
	path string
	//
	media        Media
	size         int64
	sectorSize   uint32
	cylinders    uint32
	heads        uint32
	sectors      uint32
	totalSectors uint64
	readonly     bool
	mounted      bool
	unverified   bool
}

/*
	Mount opens and validates a media image. Validation depends on the
	media type:

	  - hard disk: native image magic at offset 12, or an MBR boot
	    signature at offset 510; images with neither still mount with a
	    warning unless strict is set. This permissive fallback is a
	    compatibility behavior carried over from the original host
	    software, raw images without a partition table are common.
	  - floppy: the file size must exactly match one of the standard raw
	    floppy capacities.
	  - CD-ROM: the ISO 9660 signature must be present in sector 16.
	    CD-ROM devices always mount read-only.
*/
func Mount(path string, media Media, readonly, strict bool) (*Device, error) {

	if media == MediaCDROM {
		readonly = true
	}

	flags := os.O_RDWR
	if readonly {
		flags = os.O_RDONLY
	}

	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	d := &Device{
		file:     f,
		path:     path,
		media:    media,
		size:     info.Size(),
		readonly: readonly,
	}

	switch media {

	case MediaHardDisk:
		d.sectorSize = SectorSizeHD
		if err = d.validateHardDisk(strict); err != nil {
			f.Close()
			return nil, err
		}

	case MediaFloppy:
		d.sectorSize = SectorSizeFloppy
		if err = d.validateFloppy(); err != nil {
			f.Close()
			return nil, err
		}

	case MediaCDROM:
		d.sectorSize = SectorSizeCDROM
		if err = d.validateISO(); err != nil {
			f.Close()
			return nil, err
		}
	}

	d.totalSectors = uint64(d.size) / uint64(d.sectorSize)

	if media == MediaFloppy {
		d.cylinders, d.heads, d.sectors = floppyGeometry(d.size)
	} else {
		d.cylinders, d.heads, d.sectors = diskGeometry(
			d.totalSectors, d.sectorSize)
	}

	d.mounted = true

	log.WithFields(log.Fields{
		"path":     path,
		"media":    media.String(),
		"sectors":  d.totalSectors,
		"geometry": fmt.Sprintf("%d/%d/%d", d.cylinders, d.heads, d.sectors),
		"readonly": readonly}).Info("media mounted")

	return d, nil
}

//
func (d *Device) validateHardDisk(strict bool) error {

	if d.size < SectorSizeHD {
		return fmt.Errorf("%w: image smaller than one sector", ErrInvalidFormat)
	}

	buf := make([]byte, 16)
	if _, err := d.file.ReadAt(buf, 0); err != nil {
		return err
	}
	if binary.LittleEndian.Uint32(buf[diskMagicOffset:]) == diskMagic {
		return nil
	}

	sig := make([]byte, 2)
	if _, err := d.file.ReadAt(sig, 510); err == nil &&
		sig[0] == 0x55 && sig[1] == 0xAA {
		return nil
	}

	if strict {
		return fmt.Errorf(
			"%w: no native magic or MBR signature in '%s'",
			ErrInvalidFormat, d.path)
	}

	log.Warnf(
		"disk image '%s' has no native magic or MBR signature, mounting anyway",
		d.path)
	d.unverified = true
	return nil
}

//
func (d *Device) validateFloppy() error {

	for _, s := range floppySizes {
		if d.size == s {
			return nil
		}
	}
	return fmt.Errorf(
		"%w: %d bytes is not a standard floppy size", ErrInvalidFormat, d.size)
}

//
func (d *Device) validateISO() error {

	if d.size < 17*SectorSizeCDROM {
		return fmt.Errorf(
			"%w: image too small for ISO 9660", ErrInvalidFormat)
	}

	sig := make([]byte, len(isoMagic))
	if _, err := d.file.ReadAt(sig, isoMagicOffset); err != nil {
		return err
	}
	if !bytes.Equal(sig, isoMagic) {
		return fmt.Errorf(
			"%w: no ISO 9660 signature in '%s'", ErrInvalidFormat, d.path)
	}
	return nil
}

// Unmount closes the backing file. The device cannot be used afterwards.
func (d *Device) Unmount() {

	d.lock.Lock()
	defer d.lock.Unlock()

	if d.file != nil {
		d.file.Close()
		d.file = nil
	}
	d.mounted = false

	log.WithFields(log.Fields{
		"path": d.path, "media": d.media.String()}).Info("media unmounted")
}

//
func (d *Device) Mounted() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.mounted
}

//
func (d *Device) ReadOnly() bool {
	return d.readonly
}

// Unverified reports whether the image mounted through the permissive
// hard disk fallback, i.e. carries neither the native magic nor an MBR
// signature.
func (d *Device) Unverified() bool {
	return d.unverified
}

//
func (d *Device) Path() string {
	return d.path
}

//
func (d *Device) Media() Media {
	return d.media
}

//
func (d *Device) SectorSize() uint32 {
	return d.sectorSize
}

//
func (d *Device) TotalSectors() uint64 {
	return d.totalSectors
}

// Geometry returns cylinders, heads, and sectors per track.
func (d *Device) Geometry() (uint32, uint32, uint32) {
	return d.cylinders, d.heads, d.sectors
}

// ReadSectors reads count sectors starting at lba from the backing image.
func (d *Device) ReadSectors(lba uint64, count uint32) ([]byte, error) {

	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.mounted {
		return nil, ErrNoMedia
	}
	if lba+uint64(count) > d.totalSectors {
		return nil, ErrSectorNotFound
	}

	buf := make([]byte, uint64(count)*uint64(d.sectorSize))
	if _, err := d.file.ReadAt(buf, int64(lba)*int64(d.sectorSize)); err != nil {
		return nil, fmt.Errorf("backing read failed: %v", err)
	}
	return buf, nil
}

// WriteSectors writes count sectors starting at lba to the backing image.
func (d *Device) WriteSectors(lba uint64, count uint32, data []byte) error {

	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.mounted {
		return ErrNoMedia
	}
	if d.readonly {
		return ErrWriteProtected
	}
	if lba+uint64(count) > d.totalSectors {
		return ErrSectorNotFound
	}

	want := uint64(count) * uint64(d.sectorSize)
	if uint64(len(data)) < want {
		return fmt.Errorf("short write data: want %d bytes, got %d",
			want, len(data))
	}

	if _, err := d.file.WriteAt(
		data[:want], int64(lba)*int64(d.sectorSize)); err != nil {
		return fmt.Errorf("backing write failed: %v", err)
	}
	return nil
}
